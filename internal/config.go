package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/folio/internal/markdown"
	"github.com/starford/folio/internal/postservice"
	"github.com/starford/folio/internal/rendercache"
	"github.com/starford/folio/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Content ContentConfig     `yaml:"content"`
	Render  RenderConfig      `yaml:"render"`
	Cache   CacheConfig       `yaml:"cache"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Content.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ContentConfig describes where posts live and how the collection is kept.
type ContentConfig struct {
	Path            string        `yaml:"path"`
	Extensions      []string      `yaml:"extensions"`
	Recursive       bool          `yaml:"recursive"`
	DuplicatePolicy string        `yaml:"duplicate_policy"`
	Memoize         bool          `yaml:"memoize"`
	Watch           bool          `yaml:"watch"`
	ReloadCron      string        `yaml:"reload_cron"`
	RenderTimeout   time.Duration `yaml:"render_timeout"`
	Concurrency     int           `yaml:"concurrency"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = postservice.DuplicateError
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extensions, validation.Each(validation.Required, validation.Length(1, 16))),
		validation.Field(&c.DuplicatePolicy, validation.In(postservice.DuplicateError, postservice.DuplicateLastWins)),
		validation.Field(&c.RenderTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Concurrency, validation.Min(0)),
	)
}

// FSOptions returns the storage options for this section.
func (c *ContentConfig) FSOptions() []storage.FSOption {
	opts := []storage.FSOption{storage.WithRecursive(c.Recursive)}
	if len(c.Extensions) > 0 {
		opts = append(opts, storage.WithExtensions(c.Extensions...))
	}
	return opts
}

// ServiceOptions returns the collection options for this section.
func (c *ContentConfig) ServiceOptions() []postservice.Option {
	opts := []postservice.Option{
		postservice.WithDuplicatePolicy(c.DuplicatePolicy),
		postservice.WithMemoize(c.Memoize),
		postservice.WithRenderTimeout(c.RenderTimeout),
	}
	if c.Concurrency > 0 {
		opts = append(opts, postservice.WithConcurrency(c.Concurrency))
	}
	return opts
}

// RenderConfig controls markdown rendering and code highlighting.
//
// TrustedHTML lets raw HTML in posts through unchanged. Turn it off when
// posts can come from anyone but the site owner.
type RenderConfig struct {
	Style       string `yaml:"style"`
	WithClasses bool   `yaml:"with_classes"`
	LineNumbers bool   `yaml:"line_numbers"`
	TabWidth    int    `yaml:"tab_width"`
	TrustedHTML bool   `yaml:"trusted_html"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TabWidth, validation.Min(0), validation.Max(16)),
	)
}

// Options converts the section to renderer options.
func (c *RenderConfig) Options(logger *slog.Logger) markdown.Options {
	return markdown.Options{
		Style:       c.Style,
		WithClasses: c.WithClasses,
		LineNumbers: c.LineNumbers,
		TabWidth:    c.TabWidth,
		TrustedHTML: c.TrustedHTML,
		Logger:      logger,
	}
}

// CacheConfig sizes the rendered HTML cache. MaxCost 0 disables it.
type CacheConfig struct {
	MaxCost     int64 `yaml:"max_cost"`
	NumCounters int64 `yaml:"num_counters"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxCost, validation.Min(int64(0))),
		validation.Field(&c.NumCounters, validation.Min(int64(0))),
	)
}

// RenderCache converts the section to cache settings.
func (c *CacheConfig) RenderCache() rendercache.Config {
	return rendercache.Config{MaxCost: c.MaxCost, NumCounters: c.NumCounters}
}

// AuthConfig holds authentication configuration for POST /reload and the
// event stream.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Content: ContentConfig{
			Path:            "./content",
			Extensions:      storage.DefaultExtensions,
			DuplicatePolicy: postservice.DuplicateError,
			Memoize:         true,
			Watch:           true,
			RenderTimeout:   5 * time.Second,
		},
		Render: RenderConfig{
			Style:       markdown.DefaultStyle,
			TabWidth:    4,
			TrustedHTML: true,
		},
		Cache: CacheConfig{
			MaxCost:     32 << 20,
			NumCounters: 100_000,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
