// Package markdown renders markdown bodies into highlighted HTML.
//
// The goldmark engine and its chroma style are built once per Renderer and
// shared read-only by concurrent Render calls. Raw HTML in the source passes
// through when Options.TrustedHTML is set; otherwise the output is sanitized.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
)

// DefaultStyle is the chroma style used when none is configured.
const DefaultStyle = "dracula"

// Options configures a Renderer.
type Options struct {
	Style       string // chroma style name
	WithClasses bool   // emit CSS classes instead of inline styles
	LineNumbers bool
	TabWidth    int
	// TrustedHTML lets raw HTML in the source through unchanged. Leave it
	// off whenever content can come from anyone but the site owner.
	TrustedHTML bool
	Logger      *slog.Logger
}

// DefaultOptions returns options for trusted, site-owner content.
func DefaultOptions() Options {
	return Options{Style: DefaultStyle, TabWidth: 4, TrustedHTML: true}
}

// Cache stores rendered HTML by key.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, html string)
}

// Renderer converts markdown to HTML.
type Renderer struct {
	opts        Options
	cache       Cache
	fingerprint string

	once   sync.Once
	md     goldmark.Markdown
	hl     *highlighter
	policy *bluemonday.Policy
	builds atomic.Int32
}

// New creates a Renderer. cache may be nil.
func New(opts Options, cache Cache) *Renderer {
	if opts.Style == "" {
		opts.Style = DefaultStyle
	}
	if opts.TabWidth <= 0 {
		opts.TabWidth = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	// Untrusted output goes through bluemonday, which drops style attributes.
	if !opts.TrustedHTML {
		opts.WithClasses = true
	}
	return &Renderer{
		opts:  opts,
		cache: cache,
		fingerprint: fmt.Sprintf("style=%s classes=%t lines=%t tab=%d trusted=%t",
			opts.Style, opts.WithClasses, opts.LineNumbers, opts.TabWidth, opts.TrustedHTML),
	}
}

// init builds the engine. Guarded by r.once.
func (r *Renderer) init() {
	r.builds.Add(1)
	r.hl = newHighlighter(r.opts)
	nodeRenderers := []util.PrioritizedValue{util.Prioritized(&codeBlockRenderer{hl: r.hl}, 100)}
	if !r.opts.TrustedHTML {
		r.policy = newPolicy()
		nodeRenderers = append(nodeRenderers, util.Prioritized(&htmlBlockRenderer{policy: r.policy}, 100))
	}
	r.md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(
			// Raw HTML always reaches the renderer; untrusted output is
			// filtered per block and sanitized again as a whole.
			gmhtml.WithUnsafe(),
			renderer.WithNodeRenderers(nodeRenderers...),
		),
	)
}

func (r *Renderer) engine() goldmark.Markdown {
	r.once.Do(r.init)
	return r.md
}

// Render converts body to HTML. An empty body renders to "". Conversion
// failures and context expiry return apperr.ErrTransform.
func (r *Renderer) Render(ctx context.Context, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("markdown: %w: %w", apperr.ErrTransform, err)
	}

	key := checksum.SumStrings(r.fingerprint, body)
	if r.cache != nil {
		if out, ok := r.cache.Get(key); ok {
			return out, nil
		}
	}

	var (
		out string
		err error
	)
	if ctx.Done() == nil {
		out, err = r.convert(body)
	} else {
		type result struct {
			html string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			h, err := r.convert(body)
			ch <- result{h, err}
		}()
		select {
		case res := <-ch:
			out, err = res.html, res.err
		case <-ctx.Done():
			return "", fmt.Errorf("markdown: %w: %w", apperr.ErrTransform, ctx.Err())
		}
	}
	if err != nil {
		return "", err
	}
	if r.cache != nil {
		r.cache.Set(key, out)
	}
	return out, nil
}

func (r *Renderer) convert(body string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("markdown: panic during conversion: %v: %w", p, apperr.ErrTransform)
		}
	}()
	md := r.engine()
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("markdown: convert: %w: %w", apperr.ErrTransform, err)
	}
	if r.policy != nil {
		return r.policy.Sanitize(buf.String()), nil
	}
	return buf.String(), nil
}

// WriteCSS writes the stylesheet for the configured style. It is only
// needed when WithClasses is on.
func (r *Renderer) WriteCSS(w io.Writer) error {
	r.engine()
	return r.hl.formatter(nil).WriteCSS(w, r.hl.style)
}

// Trusted reports whether raw HTML passes through.
func (r *Renderer) Trusted() bool { return r.opts.TrustedHTML }

// Fallback renders body as escaped preformatted text. Callers use it when
// a whole transform fails so the post still shows its content.
func Fallback(body string) string {
	if body == "" {
		return ""
	}
	return `<pre data-language="plaintext"><code>` + html.EscapeString(body) + "</code></pre>\n"
}

func resolveStyle(name string) *chroma.Style {
	if s := styles.Get(name); s != nil {
		return s
	}
	return styles.Fallback
}
