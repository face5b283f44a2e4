package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	logger  *slog.Logger
	version string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON stdout logger built from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithVersion sets the version reported in logs.
func WithVersion(version string) Option {
	return func(a *application) {
		a.version = version
	}
}
