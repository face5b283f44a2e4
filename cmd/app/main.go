package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/folio/internal"
	"github.com/starford/folio/internal/export"
	"github.com/starford/folio/internal/mcpserver"
	pkgconfig "github.com/starford/folio/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	var overrides []func(*internal.Config)
	if dir := cmd.String("content"); dir != "" {
		overrides = append(overrides, func(c *internal.Config) { c.Content.Path = dir })
	}
	found, err := pkgconfig.LoadOptional(configPath, cfg, overrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found {
		slog.Warn("config file not found, using defaults", slog.String("path", configPath))
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// Subcommands write their results to stdout, so they log to stderr.
func cliLogger(cfg *internal.Config) *slog.Logger {
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)
	return logger
}

func routes(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ids, err := internal.ListRouteIDs(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(os.Stdout, id)
	}
	return nil
}

func exportPosts(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)
	pipe, err := internal.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipe.Close()

	out := cmd.String("out")
	n, err := export.Export(ctx, pipe.Service, out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	logger.Info("export complete", slog.Int("posts", n), slog.String("out", out))
	return nil
}

func serveMCP(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pipe, err := internal.NewPipeline(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer pipe.Close()
	return mcpserver.New(pipe.Service, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "folio",
		Usage:   "Blog content pipeline: Markdown files with front matter served as a sorted post collection",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "content",
				Usage:   "Content directory, overrides content.path",
				Sources: cli.EnvVars("FOLIO_CONTENT_DIR"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "routes",
				Usage:  "Print every post id, newest first",
				Action: routes,
			},
			{
				Name:   "export",
				Usage:  "Write index.json and posts/<id>.json for a static site generator",
				Action: exportPosts,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output directory",
						Value:   "dist",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the post collection over MCP on stdin/stdout",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
