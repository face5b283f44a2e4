package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/folio/internal/markdown"
	"github.com/starford/folio/internal/postservice"
	"github.com/starford/folio/internal/rendercache"
	"github.com/starford/folio/internal/storage"
)

// NewLogger returns the structured JSON logger used by every command.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Pipeline is the wired content pipeline: source locator, renderer with
// its cache, and the collection service on top.
type Pipeline struct {
	Store    *storage.FS
	Renderer *markdown.Renderer
	Service  *postservice.Service

	cache *rendercache.Cache
}

// NewPipeline wires the pipeline described by cfg. The content directory
// must already exist.
func NewPipeline(cfg *Config, logger *slog.Logger) (*Pipeline, error) {
	store, err := storage.NewFS(cfg.Content.Path, cfg.Content.FSOptions()...)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cache, err := rendercache.New(cfg.Cache.RenderCache())
	if err != nil {
		return nil, fmt.Errorf("init render cache: %w", err)
	}
	var htmlCache markdown.Cache
	if cache != nil {
		htmlCache = cache
	}

	renderer := markdown.New(cfg.Render.Options(logger), htmlCache)
	svc := postservice.NewService(store, renderer, logger, cfg.Content.ServiceOptions()...)

	return &Pipeline{Store: store, Renderer: renderer, Service: svc, cache: cache}, nil
}

// Close releases the render cache.
func (p *Pipeline) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}
