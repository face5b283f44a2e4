// Package postservice aggregates content files into a sorted, queryable
// post collection.
package postservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/markdown"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/parser"
	"github.com/starford/folio/internal/storage"
)

// Duplicate id policies.
const (
	DuplicateError    = "error"
	DuplicateLastWins = "last-wins"
)

// Service builds and serves the post collection.
type Service struct {
	store    storage.Provider
	renderer *markdown.Renderer
	logger   *slog.Logger

	duplicates    string
	memoize       bool
	renderTimeout time.Duration
	concurrency   int

	mu    sync.RWMutex
	snap  *snapshot
	gen   uint64 // bumped by Invalidate; a build only stores its snapshot if unchanged
	group singleflight.Group
}

// snapshot is one built collection. Never mutated after construction.
type snapshot struct {
	posts   []models.Post
	byID    map[string]int
	builtAt time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDuplicatePolicy selects DuplicateError or DuplicateLastWins.
func WithDuplicatePolicy(policy string) Option {
	return func(s *Service) { s.duplicates = policy }
}

// WithMemoize keeps the built collection until Invalidate or Reload.
func WithMemoize(memoize bool) Option {
	return func(s *Service) { s.memoize = memoize }
}

// WithRenderTimeout bounds rendering in GetByID when it reads a file directly.
func WithRenderTimeout(d time.Duration) Option {
	return func(s *Service) { s.renderTimeout = d }
}

// WithConcurrency caps the number of files processed at once.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// NewService creates a new post service.
func NewService(store storage.Provider, renderer *markdown.Renderer, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:         store,
		renderer:      renderer,
		logger:        logger,
		duplicates:    DuplicateError,
		memoize:       true,
		renderTimeout: 5 * time.Second,
		concurrency:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// ListAll returns every post sorted by date, most recent first. Files that
// fail to read or parse are logged and left out.
func (s *Service) ListAll(ctx context.Context) ([]models.Post, error) {
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.posts), nil
}

// ListMeta returns ListAll without rendered content.
func (s *Service) ListMeta(ctx context.Context) ([]models.PostMeta, error) {
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.PostMeta, len(snap.posts))
	for i, p := range snap.posts {
		out[i] = p.Meta()
	}
	return out, nil
}

// ListRouteIDs returns the ids of ListAll, in the same order.
func (s *Service) ListRouteIDs(ctx context.Context) ([]string, error) {
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(snap.posts))
	for i, p := range snap.posts {
		ids[i] = p.ID
	}
	return ids, nil
}

// GetByID returns the post with the given id, or apperr.ErrPostNotFound.
// With a memoized collection it is a map lookup; otherwise only the files
// deriving that id are read, under the render timeout.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Post, error) {
	if snap := s.cached(); snap != nil {
		return snap.lookup(id)
	}
	if s.memoize {
		snap, err := s.current(ctx)
		if err != nil {
			return nil, err
		}
		return snap.lookup(id)
	}
	return s.loadOne(ctx, id)
}

// Reload rebuilds the collection now, never joining a build that started
// earlier. The current collection is served until the new one replaces it.
// Without memoization it only checks that the collection can be built.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	s.supersede()
	s.mu.Unlock()
	snap, err := s.rebuild(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("posts reloaded", slog.Int("count", len(snap.posts)))
	return nil
}

// Invalidate drops the memoized collection; the next query rebuilds it.
// A build already running keeps serving its callers but is not stored.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.supersede()
	s.mu.Unlock()
}

// supersede detaches any running build so its result is not stored.
// Callers hold s.mu.
func (s *Service) supersede() {
	s.gen++
	s.group.Forget("build")
}

// Ready reports whether a collection has been built and kept.
func (s *Service) Ready() bool {
	return s.cached() != nil
}

func (s *Service) cached() *snapshot {
	if !s.memoize {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) current(ctx context.Context) (*snapshot, error) {
	if snap := s.cached(); snap != nil {
		return snap, nil
	}
	return s.rebuild(ctx)
}

// rebuild builds a snapshot, collapsing concurrent callers into one build.
// The build runs detached from the caller that started it; each caller
// stops waiting when its own ctx ends.
func (s *Service) rebuild(ctx context.Context) (*snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("postservice: build: %w", err)
	}
	ch := s.group.DoChan("build", func() (any, error) {
		s.mu.RLock()
		gen := s.gen
		s.mu.RUnlock()

		snap, err := s.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if s.memoize {
			s.mu.Lock()
			if s.gen == gen {
				s.snap = snap
			}
			s.mu.Unlock()
		}
		return snap, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("postservice: build: %w", ctx.Err())
	}
}

// build runs the whole pipeline: one task per file, results joined by
// enumeration index, then a stable sort by date.
func (s *Service) build(ctx context.Context) (*snapshot, error) {
	sources, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("postservice: list sources: %w", err)
	}

	results := make([]*models.Post, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			p, err := s.loadSource(gctx, src)
			if err != nil {
				s.logger.Warn("skipping post",
					slog.String("path", src.Path), slog.String("error", err.Error()))
				return nil
			}
			results[i] = p
			return nil
		})
	}
	_ = g.Wait()

	posts := make([]models.Post, 0, len(results))
	byID := make(map[string]int, len(results))
	for _, p := range results {
		if p == nil {
			continue
		}
		if prev, dup := byID[p.ID]; dup {
			if s.duplicates != DuplicateLastWins {
				return nil, fmt.Errorf("postservice: %q from %s and %s: %w",
					p.ID, posts[prev].Source, p.Source, apperr.ErrDuplicateID)
			}
			s.logger.Warn("duplicate post id, keeping later file",
				slog.String("id", p.ID),
				slog.String("dropped", posts[prev].Source),
				slog.String("kept", p.Source))
			posts[prev] = *p
			continue
		}
		byID[p.ID] = len(posts)
		posts = append(posts, *p)
	}

	sortByDate(posts)
	for i, p := range posts {
		byID[p.ID] = i
	}
	return &snapshot{posts: posts, byID: byID, builtAt: time.Now()}, nil
}

// sortByDate orders posts newest first. Equal dates keep their input order.
func sortByDate(posts []models.Post) {
	slices.SortStableFunc(posts, func(a, b models.Post) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
}

// loadSource reads, parses, renders, and assembles one file. Render
// failures degrade to escaped text instead of dropping the post.
func (s *Service) loadSource(ctx context.Context, src models.PostSource) (*models.Post, error) {
	data, err := s.store.Read(src.Path)
	if err != nil {
		return nil, apperr.WrapFile(src.Path, err)
	}
	src.Checksum = checksum.Sum(data)
	res, err := parser.Parse(data)
	if err != nil {
		return nil, apperr.WrapFile(src.Path, err)
	}
	html, err := s.renderer.Render(ctx, res.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.WrapFile(src.Path, err)
		}
		s.logger.Warn("render failed, using plain text",
			slog.String("path", src.Path), slog.String("error", err.Error()))
		html = markdown.Fallback(res.Body)
	}
	p, err := assembler.Assemble(src, res.Frontmatter, html)
	if err != nil {
		return nil, apperr.WrapFile(src.Path, err)
	}
	return &p, nil
}

// loadOne builds only the files whose derived id matches.
func (s *Service) loadOne(ctx context.Context, id string) (*models.Post, error) {
	sources, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("postservice: list sources: %w", err)
	}
	var matches []models.PostSource
	for _, src := range sources {
		if assembler.DeriveID(src.Name) == id {
			matches = append(matches, src)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("postservice: %q: %w", id, apperr.ErrPostNotFound)
	}
	if len(matches) > 1 && s.duplicates != DuplicateLastWins {
		return nil, fmt.Errorf("postservice: %q from %s and %s: %w",
			id, matches[0].Path, matches[1].Path, apperr.ErrDuplicateID)
	}

	if s.renderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.renderTimeout)
		defer cancel()
	}

	var (
		found   *models.Post
		lastErr error
	)
	for _, src := range matches {
		p, err := s.loadSource(ctx, src)
		if err != nil {
			lastErr = err
			continue
		}
		found = p
	}
	if found == nil {
		s.logger.Warn("post unavailable", slog.String("id", id), slog.String("error", lastErr.Error()))
		return nil, fmt.Errorf("postservice: %q: %w (%w)", id, apperr.ErrPostNotFound, lastErr)
	}
	return found, nil
}

func (snap *snapshot) lookup(id string) (*models.Post, error) {
	i, ok := snap.byID[id]
	if !ok {
		return nil, fmt.Errorf("postservice: %q: %w", id, apperr.ErrPostNotFound)
	}
	p := snap.posts[i]
	return &p, nil
}

// IsNotFound reports whether err means the post does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrPostNotFound)
}
