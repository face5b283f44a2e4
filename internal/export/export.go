// Package export writes the post collection as static JSON files for a
// page generator.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/folio/internal/models"
)

// Lister provides the posts to export.
type Lister interface {
	ListAll(ctx context.Context) ([]models.Post, error)
}

// Index is the content of index.json.
type Index struct {
	Posts []models.PostMeta `json:"posts"`
	IDs   []string          `json:"ids"`
}

// Export writes index.json and posts/<id>.json under outDir, then removes
// posts/*.json left over from posts that no longer exist. It returns the
// number of posts written. Ids that are not a single safe path segment are
// rejected before anything is written.
func Export(ctx context.Context, src Lister, outDir string) (int, error) {
	posts, err := src.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range posts {
		if !safeID(p.ID) {
			return 0, fmt.Errorf("export: unsafe post id %q from %s", p.ID, p.Source)
		}
	}

	postsDir := filepath.Join(outDir, "posts")
	if err := os.MkdirAll(postsDir, 0o755); err != nil {
		return 0, fmt.Errorf("export: create output dir: %w", err)
	}

	idx := Index{Posts: make([]models.PostMeta, len(posts)), IDs: make([]string, len(posts))}
	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		idx.Posts[i] = p.Meta()
		idx.IDs[i] = p.ID
		if err := writeJSON(filepath.Join(postsDir, p.ID+".json"), p); err != nil {
			return i, err
		}
	}
	if err := prune(postsDir, idx.IDs); err != nil {
		return len(posts), err
	}
	if err := writeJSON(filepath.Join(outDir, "index.json"), idx); err != nil {
		return len(posts), err
	}
	return len(posts), nil
}

// prune removes <id>.json files in dir whose id is not in keep. Other
// files are left alone.
func prune(dir string, keep []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	live := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		live[id+".json"] = struct{}{}
	}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("export: remove stale %s: %w", name, err)
		}
	}
	return nil
}

func safeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

// writeJSON writes v through a temp file and renames it into place.
// Content HTML is kept literal.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("export: encode %s: %w", filepath.Base(path), err)
	}
	data := buf.Bytes()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
