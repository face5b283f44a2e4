package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/models"
)

// DefaultExtensions are the content file extensions picked up when none are configured.
var DefaultExtensions = []string{".md", ".mdx"}

// FS implements Provider backed by the local file system.
type FS struct {
	root       string // absolute, symlinks resolved
	extensions []string
	recursive  bool
}

// FSOption configures an FS.
type FSOption func(*FS)

// WithExtensions sets the file extensions treated as content.
func WithExtensions(exts ...string) FSOption {
	return func(f *FS) {
		if len(exts) == 0 {
			return
		}
		f.extensions = make([]string, 0, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			f.extensions = append(f.extensions, e)
		}
	}
}

// WithRecursive makes List descend into subdirectories.
func WithRecursive(recursive bool) FSOption {
	return func(f *FS) { f.recursive = recursive }
}

// NewFS creates a new FS provider rooted at the given directory.
// A missing root yields apperr.ErrDirectoryNotFound.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", abs, apperr.ErrDirectoryNotFound)
		}
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root %s: %w", abs, apperr.ErrDirectoryNotFound)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s: %w", abs, apperr.ErrDirectoryNotFound)
	}
	f := &FS{root: resolved, extensions: DefaultExtensions}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute content root.
func (f *FS) Root() string { return f.root }

// Recursive reports whether subdirectories are scanned.
func (f *FS) Recursive() bool { return f.recursive }

// IsContent reports whether name carries one of the configured extensions
// and is not a hidden file.
func (f *FS) IsContent(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range f.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// within reports whether abs lies under the root.
func (f *FS) within(abs string) bool {
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it, including through symlinks.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("storage: empty path")
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(f.root, cleaned)
	if !f.within(abs) {
		return "", fmt.Errorf("storage: path escapes content root: %s", rel)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Missing files keep their os.ErrNotExist for callers.
		return "", fmt.Errorf("storage: resolve %s: %w", rel, err)
	}
	if !f.within(resolved) {
		return "", fmt.Errorf("storage: path escapes content root: %s", rel)
	}
	return resolved, nil
}

// List walks the root and returns metadata for every content file. It does
// not read contents; Checksum is left for the caller that reads the bytes.
// Symlinked directories are never followed; symlinked files are kept only
// when they resolve to a regular file inside the root.
func (f *FS) List() ([]models.PostSource, error) {
	if _, err := os.Stat(f.root); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", f.root, apperr.ErrDirectoryNotFound)
	}
	var out []models.PostSource
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == f.root {
				return walkErr
			}
			// Unreadable subtree; skip it rather than failing discovery.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p == f.root {
				return nil
			}
			if !f.recursive || strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !f.IsContent(d.Name()) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(p)
			if err != nil || !f.within(target) {
				return nil
			}
			if info, err := os.Stat(target); err != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		rel, _ := filepath.Rel(f.root, p)
		src := models.PostSource{Path: filepath.ToSlash(rel), Name: d.Name()}
		// Stat failures still list the file; Read reports the cause.
		if info, err := os.Stat(p); err == nil {
			src.ModTime = info.ModTime()
		}
		out = append(out, src)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a content file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}
