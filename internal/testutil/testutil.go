// Package testutil provides shared test helpers for content directories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/folio/internal/storage"
)

// ContentDir creates a temporary content directory with a storage.FS.
func ContentDir(t *testing.T, opts ...storage.FSOption) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteFile writes content to name under dir, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Post returns a markdown file with the given front matter date and title.
func Post(date, title, body string) string {
	return "---\ntitle: " + title + "\ndate: " + date + "\n---\n" + body + "\n"
}

// Eventually polls fn until it returns true or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
