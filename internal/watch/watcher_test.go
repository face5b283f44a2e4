package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/testutil"
)

type counter struct{ n atomic.Int32 }

func (c *counter) Invalidate() { c.n.Add(1) }

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, path string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+path)
	r.mu.Unlock()
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatch(t *testing.T, store *storage.FS) (*counter, *recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	inv, rec := &counter{}, &recorder{}
	go WatchWithDebounce(ctx, store, inv, quietLogger(), rec.record, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	return inv, rec
}

func TestWatch_NewFileInvalidates(t *testing.T) {
	dir, store := testutil.ContentDir(t)
	inv, rec := startWatch(t, store)

	testutil.WriteFile(t, dir, "new.md", testutil.Post("2024-01-01", "New", "x"))

	testutil.Eventually(t, 5*time.Second, func() bool { return rec.has("created:new.md") })
	if inv.n.Load() == 0 {
		t.Error("collection not invalidated")
	}
}

func TestWatch_UpdateAndDelete(t *testing.T) {
	dir, store := testutil.ContentDir(t)
	testutil.WriteFile(t, dir, "a.md", testutil.Post("2024-01-01", "A", "x"))
	_, rec := startWatch(t, store)

	testutil.WriteFile(t, dir, "a.md", testutil.Post("2024-01-01", "A", "changed"))
	testutil.Eventually(t, 5*time.Second, func() bool { return rec.has("updated:a.md") })

	if err := os.Remove(filepath.Join(dir, "a.md")); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return rec.has("deleted:a.md") })
}

func TestWatch_RenameReconciles(t *testing.T) {
	dir, store := testutil.ContentDir(t)
	testutil.WriteFile(t, dir, "old.md", testutil.Post("2024-01-01", "Old", "x"))
	_, rec := startWatch(t, store)

	if err := os.Rename(filepath.Join(dir, "old.md"), filepath.Join(dir, "renamed.md")); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool {
		return rec.has("deleted:old.md") && rec.has("created:renamed.md")
	})
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir, store := testutil.ContentDir(t)
	inv, _ := startWatch(t, store)

	testutil.WriteFile(t, dir, "notes.txt", "hi")
	testutil.WriteFile(t, dir, ".draft.md", "hidden")
	time.Sleep(300 * time.Millisecond)
	if n := inv.n.Load(); n != 0 {
		t.Errorf("invalidated %d times for non-content files", n)
	}
}

func TestWatch_RecursiveNewDir(t *testing.T) {
	dir, store := testutil.ContentDir(t, storage.WithRecursive(true))
	_, rec := startWatch(t, store)

	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	testutil.WriteFile(t, dir, "sub/deep.md", testutil.Post("2024-01-01", "Deep", "x"))

	testutil.Eventually(t, 5*time.Second, func() bool { return rec.has("created:sub/deep.md") })
}
