package markdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/folio/internal/apperr"
)

func render(t *testing.T, r *Renderer, body string) string {
	t.Helper()
	out, err := r.Render(context.Background(), body)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out
}

func TestRender_Heading(t *testing.T) {
	out := render(t, New(DefaultOptions(), nil), "# Hi")
	if !strings.Contains(out, "<h1") || !strings.Contains(out, "Hi</h1>") {
		t.Errorf("missing heading element: %q", out)
	}
	if strings.Contains(out, "# Hi") {
		t.Errorf("raw markdown leaked: %q", out)
	}
}

func TestRender_Bold(t *testing.T) {
	out := render(t, New(DefaultOptions(), nil), "**bold**")
	if !strings.Contains(out, "<strong>bold</strong>") {
		t.Errorf("out = %q", out)
	}
}

func TestRender_GFMExtensions(t *testing.T) {
	r := New(DefaultOptions(), nil)
	cases := map[string]string{
		"| a | b |\n|---|---|\n| 1 | 2 |\n": "<table>",
		"~~gone~~":                           "<del>gone</del>",
		"see https://example.com today":      `<a href="https://example.com">`,
		"- [x] done\n":                       `type="checkbox"`,
	}
	for in, want := range cases {
		if out := render(t, r, in); !strings.Contains(out, want) {
			t.Errorf("Render(%q) = %q, want substring %q", in, out, want)
		}
	}
}

func TestRender_Empty(t *testing.T) {
	r := New(DefaultOptions(), nil)
	for _, in := range []string{"", "   \n\n"} {
		if out := render(t, r, in); out != "" {
			t.Errorf("Render(%q) = %q, want empty", in, out)
		}
	}
}

func TestRender_CodeBlockLanguage(t *testing.T) {
	r := New(DefaultOptions(), nil)
	out := render(t, r, "```go\nx := a < b\n```\n")
	if !strings.Contains(out, `data-language="go"`) {
		t.Errorf("missing language annotation: %q", out)
	}
	if strings.Contains(out, "a < b") || !strings.Contains(out, "&lt;") {
		t.Errorf("code not escaped: %q", out)
	}
}

func TestRender_CodeBlockPlaintextFallback(t *testing.T) {
	r := New(DefaultOptions(), nil)
	for _, in := range []string{
		"```nosuchlanguage\nhello\n```\n",
		"```\nhello\n```\n",
		"    indented code\n",
	} {
		out := render(t, r, in)
		if !strings.Contains(out, `data-language="plaintext"`) {
			t.Errorf("Render(%q) = %q, want plaintext annotation", in, out)
		}
	}
}

func TestRender_UnclosedFence(t *testing.T) {
	r := New(DefaultOptions(), nil)
	done := make(chan string, 1)
	go func() {
		out, _ := r.Render(context.Background(), "```python\nprint('hi')\n")
		done <- out
	}()
	select {
	case out := <-done:
		if !strings.Contains(out, "print") || !strings.Contains(out, "</pre>") {
			t.Errorf("out = %q", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("render hung on unclosed fence")
	}
}

func TestRender_Idempotent(t *testing.T) {
	body := "# Title\n\nSome *text* & \"quotes\" <kbd>raw</kbd>.\n\n" +
		"- item\n- with code:\n\n  ```go\n  func a() {}\n\n  func b() {}\n  ```\n\n" +
		"| a | b |\n|---|---|\n| 1 | 2 |\n\n" +
		"```\nplain\n\nblock\n```\n\n> quote\n\n" +
		"<custom>\n*hi*\n</custom>\n\n<div>kept</div>\n"
	for _, trusted := range []bool{true, false} {
		opts := DefaultOptions()
		opts.TrustedHTML = trusted
		r := New(opts, nil)
		first := render(t, r, body)
		second := render(t, r, first)
		if first != second {
			t.Errorf("trusted=%v: second pass changed output:\nfirst:  %q\nsecond: %q", trusted, first, second)
		}
	}
}

func TestRender_UntrustedDropsDisallowedHTMLBlocks(t *testing.T) {
	opts := DefaultOptions()
	opts.TrustedHTML = false
	r := New(opts, nil)

	out := render(t, r, "<custom>\n*hi*\n</custom>\n\nafter\n")
	if strings.Contains(out, "*hi*") || strings.Contains(out, "hi") {
		t.Errorf("content of a stripped block leaked: %q", out)
	}
	if out != "<p>after</p>\n" {
		t.Errorf("out = %q", out)
	}
	if again := render(t, r, out); again != out {
		t.Errorf("second pass = %q, want %q", again, out)
	}

	if out := render(t, r, "<div>kept</div>\n"); out != "<div>kept</div>\n" {
		t.Errorf("allowed block = %q", out)
	}
}

func TestRender_TrustedPassesRawHTML(t *testing.T) {
	out := render(t, New(DefaultOptions(), nil), "<div class=\"note\">hi</div>\n")
	if !strings.Contains(out, `<div class="note">hi</div>`) {
		t.Errorf("trusted html stripped: %q", out)
	}
}

func TestRender_UntrustedSanitizes(t *testing.T) {
	opts := DefaultOptions()
	opts.TrustedHTML = false
	r := New(opts, nil)
	out := render(t, r, "hello <script>alert(1)</script>\n\n<img src=x onerror=alert(1)>\n\n```go\nfmt.Println(1)\n```\n")
	if strings.Contains(out, "<script") || strings.Contains(out, "onerror") {
		t.Errorf("unsafe html survived: %q", out)
	}
	if !strings.Contains(out, `data-language="go"`) {
		t.Errorf("highlighter annotation stripped: %q", out)
	}
	if r.Trusted() {
		t.Error("Trusted() = true")
	}
}

func TestRender_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultOptions(), nil).Render(ctx, "# hi")
	if !errors.Is(err, apperr.ErrTransform) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want ErrTransform wrapping context.Canceled", err)
	}
}

func TestRender_WithTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := New(DefaultOptions(), nil).Render(ctx, "*em*")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "<em>em</em>") {
		t.Errorf("out = %q", out)
	}
}

func TestRenderer_EngineBuiltOnce(t *testing.T) {
	r := New(DefaultOptions(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Render(context.Background(), "```go\nvar x = 1\n```\n")
		}()
	}
	wg.Wait()
	if n := r.builds.Load(); n != 1 {
		t.Errorf("engine built %d times, want 1", n)
	}
}

type mapCache struct {
	mu   sync.Mutex
	m    map[string]string
	hits int
}

func (c *mapCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Set(key, html string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = html
}

func TestRender_UsesCache(t *testing.T) {
	c := &mapCache{m: map[string]string{}}
	r := New(DefaultOptions(), c)
	first := render(t, r, "**x**")
	second := render(t, r, "**x**")
	if first != second || c.hits != 1 {
		t.Errorf("hits = %d, first = %q, second = %q", c.hits, first, second)
	}
}

func TestWriteCSS(t *testing.T) {
	opts := DefaultOptions()
	opts.WithClasses = true
	var b strings.Builder
	if err := New(opts, nil).WriteCSS(&b); err != nil {
		t.Fatalf("WriteCSS: %v", err)
	}
	if !strings.Contains(b.String(), ".chroma") {
		t.Errorf("css = %q", b.String())
	}
}

func TestFallback(t *testing.T) {
	out := Fallback("<b>x</b>")
	if !strings.Contains(out, "&lt;b&gt;") || !strings.HasPrefix(out, "<pre") {
		t.Errorf("Fallback = %q", out)
	}
	if Fallback("") != "" {
		t.Error("Fallback(\"\") should be empty")
	}
}

func TestLineRanges(t *testing.T) {
	got := lineRanges("{1, 3-4,9-2}")
	if len(got) != 2 || got[0] != [2]int{1, 1} || got[1] != [2]int{3, 4} {
		t.Errorf("lineRanges = %v", got)
	}
	if lineRanges("title=x") != nil {
		t.Error("expected nil for meta without ranges")
	}
}
