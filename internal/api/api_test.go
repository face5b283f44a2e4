package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/folio/internal/markdown"
	"github.com/starford/folio/internal/postservice"
	"github.com/starford/folio/internal/testutil"
)

// testEnv sets up a temp content dir, service, and router for testing.
// An empty token means disabled auth mode.
func testEnv(t *testing.T, authToken string) (string, *postservice.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler, onReload func()) (string, *postservice.Service, http.Handler) {
	t.Helper()
	dir, store := testutil.ContentDir(t)
	opts := markdown.DefaultOptions()
	opts.WithClasses = true
	renderer := markdown.New(opts, nil)
	svc := postservice.NewService(store, renderer, nil)
	router := NewRouter(svc, renderer, authToken != "", authToken, sseHandler, onReload)
	return dir, svc, router
}

func do(t *testing.T, h http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, dir string) {
	t.Helper()
	testutil.WriteFile(t, dir, "hello.md", "---\ntitle: Hello\ndate: 2023-05-01\ntags: [go]\n---\n**bold**\n")
	testutil.WriteFile(t, dir, "later.md", testutil.Post("2023-06-01", "Later", "text"))
}

func TestListPosts(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)

	w := do(t, router, http.MethodGet, "/posts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Posts []map[string]any `json:"posts"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || resp.Posts[0]["id"] != "later" || resp.Posts[1]["id"] != "hello" {
		t.Errorf("resp = %+v", resp)
	}
	if _, ok := resp.Posts[0]["content"]; ok {
		t.Error("list without full=true should omit content")
	}
	if resp.Posts[1]["tags"] == nil {
		t.Error("extension fields should be flattened into the record")
	}
}

func TestListPosts_Full(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)

	w := do(t, router, http.MethodGet, "/posts?full=true")
	var resp struct {
		Posts []Post `json:"posts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Posts) != 2 || resp.Posts[1].Content != "<p><strong>bold</strong></p>\n" {
		t.Errorf("posts = %+v", resp.Posts)
	}
}

func TestGetPost(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)

	w := do(t, router, http.MethodGet, "/posts/hello")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var post map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &post)
	if post["title"] != "Hello" || post["date"] != "2023-05-01" {
		t.Errorf("post = %v", post)
	}
}

func TestGetPost_NotFound(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)

	w := do(t, router, http.MethodGet, "/posts/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"error":"not found"}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListRoutes(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)

	w := do(t, router, http.MethodGet, "/routes")
	var resp RoutesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if strings.Join(resp.IDs, ",") != "later,hello" {
		t.Errorf("ids = %v", resp.IDs)
	}
}

func TestListRoutes_Empty(t *testing.T) {
	_, _, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/routes")
	if strings.TrimSpace(w.Body.String()) != `{"ids":[]}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDuplicateIDs_ServiceUnavailable(t *testing.T) {
	dir, _, router := testEnv(t, "")
	testutil.WriteFile(t, dir, "a.md", testutil.Post("2023-01-01", "A", "a"))
	testutil.WriteFile(t, dir, "a.mdx", testutil.Post("2023-01-01", "A", "a"))

	w := do(t, router, http.MethodGet, "/posts")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestReload(t *testing.T) {
	reloaded := 0
	dir, svc, router := testEnvWithSSE(t, "", nil, func() { reloaded++ })
	seed(t, dir)
	if _, err := svc.ListAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "new.md", testutil.Post("2024-01-01", "New", "x"))

	w := do(t, router, http.MethodPost, "/reload")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if reloaded != 1 {
		t.Errorf("onReload calls = %d", reloaded)
	}
	w = do(t, router, http.MethodGet, "/routes")
	if !strings.Contains(w.Body.String(), `"new"`) {
		t.Errorf("reload did not pick up new post: %s", w.Body.String())
	}
}

func TestAuthMiddleware_TokenMode(t *testing.T) {
	_, _, router := testEnv(t, "secret")

	if w := do(t, router, http.MethodPost, "/reload"); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/reload", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/reload", "Authorization", "Bearer secret"); w.Code != http.StatusNoContent {
		t.Errorf("valid token = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/posts"); w.Code != http.StatusOK {
		t.Errorf("public read = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, _, router := testEnv(t, "")
	if w := do(t, router, http.MethodPost, "/reload"); w.Code != http.StatusNoContent {
		t.Errorf("no auth = %d, want 204", w.Code)
	}
}

func TestStyleSheet(t *testing.T) {
	_, _, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/assets/chroma.css")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), ".chroma") {
		t.Errorf("stylesheet missing chroma rules")
	}
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, _, router := testEnvWithSSE(t, "secret", sseStub(), nil)
	if w := do(t, router, http.MethodGet, "/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, _, router := testEnvWithSSE(t, "tok", sseStub(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", bytes.NewReader(nil)).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestWriteJSON_EncodeFailureAnswers500(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]any{"bad": make(chan int)})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"error":"internal error"}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListPosts_NestedNonStringKeys(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)
	testutil.WriteFile(t, dir, "series.md", "---\ntitle: Series\ndate: 2023-04-01\nseries:\n  1: intro\n---\nbody\n")

	w := do(t, router, http.MethodGet, "/posts")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp PostListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body = %q: %v", w.Body.String(), err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
}

func TestGetPost_ContentHTMLNotEscaped(t *testing.T) {
	dir, _, router := testEnv(t, "")
	seed(t, dir)

	w := do(t, router, http.MethodGet, "/posts/hello")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<p><strong>bold</strong></p>`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
