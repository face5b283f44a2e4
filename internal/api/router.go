package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/postservice"
)

// StyleWriter writes the stylesheet for highlighted code.
type StyleWriter interface {
	WriteCSS(w io.Writer) error
}

// NewRouter creates a chi router with all API routes mounted.
// Read routes are public. POST /reload and GET /events sit behind the
// bearer token when authEnabled is set. sseHandler and css may be nil.
// onReload, if non-nil, runs after a successful manual reload.
func NewRouter(svc *postservice.Service, css StyleWriter, authEnabled bool, token string, sseHandler http.Handler, onReload func()) chi.Router {
	h := NewHandler(svc, onReload)

	r := chi.NewRouter()

	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{id}", h.GetPost)
	r.Get("/routes", h.ListRoutes)
	if css != nil {
		r.Get("/assets/chroma.css", StyleHandler(css))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))
		r.Post("/reload", h.Reload)
		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
