package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/postservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *postservice.Service
	onReload func()
}

// NewHandler creates a new Handler.
func NewHandler(svc *postservice.Service, onReload func()) *Handler {
	return &Handler{svc: svc, onReload: onReload}
}

// postID extracts the id path parameter. Ids are filename stems, so a
// percent-encoded id is decoded once.
func postID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListPosts handles GET /api/posts.
//
//	@Summary		List posts, most recent first
//	@Tags			posts
//	@Produce		json
//	@Param			full	query		bool	false	"Include rendered content"
//	@Success		200		{object}	PostListResponse
//	@Router			/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))

	if full {
		posts, err := h.svc.ListAll(r.Context())
		if err != nil {
			writeServiceError(w, "list posts failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"posts": posts,
			"total": len(posts),
		})
		return
	}

	metas, err := h.svc.ListMeta(r.Context())
	if err != nil {
		writeServiceError(w, "list posts failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts": metas,
		"total": len(metas),
	})
}

// GetPost handles GET /api/posts/{id}.
//
//	@Summary		Get a single post by id
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	Post
//	@Failure		404	{object}	errResponse
//	@Router			/posts/{id} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := postID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	post, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if postservice.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		writeServiceError(w, "get post failed", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// ListRoutes handles GET /api/routes.
//
//	@Summary		List route ids for static generation
//	@Tags			posts
//	@Produce		json
//	@Success		200	{object}	RoutesResponse
//	@Router			/routes [get]
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ListRouteIDs(r.Context())
	if err != nil {
		writeServiceError(w, "list routes failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RoutesResponse{IDs: ids})
}

// Reload handles POST /api/reload.
//
//	@Summary		Rebuild the post collection
//	@Tags			posts
//	@Success		204	"Collection rebuilt"
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reload [post]
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reload(r.Context()); err != nil {
		writeServiceError(w, "reload failed", err)
		return
	}
	if h.onReload != nil {
		h.onReload()
	}
	w.WriteHeader(http.StatusNoContent)
}

// StyleHandler serves the highlighting stylesheet.
func StyleHandler(css StyleWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		if err := css.WriteCSS(w); err != nil {
			slog.Error("write css failed", slog.String("error", err.Error()))
		}
	}
}

// writeServiceError logs err and answers with a generic body. Collection
// build failures that the operator has to fix map to 503.
func writeServiceError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	slog.Error(msg, append(attrs, slog.String("error", err.Error()))...)
	switch {
	case errors.Is(err, apperr.ErrDuplicateID):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("duplicate post id"))
	case errors.Is(err, apperr.ErrDirectoryNotFound):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("content directory unavailable"))
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
