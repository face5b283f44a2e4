package api

import "github.com/starford/folio/internal/models"

// Post is the full post response type (aliased from the domain layer).
type Post = models.Post

// PostMeta is a list item without rendered content.
type PostMeta = models.PostMeta

// PostListResponse wraps post listings.
type PostListResponse struct {
	Posts []PostMeta `json:"posts" validate:"required"`
	Total int        `json:"total" example:"42" validate:"required"`
}

// RoutesResponse lists the ids a static generator should emit pages for.
type RoutesResponse struct {
	IDs []string `json:"ids" example:"hello-world,later" validate:"required"`
}
