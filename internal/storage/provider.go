// Package storage locates content source files under a read-only root.
package storage

import "github.com/starford/folio/internal/models"

// Provider is the interface for content discovery and reads.
type Provider interface {
	// List returns every content file under the root in lexical path order.
	List() ([]models.PostSource, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Root returns the absolute content root.
	Root() string
}
