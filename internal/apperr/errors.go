// Package apperr defines the error taxonomy shared by the content pipeline.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrDirectoryNotFound means the content root is missing or not a directory.
	// Nothing can be served without it.
	ErrDirectoryNotFound = errors.New("content directory not found")
	// ErrMalformedFrontMatter means a front matter block was opened but never closed.
	ErrMalformedFrontMatter = errors.New("malformed front matter")
	// ErrTransform means markdown conversion failed for a body or block.
	ErrTransform = errors.New("transform failed")
	// ErrDuplicateID means two source files derive the same post id.
	ErrDuplicateID = errors.New("duplicate post id")
	// ErrPostNotFound means no post carries the requested id.
	ErrPostNotFound = errors.New("post not found")
	// ErrInvalidDate means the date field is missing or cannot be parsed.
	ErrInvalidDate = errors.New("invalid post date")
)

// FileError attaches the source path to a per-file failure.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// WrapFile returns err annotated with path, or nil when err is nil.
func WrapFile(path string, err error) error {
	if err == nil {
		return nil
	}
	return &FileError{Path: path, Err: err}
}
