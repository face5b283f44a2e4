// Package assembler turns parsed front matter and rendered HTML into posts.
package assembler

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/parser"
)

// Front matter keys the assembler owns. They never reach Post.Extra.
var reserved = map[string]struct{}{
	"id": {}, "title": {}, "author": {}, "date": {}, "content": {},
}

// dateLayouts are tried in order when parsing the date field.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// DeriveID returns the base filename with its final extension stripped.
// The id is not escaped; URL builders must escape it themselves.
func DeriveID(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// ParseDate parses raw using the accepted layouts.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("assembler: date is missing: %w", apperr.ErrInvalidDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("assembler: unparseable date %q: %w", raw, apperr.ErrInvalidDate)
}

// Assemble builds the Post for src. The date must parse; title and author
// default to "". Every other front matter key is carried verbatim in Extra.
func Assemble(src models.PostSource, fm map[string]any, html string) (models.Post, error) {
	date := parser.String(fm, "date")
	published, err := ParseDate(date)
	if err != nil {
		return models.Post{}, err
	}

	extra := make(map[string]any, len(fm))
	for k, v := range fm {
		if _, ok := reserved[k]; ok {
			continue
		}
		extra[k] = v
	}

	return models.Post{
		ID:          DeriveID(src.Name),
		Title:       parser.String(fm, "title"),
		Author:      parser.String(fm, "author"),
		Date:        strings.TrimSpace(date),
		Content:     html,
		Extra:       extra,
		Source:      src.Path,
		Checksum:    src.Checksum,
		PublishedAt: published,
	}, nil
}
