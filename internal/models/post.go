// Package models defines the domain types for the content pipeline.
package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// PostSource describes one content file discovered under the content root.
type PostSource struct {
	Path     string    `json:"path"` // relative to root, forward slashes
	Name     string    `json:"name"` // base filename
	Checksum string    `json:"checksum"`
	ModTime  time.Time `json:"mod_time"`
}

// Post is a fully assembled blog post. Content is final HTML.
type Post struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Author      string         `json:"author"`
	Date        string         `json:"date"`
	Content     string         `json:"content"`
	Extra       map[string]any `json:"-"`
	Source      string         `json:"-"`
	Checksum    string         `json:"-"`
	PublishedAt time.Time      `json:"-"`
}

// PostMeta is a Post without its rendered body.
type PostMeta struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Author string         `json:"author"`
	Date   string         `json:"date"`
	Extra  map[string]any `json:"-"`
}

// Meta returns the metadata view of p.
func (p Post) Meta() PostMeta {
	return PostMeta{ID: p.ID, Title: p.Title, Author: p.Author, Date: p.Date, Extra: p.Extra}
}

// MarshalJSON flattens extension fields into the record. Canonical fields
// win over same-named extension keys.
func (p Post) MarshalJSON() ([]byte, error) {
	m := flatten(p.Extra, 5)
	m["id"] = p.ID
	m["title"] = p.Title
	m["author"] = p.Author
	m["date"] = p.Date
	m["content"] = p.Content
	return marshal(m)
}

// MarshalJSON flattens extension fields like Post.MarshalJSON.
func (m PostMeta) MarshalJSON() ([]byte, error) {
	out := flatten(m.Extra, 4)
	out["id"] = m.ID
	out["title"] = m.Title
	out["author"] = m.Author
	out["date"] = m.Date
	return marshal(out)
}

func flatten(extra map[string]any, reserve int) map[string]any {
	out := make(map[string]any, len(extra)+reserve)
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// marshal encodes v without escaping <, > and &, which Content carries as
// HTML. Outer encoders must also disable escaping to keep it literal.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
