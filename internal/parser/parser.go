// Package parser splits content files into front matter and a markdown body.
package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/folio/internal/apperr"
)

const (
	openDelim  = "---"
	closeDelim = "---"
	// YAML document end marker, accepted as an alternative closing line.
	endDelim = "..."
)

var bom = []byte("\xef\xbb\xbf")

// Result holds the output of parsing a content file.
type Result struct {
	Frontmatter map[string]any
	Body        string
}

// Parse separates the front matter block from the markdown body.
//
// A file without an opening delimiter is all body. An opening delimiter
// with no closing line returns apperr.ErrMalformedFrontMatter. Individual
// keys that fail to decode are dropped without failing the file.
func Parse(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, bom)
	block, body, ok, err := split(data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Frontmatter: map[string]any{}, Body: string(data)}, nil
	}
	return &Result{Frontmatter: decodeBlock(block), Body: body}, nil
}

// split finds the delimited block at the top of data.
func split(data []byte) (block []byte, body string, found bool, err error) {
	trimmed := bytes.TrimLeft(data, "\r\n")
	first, rest, _ := cutLine(trimmed)
	if string(first) != openDelim {
		return nil, "", false, nil
	}

	offset := 0
	for remaining := rest; len(remaining) > 0; {
		line, next, _ := cutLine(remaining)
		if s := string(line); s == closeDelim || s == endDelim {
			block = rest[:offset]
			body = strings.TrimLeft(string(next), "\r\n")
			return block, body, true, nil
		}
		offset += len(remaining) - len(next)
		remaining = next
	}
	return nil, "", false, fmt.Errorf("parser: no closing %q: %w", closeDelim, apperr.ErrMalformedFrontMatter)
}

// cutLine returns the first line of b without its terminator and
// trailing blanks, and the remainder after the terminator.
func cutLine(b []byte) (line, rest []byte, found bool) {
	line, rest, found = bytes.Cut(b, []byte("\n"))
	return bytes.TrimRight(line, " \t\r"), rest, found
}

// decodeBlock decodes the block as a YAML mapping. When the block is not
// valid YAML as a whole, each top-level line is decoded on its own.
func decodeBlock(block []byte) map[string]any {
	fm := map[string]any{}
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err == nil {
		if len(doc.Content) == 0 {
			return fm
		}
		if root := doc.Content[0]; root.Kind == yaml.MappingNode {
			decodeMapping(root, fm)
			return fm
		}
	}

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
			continue
		}
		var n yaml.Node
		if err := yaml.Unmarshal([]byte(line), &n); err != nil {
			continue
		}
		if len(n.Content) == 0 || n.Content[0].Kind != yaml.MappingNode {
			continue
		}
		decodeMapping(n.Content[0], fm)
	}
	return fm
}

func decodeMapping(m *yaml.Node, fm map[string]any) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode || k.Value == "" || k.Value == "<<" {
			continue
		}
		val, ok := decodeValue(v)
		if !ok {
			continue
		}
		fm[k.Value] = val
	}
}

// decodeValue keeps timestamps as their source text so dates stay in
// their raw authored form.
func decodeValue(n *yaml.Node) (any, bool) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!timestamp" {
		return n.Value, true
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, false
	}
	return normalize(v), true
}

// normalize rewrites nested maps with non-string keys, which yaml decodes
// as map[any]any, into map[string]any so every value encodes as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

// String returns fm[key] rendered as a string, or "" when the key is
// missing or not a scalar.
func String(fm map[string]any, key string) string {
	v, ok := fm[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
