package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPostMarshal_CanonicalFieldsWin(t *testing.T) {
	p := Post{
		ID:      "hello",
		Title:   "Hello",
		Date:    "2023-05-01",
		Content: "<p>hi</p>",
		Extra:   map[string]any{"id": "spoofed", "content": "raw", "tags": []any{"go"}},
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["id"] != "hello" {
		t.Errorf("id = %v, want hello", got["id"])
	}
	if got["content"] != "<p>hi</p>" {
		t.Errorf("content = %v", got["content"])
	}
	if _, ok := got["tags"]; !ok {
		t.Error("extension field tags missing")
	}
}

func TestPostMeta_OmitsContent(t *testing.T) {
	p := Post{ID: "a", Content: "<p>x</p>", Extra: map[string]any{"draft": false}}
	data, err := json.Marshal(p.Meta())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	_ = json.Unmarshal(data, &got)
	if _, ok := got["content"]; ok {
		t.Error("meta should not carry content")
	}
	if got["draft"] != false {
		t.Errorf("draft = %v", got["draft"])
	}
}

func TestPostMarshal_KeepsHTMLLiteral(t *testing.T) {
	p := Post{ID: "a", Content: "<p>a & b</p>"}
	data, err := p.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"content":"<p>a & b</p>"`) {
		t.Errorf("MarshalJSON = %s", data)
	}
	if bytes.HasSuffix(data, []byte("\n")) {
		t.Error("trailing newline in MarshalJSON output")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"content":"<p>a & b</p>"`) {
		t.Errorf("encoded = %s", buf.String())
	}
}
