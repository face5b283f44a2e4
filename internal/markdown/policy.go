package markdown

import (
	"bytes"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

var (
	classRe    = regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)
	languageRe = regexp.MustCompile(`^[A-Za-z0-9_+#.-]+$`)
)

// newPolicy returns the sanitizer for untrusted content: user-generated
// content rules plus what the highlighter and GFM task lists emit.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(classRe).OnElements("span", "code", "pre", "div")
	p.AllowAttrs("data-language").Matching(languageRe).OnElements("pre")
	p.AllowAttrs("tabindex").Matching(regexp.MustCompile(`^0$`)).OnElements("pre")
	p.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("input")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")
	return p
}

// htmlBlockRenderer emits a raw HTML block only when the policy would keep
// it unchanged. Anything else is dropped whole, markdown text inside it
// included, so a sanitized page renders to itself.
type htmlBlockRenderer struct {
	policy *bluemonday.Policy
}

func (r *htmlBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindHTMLBlock, r.render)
}

func (r *htmlBlockRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.HTMLBlock)
	var raw bytes.Buffer
	raw.WriteString(blockText(n, source))
	if n.HasClosure() {
		raw.Write(n.ClosureLine.Value(source))
	}
	if bytes.Equal(r.policy.SanitizeBytes(raw.Bytes()), raw.Bytes()) {
		_, _ = w.Write(raw.Bytes())
	}
	return ast.WalkSkipChildren, nil
}
