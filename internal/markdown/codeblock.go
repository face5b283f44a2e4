package markdown

import (
	"bytes"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// PlainLanguage annotates code blocks with no known language.
const PlainLanguage = "plaintext"

// Line ranges in fence meta, e.g. ```go {1,3-4}
var lineRangeRe = regexp.MustCompile(`\{([\d,\s-]+)\}`)

type highlighter struct {
	opts   Options
	style  *chroma.Style
	logger *slog.Logger
}

func newHighlighter(opts Options) *highlighter {
	return &highlighter{opts: opts, style: resolveStyle(opts.Style), logger: opts.Logger}
}

func (h *highlighter) formatter(extra []chromahtml.Option) *chromahtml.Formatter {
	opts := []chromahtml.Option{
		chromahtml.WithClasses(h.opts.WithClasses),
		chromahtml.WithLineNumbers(h.opts.LineNumbers),
		chromahtml.TabWidth(h.opts.TabWidth),
	}
	return chromahtml.New(append(opts, extra...)...)
}

// write renders one code block. lang is the fence language as written.
// Lexing or formatting failures degrade to escaped, unstyled code.
func (h *highlighter) write(w util.BufWriter, lang, meta, code string) {
	lexer, name := lookupLexer(lang)
	extra := []chromahtml.Option{chromahtml.WithPreWrapper(preWrapper{language: name})}
	if ranges := lineRanges(meta); len(ranges) > 0 {
		extra = append(extra, chromahtml.HighlightLines(ranges))
	}
	if strings.Contains(meta, "showLineNumbers") {
		extra = append(extra, chromahtml.WithLineNumbers(true))
	}

	var buf bytes.Buffer
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("highlight panic: %v", p)
			}
		}()
		it, err := chroma.Coalesce(lexer).Tokenise(nil, code)
		if err != nil {
			return err
		}
		return h.formatter(extra).Format(&buf, h.style, it)
	}()
	if err != nil {
		h.logger.Warn("markdown: highlight failed, rendering plain code",
			slog.String("language", name), slog.String("error", err.Error()))
		writePlain(w, name, code)
		return
	}
	_, _ = w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	_ = w.WriteByte('\n')
}

func lookupLexer(lang string) (chroma.Lexer, string) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return lexers.Fallback, PlainLanguage
	}
	if l := lexers.Get(lang); l != nil {
		return l, lang
	}
	return lexers.Fallback, PlainLanguage
}

func lineRanges(meta string) [][2]int {
	m := lineRangeRe.FindStringSubmatch(meta)
	if m == nil {
		return nil
	}
	var out [][2]int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			continue
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || end < start {
				continue
			}
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func writePlain(w util.BufWriter, lang, code string) {
	_, _ = fmt.Fprintf(w, `<pre data-language="%s"><code>`, html.EscapeString(lang))
	_, _ = w.WriteString(html.EscapeString(code))
	_, _ = w.WriteString("</code></pre>\n")
}

// preWrapper tags the chroma <pre> with the block language.
type preWrapper struct {
	language string
}

func (p preWrapper) Start(code bool, styleAttr string) string {
	lang := html.EscapeString(p.language)
	if code {
		return fmt.Sprintf(`<pre tabindex="0"%s data-language="%s"><code>`, styleAttr, lang)
	}
	return fmt.Sprintf(`<pre tabindex="0"%s data-language="%s">`, styleAttr, lang)
}

func (p preWrapper) End(code bool) string {
	if code {
		return "</code></pre>"
	}
	return "</pre>"
}

// codeBlockRenderer replaces goldmark's fenced and indented code output so
// every block goes through chroma, falling back to the plaintext lexer.
type codeBlockRenderer struct {
	hl *highlighter
}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFenced)
	reg.Register(ast.KindCodeBlock, r.renderIndented)
}

func (r *codeBlockRenderer) renderFenced(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	var lang, meta string
	if n.Info != nil {
		info := string(n.Info.Segment.Value(source))
		lang = string(n.Language(source))
		meta = strings.TrimSpace(strings.TrimPrefix(info, lang))
	}
	r.hl.write(w, lang, meta, blockText(n, source))
	return ast.WalkSkipChildren, nil
}

func (r *codeBlockRenderer) renderIndented(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	r.hl.write(w, "", "", blockText(node, source))
	return ast.WalkSkipChildren, nil
}

func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}
