// Package mdtext converts markdown to plain text so markup does not pollute
// embedding space. Assistant responses are frequently markdown; embedding the
// raw source skews similarity toward formatting tokens.
package mdtext

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// Strip renders markdown source to plain text. Block boundaries become
// newlines; inline markup is dropped. Input that fails to parse is returned
// unchanged.
func Strip(source string) string {
	if source == "" {
		return ""
	}
	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading:
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
		case *ast.ListItem, *ast.Blockquote:
			if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return source
	}

	out := buf.String()
	out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	return strings.TrimSpace(out)
}
