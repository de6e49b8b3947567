package history

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultPreviewChars is the preview length used by timeline and search
// results.
const DefaultPreviewChars = 160

var previewMarkdown = goldmark.New()

// Preview strips markdown from message content and returns a single-line
// plain-text preview of at most maxChars runes. Block boundaries collapse to
// single spaces; code block content is kept verbatim.
func Preview(content string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultPreviewChars
	}

	src := []byte(content)
	root := previewMarkdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
				b.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.URL(src))
		default:
			if _, isBlock := n.(*ast.Paragraph); isBlock && b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	plain := strings.Join(strings.Fields(b.String()), " ")
	return truncateRunes(plain, maxChars)
}

// truncateRunes cuts s to at most maxChars runes, appending an ellipsis when
// anything was removed. Never splits a multi-byte rune.
func truncateRunes(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}

	count := 0
	for i := range s {
		if count == maxChars {
			return strings.TrimRight(s[:i], " ") + "..."
		}
		count++
	}
	return s
}
