// Package corpus fetches the documentation corpus and turns it into DocPages.
// The upstream corpus is one markdown file where every section starts with a
// "# Title" line followed by a "Source: <url>" line.
package corpus

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

const sourcePrefix = "Source:"

var markdown = goldmark.New()

// ParseSections splits a combined corpus file into pages. Text before the
// first section header is ignored. Sections with no content after cleaning are
// dropped.
func ParseSections(raw []byte, path string) ([]domain.DocPage, error) {
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse corpus", fmt.Errorf("%s is not valid utf-8", path))
	}

	var (
		pages   []domain.DocPage
		current *domain.DocPage
		body    strings.Builder
		pending string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Content = CleanMarkdown(body.String())
		if current.Content != "" {
			pages = append(pages, *current)
		}
		current = nil
		body.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	inFence := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if pending != "" {
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, sourcePrefix) {
				flush()
				current = &domain.DocPage{
					Title: pending,
					URL:   strings.TrimSpace(strings.TrimPrefix(trimmed, sourcePrefix)),
					Path:  path,
				}
				pending = ""
				continue
			}
			// A top-level heading without a source line is ordinary content.
			if current != nil {
				body.WriteString("# " + pending + "\n")
			}
			pending = ""
		}

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "# ") {
			pending = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			continue
		}
		if current != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan corpus %s: %w", path, err)
	}
	if pending != "" && current != nil {
		body.WriteString("# " + pending + "\n")
	}
	flush()
	return pages, nil
}

// CleanMarkdown renders markdown to plain text: markup is removed, code block
// bodies and link texts are kept, and block elements are separated by a blank
// line.
func CleanMarkdown(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var blocks []string
	var cur strings.Builder
	endBlock := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			blocks = append(blocks, s)
		}
		cur.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					cur.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				endBlock()
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					cur.Write(seg.Value(source))
				}
				endBlock()
				return ast.WalkSkipChildren, nil
			}
		case *ast.AutoLink:
			if entering {
				cur.Write(node.URL(source))
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		default:
			if n.Type() == ast.TypeBlock && !entering {
				endBlock()
			}
		}
		return ast.WalkContinue, nil
	})
	endBlock()
	return strings.Join(blocks, "\n\n")
}
