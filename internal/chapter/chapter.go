// Package chapter turns a markdown chapter into the ordered paragraph list the
// narrator reads. The chapter title, when present, is paragraph 0.
package chapter

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

// Paragraph is one narratable unit with a stable index.
type Paragraph struct {
	Index int
	Text  string
}

// Len returns the paragraph length in characters.
func (p Paragraph) Len() int {
	return utf8.RuneCountInString(p.Text)
}

// Chapter is a parsed chapter.
type Chapter struct {
	Path       string
	Title      string
	Paragraphs []Paragraph
}

// Load reads and parses the markdown file at path.
func Load(path string) (Chapter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Chapter{}, fmt.Errorf("unable to read chapter: %w", err)
	}
	ch := Parse(b)
	ch.Path = path
	return ch, nil
}

// Parse extracts paragraphs from markdown. The first heading becomes the title
// and paragraph 0; later headings, paragraphs, list items and block quotes each
// become one paragraph. Code and HTML blocks are skipped.
func Parse(markdown []byte) Chapter {
	reader := text.NewReader(markdown)
	doc := goldmark.New().Parser().Parse(reader)
	source := reader.Source()

	var ch Chapter
	add := func(s string) {
		s = clean(s)
		if s == "" {
			return
		}
		ch.Paragraphs = append(ch.Paragraphs, Paragraph{Index: len(ch.Paragraphs), Text: s})
	}

	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Heading:
				s := inlineText(node, source)
				if ch.Title == "" && len(ch.Paragraphs) == 0 {
					ch.Title = clean(s)
				}
				add(s)
			case *ast.Paragraph, *ast.TextBlock:
				add(inlineText(node, source))
			case *ast.List, *ast.ListItem, *ast.Blockquote:
				walk(node)
			case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
				// not narrated
			default:
				walk(node)
			}
		}
	}
	walk(doc)

	return ch
}

// FromTexts builds paragraphs from plain strings, dropping blank ones.
func FromTexts(texts ...string) []Paragraph {
	ps := make([]Paragraph, 0, len(texts))
	for _, t := range texts {
		if t = clean(t); t != "" {
			ps = append(ps, Paragraph{Index: len(ps), Text: t})
		}
	}
	return ps
}

func inlineText(n ast.Node, source []byte) string {
	var buf strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Text:
				buf.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(node.Value)
			case *ast.AutoLink:
				buf.Write(node.Label(source))
			case *ast.Image, *ast.RawHTML:
				// not narrated
			default:
				walk(node)
			}
		}
	}
	walk(n)
	return buf.String()
}

// clean normalizes to NFC and collapses whitespace.
func clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
