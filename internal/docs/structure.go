package docs

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

type CodeBlock struct {
	Language string `json:"language"`
	Lines    int    `json:"lines"`
}

type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type ImageRef struct {
	Alt string `json:"alt"`
	Src string `json:"src"`
}

// Structure summarizes the markdown elements of a chapter.
type Structure struct {
	Headings   []Heading   `json:"headings"`
	CodeBlocks []CodeBlock `json:"code_blocks"`
	Images     []ImageRef  `json:"images"`
	Links      []Link      `json:"links"`
	ListItems  int         `json:"list_items"`
	Tables     int         `json:"tables"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

// ExtractStructure parses content and collects headings, code blocks,
// images, non-anchor links, list items and tables.
func ExtractStructure(content string) Structure {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))
	st := Structure{Headings: []Heading{}, CodeBlocks: []CodeBlock{}, Images: []ImageRef{}, Links: []Link{}}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			st.Headings = append(st.Headings, Heading{Level: v.Level, Text: strings.TrimSpace(nodeText(v, src))})
		case *ast.FencedCodeBlock:
			st.CodeBlocks = append(st.CodeBlocks, CodeBlock{Language: string(v.Language(src)), Lines: v.Lines().Len()})
		case *ast.CodeBlock:
			st.CodeBlocks = append(st.CodeBlocks, CodeBlock{Lines: v.Lines().Len()})
		case *ast.Image:
			st.Images = append(st.Images, ImageRef{Alt: nodeText(v, src), Src: string(v.Destination)})
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if dest := string(v.Destination); !strings.HasPrefix(dest, "#") {
				st.Links = append(st.Links, Link{Text: nodeText(v, src), URL: dest})
			}
		case *ast.AutoLink:
			u := string(v.URL(src))
			st.Links = append(st.Links, Link{Text: u, URL: u})
		case *ast.ListItem:
			st.ListItems++
		case *east.Table:
			st.Tables++
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return st
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(nodeText(c, src))
		}
	}
	return b.String()
}
