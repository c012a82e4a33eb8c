package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lailoo/vibe-blog/internal/store"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

var (
	sectionHeading = regexp.MustCompile(`^(#{2,3})\s+(.+)$`)
	blankLine      = regexp.MustCompile(`\n\s*\n`)
)

type section struct {
	title   string
	content string
	start   int
}

// ChunkMarkdown splits md on level-two and level-three headings. Sections
// longer than size characters are split again on paragraphs, each part
// starting with the last overlap characters of the previous one. Positions
// count characters, not bytes.
func ChunkMarkdown(md string, size, overlap int) []store.DocumentChunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []store.DocumentChunk
	for _, sec := range splitSections(md) {
		n := utf8.RuneCountInString(sec.content)
		if n <= size {
			out = append(out, store.DocumentChunk{Title: sec.title, Content: sec.content, StartPos: sec.start, EndPos: sec.start + n})
			continue
		}
		out = append(out, splitParagraphs(sec, size, overlap)...)
	}
	for i := range out {
		out[i].ChunkIndex = i
	}
	return out
}

func splitSections(md string) []section {
	var (
		out []section
		cur section
		b   strings.Builder
		pos int
	)
	flush := func() {
		cur.content = b.String()
		if strings.TrimSpace(cur.content) != "" {
			out = append(out, cur)
		}
	}
	for _, line := range strings.Split(md, "\n") {
		if m := sectionHeading.FindStringSubmatch(line); m != nil {
			flush()
			cur = section{title: strings.TrimSpace(m[2]), start: pos}
			b.Reset()
		}
		b.WriteString(line)
		b.WriteByte('\n')
		pos += utf8.RuneCountInString(line) + 1
	}
	flush()
	if len(out) == 0 {
		out = append(out, section{content: md})
	}
	return out
}

func splitParagraphs(sec section, size, overlap int) []store.DocumentChunk {
	var (
		out     []store.DocumentChunk
		current string
		start   = sec.start
	)
	emit := func() {
		if strings.TrimSpace(current) == "" {
			return
		}
		title := fmt.Sprintf("Part %d", len(out)+1)
		if sec.title != "" {
			title = fmt.Sprintf("%s (Part %d)", sec.title, len(out)+1)
		}
		out = append(out, store.DocumentChunk{
			Title:    title,
			Content:  strings.TrimSpace(current),
			StartPos: start,
			EndPos:   start + utf8.RuneCountInString(current),
		})
	}
	for _, p := range blankLine.Split(sec.content, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		curLen := utf8.RuneCountInString(current)
		if curLen+utf8.RuneCountInString(p)+2 <= size {
			current += p + "\n\n"
			continue
		}
		emit()
		tail := ""
		if curLen > overlap {
			r := []rune(current)
			tail = string(r[len(r)-overlap:])
		}
		start += curLen - utf8.RuneCountInString(tail)
		current = tail + p + "\n\n"
	}
	emit()
	return out
}
