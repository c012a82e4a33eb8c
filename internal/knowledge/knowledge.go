package knowledge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/search"
	"github.com/lailoo/vibe-blog/internal/store"
)

const (
	SourceDocument = "document"
	SourceWeb      = "web_search"

	DefaultMaxItems       = 20
	DefaultMaxPromptChars = 30000
)

// Item is one piece of background knowledge offered to a writer prompt.
type Item struct {
	SourceType string  `json:"source_type"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	URL        string  `json:"url,omitempty"`
	FileName   string  `json:"file_name,omitempty"`
	Relevance  float64 `json:"relevance_score"`
}

// Builder turns documents and search results into knowledge items.
type Builder struct {
	maxContent  int
	maxDocItems int
	log         *zap.SugaredLogger
}

func New(maxContentLength, maxDocItems int, logger *zap.SugaredLogger) *Builder {
	if maxContentLength <= 0 {
		maxContentLength = 8000
	}
	if maxDocItems <= 0 {
		maxDocItems = 10
	}
	return &Builder{maxContent: maxContentLength, maxDocItems: maxDocItems, log: logger}
}

// FromDocuments makes one item per parsed document. Failed and empty
// documents are skipped.
func (b *Builder) FromDocuments(docs []store.Document) []Item {
	var out []Item
	for _, d := range docs {
		if d.Status == store.StatusFailed || strings.TrimSpace(d.Markdown) == "" {
			b.log.Warnw("document has no content, skipping", "document", d.ID, "file", d.FileName)
			continue
		}
		title := extractTitle(d.Markdown)
		if title == "" {
			title = d.FileName
		}
		out = append(out, Item{
			SourceType: SourceDocument,
			Title:      title,
			Content:    b.truncate(d.Markdown),
			FileName:   d.FileName,
			Relevance:  1.0,
		})
	}
	return out
}

// FromChunks builds the two-level view of parsed documents: the summary,
// then each chunk, then the captions of its images.
func (b *Builder) FromChunks(docs []store.Document, chunks []store.DocumentChunk) []Item {
	byDoc := map[string][]store.DocumentChunk{}
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}

	var out []Item
	for _, d := range docs {
		if strings.TrimSpace(d.Summary) != "" {
			out = append(out, Item{
				SourceType: SourceDocument,
				Title:      d.FileName + " - summary",
				Content:    d.Summary,
				FileName:   d.FileName,
				Relevance:  1.0,
			})
		}
		for _, c := range byDoc[d.ID] {
			if strings.TrimSpace(c.Content) == "" {
				continue
			}
			title := d.FileName
			if c.Title != "" {
				title = d.FileName + " - " + c.Title
			}
			out = append(out, Item{
				SourceType: SourceDocument,
				Title:      title,
				Content:    b.truncate(c.Content),
				FileName:   d.FileName,
				Relevance:  0.9,
			})
		}
		if captions := imageCaptions(d.Images); captions != "" {
			out = append(out, Item{
				SourceType: SourceDocument,
				Title:      d.FileName + " - images",
				Content:    captions,
				FileName:   d.FileName,
				Relevance:  0.7,
			})
		}
	}
	b.log.Infow("prepared chunked knowledge", "items", len(out), "documents", len(docs))
	return out
}

func imageCaptions(raw string) string {
	if raw == "" {
		return ""
	}
	var images []store.DocumentImage
	if err := json.Unmarshal([]byte(raw), &images); err != nil {
		return ""
	}
	var lines []string
	for _, img := range images {
		if img.Caption != "" {
			lines = append(lines, fmt.Sprintf("- page %d image: %s", img.Page, img.Caption))
		}
	}
	return strings.Join(lines, "\n")
}

// FromSearch converts web results; results without content are dropped.
func FromSearch(results []search.Result) []Item {
	var out []Item
	for _, r := range results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		out = append(out, Item{SourceType: SourceWeb, Title: r.Title, Content: r.Content, URL: r.URL, Relevance: 0.5})
	}
	return out
}

// Merge puts the most relevant document items first, up to the document
// cap, then fills with web items whose title or file name is not already
// present. maxItems <= 0 means DefaultMaxItems.
func (b *Builder) Merge(docItems, web []Item, maxItems int) []Item {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	sorted := append([]Item(nil), docItems...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Relevance > sorted[j].Relevance })
	if len(sorted) > b.maxDocItems {
		sorted = sorted[:b.maxDocItems]
	}
	out := sorted
	added := 0
	for _, w := range web {
		if len(out) >= maxItems {
			break
		}
		if duplicate(w, out) {
			continue
		}
		out = append(out, w)
		added++
	}
	b.log.Infow("merged knowledge", "documents", len(sorted), "web", added)
	return out
}

func duplicate(item Item, existing []Item) bool {
	for _, e := range existing {
		if item.FileName != "" && item.FileName == e.FileName {
			return true
		}
		if item.Title != "" && (item.Title == e.Title || item.Title == e.FileName) {
			return true
		}
	}
	return false
}

type Ref struct {
	Title    string `json:"title"`
	FileName string `json:"file_name,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Prompt is knowledge laid out for a writer prompt.
type Prompt struct {
	Background   string `json:"background_knowledge"`
	DocumentRefs []Ref  `json:"document_references"`
	WebRefs      []Ref  `json:"web_references"`
}

// SummarizeForPrompt joins items into one text of at most maxChars
// characters of content. The item that crosses the limit is cut short when
// more than 500 characters of room remain, and dropped otherwise.
func SummarizeForPrompt(items []Item, maxChars int) Prompt {
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}
	p := Prompt{DocumentRefs: []Ref{}, WebRefs: []Ref{}}
	var parts []string
	total := 0
	for _, it := range items {
		content := []rune(it.Content)
		if total+len(content) > maxChars {
			if remaining := maxChars - total; remaining > 500 {
				parts = append(parts, fmt.Sprintf("### %s\n\n%s\n...(truncated)", it.Title, string(content[:remaining])))
			}
			break
		}
		parts = append(parts, fmt.Sprintf("### %s\n\n%s", it.Title, it.Content))
		total += len(content)
		if it.SourceType == SourceDocument {
			p.DocumentRefs = append(p.DocumentRefs, Ref{Title: it.Title, FileName: it.FileName})
		} else {
			p.WebRefs = append(p.WebRefs, Ref{Title: it.Title, URL: it.URL})
		}
	}
	p.Background = strings.Join(parts, "\n\n---\n\n")
	return p
}

// Counts tallies items by source.
type Counts struct {
	Documents   int `json:"doc_items"`
	Web         int `json:"web_items"`
	Total       int `json:"total_items"`
	TotalLength int `json:"total_length"`
}

func Stats(items []Item) Counts {
	var c Counts
	for _, it := range items {
		if it.SourceType == SourceDocument {
			c.Documents++
		} else {
			c.Web++
		}
		c.TotalLength += len([]rune(it.Content))
	}
	c.Total = len(items)
	return c
}

func (b *Builder) truncate(content string) string {
	r := []rune(content)
	if len(r) <= b.maxContent {
		return content
	}
	return fmt.Sprintf("%s\n\n...(truncated, original length %d characters)", string(r[:b.maxContent]), len(r))
}

var headingRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// extractTitle prefers the first level-one heading, then the first
// non-heading line cut to 50 characters.
func extractTitle(md string) string {
	if m := headingRe.FindStringSubmatch(md); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, line := range strings.Split(strings.TrimSpace(md), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if r := []rune(line); len(r) > 50 {
			return string(r[:50]) + "..."
		}
		return line
	}
	return ""
}
