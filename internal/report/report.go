package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/lailoo/vibe-blog/internal/store"
)

//go:embed report.md.tmpl
var reportTmpl string

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"scoreEmoji":    scoreEmoji,
	"severityEmoji": severityEmoji,
	"chapterTitle": func(c store.Chapter) string {
		if c.Title != "" {
			return c.Title
		}
		return c.FileName
	},
}).Parse(reportTmpl))

type chapterView struct {
	store.Chapter
	Issues []store.Issue
}

// Markdown renders a downloadable review report. issues maps chapter id to
// that chapter's issues.
func Markdown(t *store.Tutorial, chapters []store.Chapter, issues map[int64][]store.Issue) (string, error) {
	views := make([]chapterView, 0, len(chapters))
	for _, c := range chapters {
		views = append(views, chapterView{Chapter: c, Issues: issues[c.ID]})
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		Tutorial *store.Tutorial
		Chapters []chapterView
	}{t, views})
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

func scoreEmoji(score interface{}) string {
	var s float64
	switch v := score.(type) {
	case int:
		s = float64(v)
	case float64:
		s = v
	}
	switch {
	case s >= 80:
		return "🟢"
	case s >= 60:
		return "🟡"
	default:
		return "🔴"
	}
}

func severityEmoji(severity string) string {
	switch severity {
	case store.SeverityHigh:
		return "🔴"
	case store.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}
