package review

import (
	"strings"
	"text/template"
)

// maxPromptContent bounds the chapter text sent in a single prompt.
const maxPromptContent = 12000

var prompts = template.Must(template.New("review").Funcs(template.FuncMap{
	"clip": clip,
	"refs": FormatForPrompt,
}).Parse(`
{{define "analyze"}}You are analyzing a tutorial chapter before it is reviewed.

Identify the content type, main topic, core points, key terms and any factual
claims worth verifying, then propose up to three web search queries that would
find authoritative references for it.

content_type must be one of: technical_tutorial, science_popular,
documentation, news, opinion, unknown.

Content:
"""
{{clip .Content}}
"""

Reply with JSON only:
` + "```json" + `
{"topic": "...", "content_type": "technical_tutorial", "core_points": ["..."], "key_terms": ["..."], "fact_claims": ["..."], "search_queries": ["..."]}
` + "```" + `{{end}}

{{define "references"}}{{with refs .}}
Reference material:
{{.}}
{{end}}{{end}}

{{define "depth"}}You are checking whether a tutorial chapter explains things in enough depth.

Find vague passages: places where a reader would be left asking "how?" or
"why?", skipped steps, undefined terms, and missing examples. For each one give
the location, the problem, the question a reader would ask and a concrete
suggestion.
{{template "references" .References}}
Content:
"""
{{clip .Content}}
"""

Score depth from 0 to 100. Reply with JSON only:
` + "```json" + `
{"score": 75, "is_detailed_enough": true, "vague_points": [{"location": "...", "issue": "...", "question": "...", "suggestion": "..."}], "summary": "..."}
` + "```" + `{{end}}

{{define "quality"}}You are reviewing a tutorial chapter for logic, accuracy and completeness.

Report concrete problems with issue_type (logic_error, factual_error,
outdated, incomplete, inconsistent or other), severity (high, medium, low),
location, description and suggestion. Cite a reference URL when one supports
the correction.
{{template "references" .References}}
Content:
"""
{{clip .Content}}
"""

Scores are 0 to 100. Reply with JSON only:
` + "```json" + `
{"score": 75, "approved": true, "logic_score": 75, "accuracy_score": 75, "completeness_score": 75, "issues": [{"issue_type": "...", "severity": "medium", "location": "...", "description": "...", "suggestion": "...", "reference": null}], "summary": "..."}
` + "```" + `{{end}}

{{define "readability"}}You are rating how easy a tutorial chapter is to read.

Consider vocabulary (jargon, undefined terms), syntax (sentence length and
structure), discourse (flow, transitions, organization) and surface features
(headings, lists, code formatting). level is one of easy, normal, hard,
very_hard.

Content:
"""
{{clip .Content}}
"""

Scores are 0 to 100. Reply with JSON only:
` + "```json" + `
{"score": 75, "level": "normal", "vocabulary_score": 75, "syntax_score": 75, "discourse_score": 75, "surface_score": 75, "issues": [{"issue_type": "...", "severity": "low", "location": "...", "description": "...", "suggestion": "..."}], "summary": "..."}
` + "```" + `{{end}}

{{define "improve"}}You are turning review results into a prioritized list of edits for the author.

Merge duplicates, order by impact (priority 1 is most urgent, 5 least) and make
every action concrete enough to apply without rereading the review.

Depth review:
{{.Depth}}

Quality review:
{{.Quality}}

Readability review:
{{.Readability}}

Content:
"""
{{clip .Content}}
"""

estimated_effort is one of low, medium, high. Reply with JSON only:
` + "```json" + `
{"feedback": [{"priority": 1, "location": "...", "issue_type": "...", "problem": "...", "action": "...", "reference": null, "estimated_effort": "medium"}]}
` + "```" + `{{end}}

{{define "image"}}Analyze this image from a tutorial and return JSON with:

1. description: what the image shows, in two or three sentences
2. detected_text: any text visible in the image, or null
3. image_type: one of screenshot, diagram, chart, photo, code, other
4. quality_score: 0 to 100, judging clarity, completeness and information density
{{if .Context}}5. relevance_score: 0 to 1, how well the image supports this surrounding text:
"""
{{.Context}}
"""
{{else}}5. relevance_score: 0.5, since there is no surrounding text
{{end}}
Reply with JSON only:
{"description": "...", "detected_text": null, "image_type": "diagram", "quality_score": 80, "relevance_score": 0.8}{{end}}
`))

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxPromptContent {
		return s
	}
	return string(r[:maxPromptContent]) + "\n...(truncated)"
}

func render(name string, data interface{}) string {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		// templates are static; a failure here is a programming error
		panic(err)
	}
	return strings.TrimSpace(b.String())
}
