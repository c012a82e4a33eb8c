package review

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/llm"
)

// Agents runs the per-chapter model passes. Every pass degrades to a
// neutral result instead of failing the evaluation.
type Agents struct {
	llm llm.Client
	log *zap.SugaredLogger
}

func NewAgents(client llm.Client, logger *zap.SugaredLogger) *Agents {
	return &Agents{llm: client, log: logger}
}

type analyzeReply struct {
	Topic         text     `json:"topic"`
	ContentType   text     `json:"content_type"`
	CorePoints    []string `json:"core_points"`
	KeyTerms      []string `json:"key_terms"`
	FactClaims    []string `json:"fact_claims"`
	SearchQueries []string `json:"search_queries"`
}

// Analyze classifies content and proposes search queries.
func (a *Agents) Analyze(ctx context.Context, content string) ContentSummary {
	var r analyzeReply
	err := llm.ChatJSON(ctx, a.llm, render("analyze", map[string]string{"Content": content}), &r)
	switch {
	case errors.Is(err, llm.ErrInvalidJSON):
		a.log.Warnw("analyze reply not json", "error", err)
		return defaultSummary("")
	case err != nil:
		a.log.Errorw("analyze failed", "error", err)
		return defaultSummary(content)
	}
	return ContentSummary{
		Topic:         string(r.Topic),
		ContentType:   parseContentType(string(r.ContentType)),
		CorePoints:    nonEmpty(r.CorePoints),
		KeyTerms:      nonEmpty(r.KeyTerms),
		FactClaims:    nonEmpty(r.FactClaims),
		SearchQueries: nonEmpty(r.SearchQueries),
	}
}

// defaultSummary searches on the first five words of the opening text.
func defaultSummary(content string) ContentSummary {
	head := content
	if r := []rune(head); len(r) > 500 {
		head = string(r[:500])
	}
	s := ContentSummary{ContentType: Unknown, CorePoints: []string{}, KeyTerms: []string{}, FactClaims: []string{}, SearchQueries: []string{}}
	words := strings.Fields(head)
	if len(words) > 5 {
		words = words[:5]
	}
	if len(words) > 0 {
		s.SearchQueries = []string{strings.Join(words, " ")}
	}
	return s
}

type depthReply struct {
	Score          *number `json:"score"`
	DetailedEnough *bool   `json:"is_detailed_enough"`
	VaguePoints    []struct {
		Location   text `json:"location"`
		Issue      text `json:"issue"`
		Question   text `json:"question"`
		Suggestion text `json:"suggestion"`
	} `json:"vague_points"`
	Summary text `json:"summary"`
}

func (a *Agents) CheckDepth(ctx context.Context, content string, refs []Hit) DepthResult {
	var r depthReply
	prompt := render("depth", map[string]interface{}{"Content": content, "References": refs})
	if err := llm.ChatJSON(ctx, a.llm, prompt, &r); err != nil {
		a.log.Warnw("depth check failed", "error", err)
		return defaultDepth()
	}
	out := DepthResult{
		Score:          scoreOr(r.Score, 70),
		DetailedEnough: r.DetailedEnough == nil || *r.DetailedEnough,
		VaguePoints:    []VaguePoint{},
		Summary:        string(r.Summary),
	}
	for _, vp := range r.VaguePoints {
		out.VaguePoints = append(out.VaguePoints, VaguePoint{
			Location:   string(vp.Location),
			Issue:      string(vp.Issue),
			Question:   string(vp.Question),
			Suggestion: string(vp.Suggestion),
		})
	}
	return out
}

func defaultDepth() DepthResult {
	return DepthResult{Score: 70, DetailedEnough: true, VaguePoints: []VaguePoint{}, Summary: "depth check completed"}
}

type findingReply struct {
	IssueType   text `json:"issue_type"`
	Severity    text `json:"severity"`
	Location    text `json:"location"`
	Description text `json:"description"`
	Suggestion  text `json:"suggestion"`
	Reference   text `json:"reference"`
}

func (f findingReply) finding() Finding {
	out := Finding{
		IssueType:   string(f.IssueType),
		Severity:    strings.ToLower(string(f.Severity)),
		Location:    string(f.Location),
		Description: string(f.Description),
		Suggestion:  string(f.Suggestion),
		Reference:   string(f.Reference),
	}
	if out.IssueType == "" {
		out.IssueType = "unknown"
	}
	if out.Severity == "" {
		out.Severity = "medium"
	}
	return out
}

type qualityReply struct {
	Score             *number        `json:"score"`
	Approved          *bool          `json:"approved"`
	Issues            []findingReply `json:"issues"`
	Summary           text           `json:"summary"`
	LogicScore        *number        `json:"logic_score"`
	AccuracyScore     *number        `json:"accuracy_score"`
	CompletenessScore *number        `json:"completeness_score"`
}

func (a *Agents) ReviewQuality(ctx context.Context, content string, refs []Hit) QualityResult {
	var r qualityReply
	prompt := render("quality", map[string]interface{}{"Content": content, "References": refs})
	if err := llm.ChatJSON(ctx, a.llm, prompt, &r); err != nil {
		a.log.Warnw("quality review failed", "error", err)
		return defaultQuality()
	}
	out := QualityResult{
		Score:             scoreOr(r.Score, 70),
		Approved:          r.Approved == nil || *r.Approved,
		Issues:            []Finding{},
		Summary:           string(r.Summary),
		LogicScore:        scoreOr(r.LogicScore, 70),
		AccuracyScore:     scoreOr(r.AccuracyScore, 70),
		CompletenessScore: scoreOr(r.CompletenessScore, 70),
	}
	for _, f := range r.Issues {
		out.Issues = append(out.Issues, f.finding())
	}
	return out
}

func defaultQuality() QualityResult {
	return QualityResult{
		Score: 70, Approved: true, Issues: []Finding{}, Summary: "quality review completed",
		LogicScore: 70, AccuracyScore: 70, CompletenessScore: 70,
	}
}

type readabilityReply struct {
	Score           *number        `json:"score"`
	Level           text           `json:"level"`
	Issues          []findingReply `json:"issues"`
	Summary         text           `json:"summary"`
	VocabularyScore *number        `json:"vocabulary_score"`
	SyntaxScore     *number        `json:"syntax_score"`
	DiscourseScore  *number        `json:"discourse_score"`
	SurfaceScore    *number        `json:"surface_score"`
}

func (a *Agents) CheckReadability(ctx context.Context, content string) ReadabilityResult {
	var r readabilityReply
	if err := llm.ChatJSON(ctx, a.llm, render("readability", map[string]string{"Content": content}), &r); err != nil {
		a.log.Warnw("readability check failed", "error", err)
		return defaultReadability()
	}
	out := ReadabilityResult{
		Score:           scoreOr(r.Score, 70),
		Level:           parseLevel(string(r.Level)),
		Issues:          []Finding{},
		Summary:         string(r.Summary),
		VocabularyScore: scoreOr(r.VocabularyScore, 70),
		SyntaxScore:     scoreOr(r.SyntaxScore, 70),
		DiscourseScore:  scoreOr(r.DiscourseScore, 70),
		SurfaceScore:    scoreOr(r.SurfaceScore, 70),
	}
	for _, f := range r.Issues {
		fd := f.finding()
		fd.Reference = ""
		out.Issues = append(out.Issues, fd)
	}
	return out
}

func defaultReadability() ReadabilityResult {
	return ReadabilityResult{
		Score: 70, Level: LevelNormal, Issues: []Finding{}, Summary: "readability check completed",
		VocabularyScore: 70, SyntaxScore: 70, DiscourseScore: 70, SurfaceScore: 70,
	}
}

type improveReply struct {
	Feedback []struct {
		Priority        *number `json:"priority"`
		Location        text    `json:"location"`
		IssueType       text    `json:"issue_type"`
		Problem         text    `json:"problem"`
		Action          text    `json:"action"`
		Reference       text    `json:"reference"`
		EstimatedEffort text    `json:"estimated_effort"`
	} `json:"feedback"`
}

// Improve asks the model for prioritized feedback. A reply that is not
// JSON yields no feedback; a failed call falls back to FeedbackFromResults.
func (a *Agents) Improve(ctx context.Context, content string, d DepthResult, q QualityResult, r ReadabilityResult) []Feedback {
	prompt := render("improve", map[string]string{
		"Content":     content,
		"Depth":       mustJSON(map[string]interface{}{"score": d.Score, "vague_points": d.VaguePoints}),
		"Quality":     mustJSON(map[string]interface{}{"score": q.Score, "issues": q.Issues}),
		"Readability": mustJSON(map[string]interface{}{"score": r.Score, "level": r.Level, "issues": r.Issues}),
	})
	var reply improveReply
	err := llm.ChatJSON(ctx, a.llm, prompt, &reply)
	switch {
	case errors.Is(err, llm.ErrInvalidJSON):
		a.log.Warnw("improvement reply not json", "error", err)
		return []Feedback{}
	case err != nil:
		a.log.Errorw("improvement failed", "error", err)
		return FeedbackFromResults(d, q, r)
	}
	out := make([]Feedback, 0, len(reply.Feedback))
	for _, f := range reply.Feedback {
		fb := Feedback{
			Priority:        scoreOr(f.Priority, 3),
			Location:        string(f.Location),
			IssueType:       string(f.IssueType),
			Problem:         string(f.Problem),
			Action:          string(f.Action),
			Reference:       string(f.Reference),
			EstimatedEffort: string(f.EstimatedEffort),
		}
		if fb.IssueType == "" {
			fb.IssueType = "unknown"
		}
		if fb.EstimatedEffort == "" {
			fb.EstimatedEffort = "medium"
		}
		out = append(out, fb)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// FeedbackFromResults derives feedback directly from the review results.
func FeedbackFromResults(d DepthResult, q QualityResult, r ReadabilityResult) []Feedback {
	out := []Feedback{}
	for _, vp := range d.VaguePoints {
		out = append(out, Feedback{
			Priority: 3, Location: vp.Location, IssueType: "missing_detail",
			Problem: vp.Issue, Action: vp.Suggestion, EstimatedEffort: "medium",
		})
	}
	for _, f := range q.Issues {
		p := 4
		switch f.Severity {
		case "high":
			p = 1
		case "medium":
			p = 2
		}
		effort := "medium"
		if f.Severity == "low" {
			effort = "low"
		}
		out = append(out, Feedback{
			Priority: p, Location: f.Location, IssueType: f.IssueType,
			Problem: f.Description, Action: f.Suggestion, Reference: f.Reference, EstimatedEffort: effort,
		})
	}
	for _, f := range r.Issues {
		p := 4
		switch f.Severity {
		case "high":
			p = 2
		case "medium":
			p = 3
		}
		out = append(out, Feedback{
			Priority: p, Location: f.Location, IssueType: f.IssueType,
			Problem: f.Description, Action: f.Suggestion, EstimatedEffort: "low",
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

type imageReply struct {
	Description  text    `json:"description"`
	DetectedText text    `json:"detected_text"`
	ImageType    text    `json:"image_type"`
	Relevance    *number `json:"relevance_score"`
	Quality      *number `json:"quality_score"`
}

// AnalyzeImage describes one image. It returns false when the model could
// not be reached; an unparseable reply still yields a neutral analysis.
func (a *Agents) AnalyzeImage(ctx context.Context, data []byte, mimeType, surrounding string) (ImageAnalysis, bool) {
	if r := []rune(surrounding); len(r) > 500 {
		surrounding = string(r[:500])
	}
	resp, err := a.llm.ChatWithImage(ctx, render("image", map[string]string{"Context": surrounding}), data, mimeType)
	if err != nil || strings.TrimSpace(resp) == "" {
		a.log.Warnw("image analysis failed", "error", err)
		return ImageAnalysis{}, false
	}
	var r imageReply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp)), &r); err != nil {
		desc := []rune(strings.TrimSpace(resp))
		if len(desc) > 200 {
			desc = desc[:200]
		}
		return ImageAnalysis{Description: string(desc), ImageType: "other", Relevance: 0.5, Quality: 50}, true
	}
	out := ImageAnalysis{
		Description:  string(r.Description),
		DetectedText: string(r.DetectedText),
		ImageType:    string(r.ImageType),
		Relevance:    0.5,
		Quality:      scoreOr(r.Quality, 50),
	}
	if r.Relevance != nil {
		out.Relevance = float64(*r.Relevance)
	}
	if out.ImageType == "" {
		out.ImageType = "other"
	}
	return out, true
}

func scoreOr(n *number, def int) int {
	if n == nil {
		return def
	}
	return int(*n)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
