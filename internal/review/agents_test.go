package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAgents(f *fakeLLM) *Agents { return NewAgents(f, zap.NewNop().Sugar()) }

func TestAnalyze(t *testing.T) {
	f := newFakeLLM()
	f.replies["analyze"] = "```json\n" + `{"topic":"Go channels","content_type":"technical_tutorial","core_points":["channels synchronize goroutines",""],"key_terms":["channel","select"],"fact_claims":[],"search_queries":["go channels tutorial"]}` + "\n```"

	s := newTestAgents(f).Analyze(context.Background(), "some content")
	assert.Equal(t, "Go channels", s.Topic)
	assert.Equal(t, TechnicalTutorial, s.ContentType)
	assert.Equal(t, []string{"channels synchronize goroutines"}, s.CorePoints)
	assert.Equal(t, []string{"go channels tutorial"}, s.SearchQueries)
}

func TestAnalyzeFallbacks(t *testing.T) {
	content := "one two three four five six seven"

	f := newFakeLLM()
	f.errs["analyze"] = errors.New("down")
	s := newTestAgents(f).Analyze(context.Background(), content)
	assert.Equal(t, Unknown, s.ContentType)
	assert.Equal(t, []string{"one two three four five"}, s.SearchQueries)

	f = newFakeLLM()
	f.replies["analyze"] = "I cannot help with that"
	s = newTestAgents(f).Analyze(context.Background(), content)
	assert.Equal(t, Unknown, s.ContentType)
	assert.Empty(t, s.SearchQueries)

	f = newFakeLLM()
	f.replies["analyze"] = `{"topic":"x","content_type":"poetry"}`
	s = newTestAgents(f).Analyze(context.Background(), content)
	assert.Equal(t, Unknown, s.ContentType)
}

func TestCheckDepth(t *testing.T) {
	f := newFakeLLM()
	f.replies["depth"] = `{"score":"64","is_detailed_enough":false,"vague_points":[{"location":"Setup","issue":"skips install","question":"how?","suggestion":"show the command"}],"summary":"thin"}`
	d := newTestAgents(f).CheckDepth(context.Background(), "c", nil)
	assert.Equal(t, 64, d.Score)
	assert.False(t, d.DetailedEnough)
	require.Len(t, d.VaguePoints, 1)
	assert.Equal(t, "show the command", d.VaguePoints[0].Suggestion)

	f.replies["depth"] = ""
	assert.Equal(t, defaultDepth(), newTestAgents(f).CheckDepth(context.Background(), "c", nil))
}

func TestReviewQuality(t *testing.T) {
	f := newFakeLLM()
	f.replies["quality"] = `{"score":81,"issues":[{"issue_type":"factual_error","severity":"HIGH","location":"L3","description":"wrong default","suggestion":"fix it","reference":null},{"description":"vague"}],"accuracy_score":60}`
	q := newTestAgents(f).ReviewQuality(context.Background(), "c", nil)
	assert.Equal(t, 81, q.Score)
	assert.True(t, q.Approved)
	assert.Equal(t, 60, q.AccuracyScore)
	assert.Equal(t, 70, q.LogicScore)
	require.Len(t, q.Issues, 2)
	assert.Equal(t, "high", q.Issues[0].Severity)
	assert.Equal(t, "", q.Issues[0].Reference)
	assert.Equal(t, "unknown", q.Issues[1].IssueType)
	assert.Equal(t, "medium", q.Issues[1].Severity)

	f.errs["quality"] = errors.New("boom")
	assert.Equal(t, defaultQuality(), newTestAgents(f).ReviewQuality(context.Background(), "c", nil))
}

func TestCheckReadability(t *testing.T) {
	f := newFakeLLM()
	f.replies["readability"] = `{"score":77,"level":"impossible","vocabulary_score":90}`
	r := newTestAgents(f).CheckReadability(context.Background(), "c")
	assert.Equal(t, 77, r.Score)
	assert.Equal(t, LevelNormal, r.Level)
	assert.Equal(t, 90, r.VocabularyScore)
	assert.Equal(t, 70, r.SurfaceScore)
}

func TestImprove(t *testing.T) {
	d := DepthResult{Score: 60, VaguePoints: []VaguePoint{{Location: "A", Issue: "vague", Suggestion: "expand"}}}
	q := QualityResult{Issues: []Finding{{IssueType: "logic_error", Severity: "high", Location: "B", Description: "contradiction"}, {IssueType: "style", Severity: "low", Location: "C"}}}
	r := ReadabilityResult{Issues: []Finding{{IssueType: "long_sentence", Severity: "medium", Location: "D"}}}

	f := newFakeLLM()
	f.replies["improve"] = `{"feedback":[{"priority":4,"problem":"b"},{"priority":1,"problem":"a","estimated_effort":"high"},{"problem":"c"}]}`
	fb := newTestAgents(f).Improve(context.Background(), "c", d, q, r)
	require.Len(t, fb, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{fb[0].Priority, fb[1].Priority, fb[2].Priority})
	assert.Equal(t, "high", fb[0].EstimatedEffort)
	assert.Equal(t, "medium", fb[1].EstimatedEffort)

	f.replies["improve"] = "not json"
	assert.Empty(t, newTestAgents(f).Improve(context.Background(), "c", d, q, r))

	f.errs["improve"] = errors.New("timeout")
	fb = newTestAgents(f).Improve(context.Background(), "c", d, q, r)
	assert.Equal(t, FeedbackFromResults(d, q, r), fb)
}

func TestFeedbackFromResults(t *testing.T) {
	d := DepthResult{VaguePoints: []VaguePoint{{Location: "A", Issue: "vague", Suggestion: "expand"}}}
	q := QualityResult{Issues: []Finding{
		{IssueType: "q-low", Severity: "low"},
		{IssueType: "q-high", Severity: "high", Reference: "https://ref"},
		{IssueType: "q-med", Severity: "medium"},
	}}
	r := ReadabilityResult{Issues: []Finding{
		{IssueType: "r-high", Severity: "high"},
		{IssueType: "r-med", Severity: "medium"},
		{IssueType: "r-other", Severity: "trivial"},
	}}

	fb := FeedbackFromResults(d, q, r)
	got := map[string]Feedback{}
	for _, f := range fb {
		got[f.IssueType] = f
	}
	assert.Equal(t, 3, got["missing_detail"].Priority)
	assert.Equal(t, "medium", got["missing_detail"].EstimatedEffort)
	assert.Equal(t, 1, got["q-high"].Priority)
	assert.Equal(t, "https://ref", got["q-high"].Reference)
	assert.Equal(t, 2, got["q-med"].Priority)
	assert.Equal(t, 4, got["q-low"].Priority)
	assert.Equal(t, "low", got["q-low"].EstimatedEffort)
	assert.Equal(t, 2, got["r-high"].Priority)
	assert.Equal(t, 3, got["r-med"].Priority)
	assert.Equal(t, 4, got["r-other"].Priority)
	assert.Equal(t, "low", got["r-high"].EstimatedEffort)

	for i := 1; i < len(fb); i++ {
		assert.LessOrEqual(t, fb[i-1].Priority, fb[i].Priority)
	}
	assert.Equal(t, "q-high", fb[0].IssueType)
}

func TestAnalyzeImage(t *testing.T) {
	f := newFakeLLM()
	a := newTestAgents(f)

	_, ok := a.AnalyzeImage(context.Background(), []byte("x"), "image/png", "")
	assert.False(t, ok)

	f.image = "```json\n" + `{"description":"a flow chart","image_type":"diagram","quality_score":88,"relevance_score":0.9}` + "\n```"
	res, ok := a.AnalyzeImage(context.Background(), []byte("x"), "image/png", "ctx")
	require.True(t, ok)
	assert.Equal(t, ImageAnalysis{Description: "a flow chart", ImageType: "diagram", Quality: 88, Relevance: 0.9}, res)

	f.image = "It is a picture of a cat."
	res, ok = a.AnalyzeImage(context.Background(), []byte("x"), "image/png", "")
	require.True(t, ok)
	assert.Equal(t, ImageAnalysis{Description: "It is a picture of a cat.", ImageType: "other", Relevance: 0.5, Quality: 50}, res)
}
