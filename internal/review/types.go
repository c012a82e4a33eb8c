package review

import (
	"encoding/json"
	"strconv"
	"strings"
)

type ContentType string

const (
	TechnicalTutorial ContentType = "technical_tutorial"
	SciencePopular    ContentType = "science_popular"
	Documentation     ContentType = "documentation"
	News              ContentType = "news"
	Opinion           ContentType = "opinion"
	Unknown           ContentType = "unknown"
)

func parseContentType(s string) ContentType {
	switch ct := ContentType(strings.ToLower(strings.TrimSpace(s))); ct {
	case TechnicalTutorial, SciencePopular, Documentation, News, Opinion:
		return ct
	default:
		return Unknown
	}
}

const (
	LevelEasy     = "easy"
	LevelNormal   = "normal"
	LevelHard     = "hard"
	LevelVeryHard = "very_hard"
)

func parseLevel(s string) string {
	switch s {
	case LevelEasy, LevelNormal, LevelHard, LevelVeryHard:
		return s
	default:
		return LevelNormal
	}
}

// ContentSummary is what the analyzer learns about a chapter.
type ContentSummary struct {
	Topic         string      `json:"topic"`
	ContentType   ContentType `json:"content_type"`
	CorePoints    []string    `json:"core_points"`
	KeyTerms      []string    `json:"key_terms"`
	FactClaims    []string    `json:"fact_claims"`
	SearchQueries []string    `json:"search_queries"`
}

// Hit is a search result tagged with where it came from.
type Hit struct {
	Query     string  `json:"query"`
	Round     int     `json:"round"`
	URL       string  `json:"source_url"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance_score"`
}

type VaguePoint struct {
	Location   string `json:"location"`
	Issue      string `json:"issue"`
	Question   string `json:"question"`
	Suggestion string `json:"suggestion"`
}

// Finding is a single problem reported by the quality or readability pass.
type Finding struct {
	IssueType   string `json:"issue_type"`
	Severity    string `json:"severity"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
	Reference   string `json:"reference,omitempty"`
}

type DepthResult struct {
	Score          int          `json:"score"`
	DetailedEnough bool         `json:"is_detailed_enough"`
	VaguePoints    []VaguePoint `json:"vague_points"`
	Summary        string       `json:"summary"`
}

type QualityResult struct {
	Score             int       `json:"score"`
	Approved          bool      `json:"approved"`
	Issues            []Finding `json:"issues"`
	Summary           string    `json:"summary"`
	LogicScore        int       `json:"logic_score"`
	AccuracyScore     int       `json:"accuracy_score"`
	CompletenessScore int       `json:"completeness_score"`
}

type ReadabilityResult struct {
	Score           int       `json:"score"`
	Level           string    `json:"level"`
	Issues          []Finding `json:"issues"`
	Summary         string    `json:"summary"`
	VocabularyScore int       `json:"vocabulary_score"`
	SyntaxScore     int       `json:"syntax_score"`
	DiscourseScore  int       `json:"discourse_score"`
	SurfaceScore    int       `json:"surface_score"`
}

// Feedback is one prioritized, actionable improvement.
type Feedback struct {
	Priority        int    `json:"priority"`
	Location        string `json:"location"`
	IssueType       string `json:"issue_type"`
	Problem         string `json:"problem"`
	Action          string `json:"action"`
	Reference       string `json:"reference,omitempty"`
	EstimatedEffort string `json:"estimated_effort"`
}

type DimensionScores struct {
	Depth        int `json:"depth"`
	Accuracy     int `json:"accuracy"`
	Completeness int `json:"completeness"`
	Logic        int `json:"logic"`
	Clarity      int `json:"clarity"`
	Readability  int `json:"readability"`
}

type ImageAnalysis struct {
	Description  string  `json:"description"`
	DetectedText string  `json:"detected_text,omitempty"`
	ImageType    string  `json:"image_type"`
	Relevance    float64 `json:"relevance_score"`
	Quality      int     `json:"quality_score"`
}

// number accepts JSON numbers and numeric strings, which models emit
// interchangeably.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// text accepts a string or null.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		b, _ = json.Marshal(v)
		s = string(b)
	}
	*t = text(s)
	return nil
}
