package store

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	StatusPending    = "pending"
	StatusCloning    = "cloning"
	StatusEvaluating = "evaluating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

type Tutorial struct {
	bun.BaseModel `bun:"table:reviewer_tutorials"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	Name        string `bun:"name" json:"name"`
	GitURL      string `bun:"git_url" json:"git_url"`
	LocalPath   string `bun:"local_path" json:"local_path"`
	Description string `bun:"description" json:"description"`
	Branch      string `bun:"branch" json:"branch"`

	EnableSearch    bool `bun:"enable_search" json:"enable_search"`
	MaxSearchRounds int  `bun:"max_search_rounds" json:"max_search_rounds"`

	TotalChapters  int `bun:"total_chapters" json:"total_chapters"`
	TotalIssues    int `bun:"total_issues" json:"total_issues"`
	HighIssues     int `bun:"high_issues" json:"high_issues"`
	MediumIssues   int `bun:"medium_issues" json:"medium_issues"`
	LowIssues      int `bun:"low_issues" json:"low_issues"`
	ResolvedIssues int `bun:"resolved_issues" json:"resolved_issues"`

	AvgDepthScore       float64 `bun:"avg_depth_score" json:"avg_depth_score"`
	AvgQualityScore     float64 `bun:"avg_quality_score" json:"avg_quality_score"`
	AvgReadabilityScore float64 `bun:"avg_readability_score" json:"avg_readability_score"`
	OverallScore        float64 `bun:"overall_score" json:"overall_score"`

	// JSON object of readability level -> chapter count.
	ReadabilityDistribution string `bun:"readability_distribution" json:"readability_distribution,omitempty"`

	Status             string     `bun:"status" json:"status"`
	ErrorMessage       string     `bun:"error_message" json:"error_message,omitempty"`
	LastEvaluated      *time.Time `bun:"last_evaluated" json:"last_evaluated"`
	EvaluationDuration int        `bun:"evaluation_duration" json:"evaluation_duration"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at" json:"updated_at"`
}

type Chapter struct {
	bun.BaseModel `bun:"table:reviewer_chapters"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	TutorialID  int64  `bun:"tutorial_id" json:"tutorial_id"`
	FilePath    string `bun:"file_path" json:"file_path"`
	FileName    string `bun:"file_name" json:"file_name"`
	Title       string `bun:"title" json:"title"`
	Order       int    `bun:"chapter_order" json:"chapter_order"`
	WordCount   int    `bun:"word_count" json:"word_count"`
	ContentHash string `bun:"content_hash" json:"content_hash"`
	RawContent  string `bun:"raw_content" json:"raw_content,omitempty"`
	ImageCount  int    `bun:"image_count" json:"image_count"`

	ContentType       string `bun:"content_type" json:"content_type"`
	SummaryTopic      string `bun:"summary_topic" json:"summary_topic"`
	SummaryCorePoints string `bun:"summary_core_points" json:"summary_core_points"`
	SummaryKeyTerms   string `bun:"summary_key_terms" json:"summary_key_terms"`
	SummaryFactClaims string `bun:"summary_fact_claims" json:"summary_fact_claims"`

	DepthScore       int    `bun:"depth_score" json:"depth_score"`
	QualityScore     int    `bun:"quality_score" json:"quality_score"`
	ReadabilityScore int    `bun:"readability_score" json:"readability_score"`
	ReadabilityLevel string `bun:"readability_level" json:"readability_level"`
	OverallScore     int    `bun:"overall_score" json:"overall_score"`

	LogicScore        int `bun:"logic_score" json:"logic_score"`
	AccuracyScore     int `bun:"accuracy_score" json:"accuracy_score"`
	CompletenessScore int `bun:"completeness_score" json:"completeness_score"`
	VocabularyScore   int `bun:"vocabulary_score" json:"vocabulary_score"`
	SyntaxScore       int `bun:"syntax_score" json:"syntax_score"`
	DiscourseScore    int `bun:"discourse_score" json:"discourse_score"`
	SurfaceScore      int `bun:"surface_score" json:"surface_score"`

	TotalIssues  int `bun:"total_issues" json:"total_issues"`
	HighIssues   int `bun:"high_issues" json:"high_issues"`
	MediumIssues int `bun:"medium_issues" json:"medium_issues"`
	LowIssues    int `bun:"low_issues" json:"low_issues"`

	Status       string     `bun:"status" json:"status"`
	ErrorMessage string     `bun:"error_message" json:"error_message,omitempty"`
	EvaluatedAt  *time.Time `bun:"evaluated_at" json:"evaluated_at"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at" json:"updated_at"`
}

type Issue struct {
	bun.BaseModel `bun:"table:reviewer_issues"`

	ID              int64      `bun:"id,pk,autoincrement" json:"id"`
	ChapterID       int64      `bun:"chapter_id" json:"chapter_id"`
	TutorialID      int64      `bun:"tutorial_id" json:"tutorial_id"`
	Category        string     `bun:"category" json:"category"`
	IssueType       string     `bun:"issue_type" json:"issue_type"`
	Severity        string     `bun:"severity" json:"severity"`
	Location        string     `bun:"location" json:"location"`
	Description     string     `bun:"description" json:"description"`
	Suggestion      string     `bun:"suggestion" json:"suggestion"`
	Reference       string     `bun:"reference" json:"reference,omitempty"`
	Priority        int        `bun:"priority" json:"priority"`
	EstimatedEffort string     `bun:"estimated_effort" json:"estimated_effort"`
	IsResolved      bool       `bun:"is_resolved" json:"is_resolved"`
	ResolvedAt      *time.Time `bun:"resolved_at" json:"resolved_at"`
	CreatedAt       time.Time  `bun:"created_at" json:"created_at"`
}

type Image struct {
	bun.BaseModel `bun:"table:reviewer_images"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	ChapterID      int64     `bun:"chapter_id" json:"chapter_id"`
	TutorialID     int64     `bun:"tutorial_id" json:"tutorial_id"`
	ImagePath      string    `bun:"image_path" json:"image_path"`
	ImageURL       string    `bun:"image_url" json:"image_url"`
	AltText        string    `bun:"alt_text" json:"alt_text"`
	Position       int       `bun:"position" json:"position"`
	Description    string    `bun:"description" json:"description"`
	DetectedText   string    `bun:"detected_text" json:"detected_text"`
	ImageType      string    `bun:"image_type" json:"image_type"`
	RelevanceScore float64   `bun:"relevance_score" json:"relevance_score"`
	QualityScore   int       `bun:"quality_score" json:"quality_score"`
	Issues         string    `bun:"issues" json:"issues"`
	Suggestions    string    `bun:"suggestions" json:"suggestions"`
	Status         string    `bun:"status" json:"status"`
	ErrorMessage   string    `bun:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at" json:"updated_at"`
}

type Reference struct {
	bun.BaseModel `bun:"table:reviewer_search_references"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	ChapterID      int64     `bun:"chapter_id" json:"chapter_id"`
	SearchRound    int       `bun:"search_round" json:"search_round"`
	SearchQuery    string    `bun:"search_query" json:"search_query"`
	SearchPurpose  string    `bun:"search_purpose" json:"search_purpose"`
	SourceURL      string    `bun:"source_url" json:"source_url"`
	SourceTitle    string    `bun:"source_title" json:"source_title"`
	SourceDomain   string    `bun:"source_domain" json:"source_domain"`
	Snippet        string    `bun:"snippet" json:"snippet"`
	RelevanceScore float64   `bun:"relevance_score" json:"relevance_score"`
	CreatedAt      time.Time `bun:"created_at" json:"created_at"`
}

type History struct {
	bun.BaseModel `bun:"table:reviewer_evaluation_history"`

	ID                      int64     `bun:"id,pk,autoincrement" json:"id"`
	TutorialID              int64     `bun:"tutorial_id" json:"tutorial_id"`
	TotalChapters           int       `bun:"total_chapters" json:"total_chapters"`
	TotalIssues             int       `bun:"total_issues" json:"total_issues"`
	HighIssues              int       `bun:"high_issues" json:"high_issues"`
	MediumIssues            int       `bun:"medium_issues" json:"medium_issues"`
	LowIssues               int       `bun:"low_issues" json:"low_issues"`
	ResolvedIssues          int       `bun:"resolved_issues" json:"resolved_issues"`
	OverallScore            float64   `bun:"overall_score" json:"overall_score"`
	AvgDepthScore           float64   `bun:"avg_depth_score" json:"avg_depth_score"`
	AvgQualityScore         float64   `bun:"avg_quality_score" json:"avg_quality_score"`
	AvgReadabilityScore     float64   `bun:"avg_readability_score" json:"avg_readability_score"`
	ReadabilityDistribution string    `bun:"readability_distribution" json:"readability_distribution"`
	ResultSummary           string    `bun:"result_summary" json:"result_summary"`
	ChaptersSnapshot        string    `bun:"chapters_snapshot" json:"chapters_snapshot,omitempty"`
	CreatedAt               time.Time `bun:"created_at" json:"created_at"`
}

// Document is an uploaded file after parsing.
type Document struct {
	bun.BaseModel `bun:"table:documents"`

	ID           string    `bun:"id,pk" json:"id"`
	FileName     string    `bun:"file_name" json:"file_name"`
	FilePath     string    `bun:"file_path" json:"file_path"`
	FileSize     int64     `bun:"file_size" json:"file_size"`
	Status       string    `bun:"status" json:"status"`
	ErrorMessage string    `bun:"error_message" json:"error_message,omitempty"`
	Markdown     string    `bun:"markdown_content" json:"markdown_content,omitempty"`
	Summary      string    `bun:"summary" json:"summary"`
	// JSON array of {path,page,caption}.
	Images       string    `bun:"images" json:"images,omitempty"`
	CreatedAt    time.Time `bun:"created_at" json:"created_at"`
}

type DocumentChunk struct {
	bun.BaseModel `bun:"table:document_chunks"`

	ID         int64  `bun:"id,pk,autoincrement" json:"id"`
	DocumentID string `bun:"document_id" json:"document_id"`
	ChunkIndex int    `bun:"chunk_index" json:"chunk_index"`
	Title      string `bun:"title" json:"title"`
	Content    string `bun:"content" json:"content"`
	StartPos   int    `bun:"start_pos" json:"start_pos"`
	EndPos     int    `bun:"end_pos" json:"end_pos"`
}

// DocumentImage is one entry of Document.Images.
type DocumentImage struct {
	Path    string `json:"path"`
	Page    int    `json:"page"`
	Caption string `json:"caption,omitempty"`
}
