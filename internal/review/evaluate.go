package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lailoo/vibe-blog/internal/config"
	"github.com/lailoo/vibe-blog/internal/docs"
	"github.com/lailoo/vibe-blog/internal/matcher"
	"github.com/lailoo/vibe-blog/internal/metrics"
	"github.com/lailoo/vibe-blog/internal/store"
)

const (
	EventStart          = "start"
	EventScan           = "scan"
	EventChapterStart   = "chapter_start"
	EventChapterStep    = "chapter_step"
	EventChapterDone    = "chapter_done"
	EventChapterSkipped = "chapter_skipped"
	EventRollup         = "rollup"
	EventComplete       = "complete"
	EventError          = "error"
)

// Event reports evaluation progress.
type Event struct {
	Type       string  `json:"type"`
	TutorialID int64   `json:"tutorial_id,omitempty"`
	Message    string  `json:"message,omitempty"`
	Total      int     `json:"total,omitempty"`
	Current    int     `json:"current,omitempty"`
	ChapterID  int64   `json:"chapter_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Step       string  `json:"step,omitempty"`
	Score      *int    `json:"score,omitempty"`
	Issues     *int    `json:"issues,omitempty"`
	Result     *Result `json:"result,omitempty"`
}

// Result summarizes one evaluation run.
type Result struct {
	TutorialID    int64   `json:"tutorial_id"`
	RepoUpdated   bool    `json:"repo_updated"`
	TotalChapters int     `json:"total_chapters"`
	Evaluated     int     `json:"evaluated"`
	Skipped       int     `json:"skipped"`
	Failed        int     `json:"failed"`
	OverallScore  float64 `json:"overall_score"`
	Grade         string  `json:"grade"`
	TotalIssues   int     `json:"total_issues"`
	HighIssues    int     `json:"high_issues"`
	MediumIssues  int     `json:"medium_issues"`
	LowIssues     int     `json:"low_issues"`
	Duration      float64 `json:"duration"`
}

// Evaluate syncs the tutorial's repository and reviews up to maxChapters
// chapters (all when maxChapters <= 0). Chapters whose content is unchanged
// since a completed evaluation are skipped. onProgress may be nil.
func (s *Service) Evaluate(ctx context.Context, id int64, maxChapters int, onProgress func(Event)) (*Result, error) {
	emit := func(e Event) {
		if onProgress != nil {
			e.TutorialID = id
			onProgress(e)
		}
	}
	t, err := s.GetTutorial(ctx, id)
	if err != nil {
		return nil, err
	}

	done := metrics.EvaluationStarted()
	start := s.now()
	res, err := s.evaluate(ctx, t, maxChapters, emit)
	if err != nil {
		done(store.StatusFailed)
		s.log.Errorw("evaluation failed", "tutorial", id, "error", err)
		// record the failure even if ctx was cancelled
		if serr := s.store.UpdateTutorialStatus(context.WithoutCancel(ctx), id, store.StatusFailed, err.Error()); serr != nil {
			s.log.Errorw("failed to record evaluation failure", "tutorial", id, "error", serr)
		}
		return nil, err
	}
	done(store.StatusCompleted)
	res.Duration = s.now().Sub(start).Seconds()
	s.log.Infow("evaluation completed", "tutorial", id, "evaluated", res.Evaluated, "skipped", res.Skipped, "score", res.OverallScore)
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, t *store.Tutorial, maxChapters int, emit func(Event)) (*Result, error) {
	start := s.now()
	tuning := s.tuning.Current()
	res := &Result{TutorialID: t.ID}

	emit(Event{Type: EventStart, Message: "syncing repository"})
	if err := s.store.UpdateTutorialStatus(ctx, t.ID, store.StatusCloning, ""); err != nil {
		return nil, err
	}
	dir, updated, err := s.repos.Sync(ctx, t.GitURL, t.Branch)
	if err != nil {
		return nil, fmt.Errorf("sync repository: %w", err)
	}
	res.RepoUpdated = updated
	if err := s.store.SetTutorialLocalPath(ctx, t.ID, dir); err != nil {
		return nil, err
	}

	found, err := docs.Scan(dir, matcher.New(tuning.Chapters.Include, tuning.Chapters.Exclude))
	if err != nil {
		return nil, fmt.Errorf("scan chapters: %w", err)
	}
	if maxChapters > 0 && len(found) > maxChapters {
		found = found[:maxChapters]
	}
	emit(Event{Type: EventScan, Total: len(found), Message: fmt.Sprintf("found %d chapters", len(found))})

	if err := s.store.UpdateTutorialStatus(ctx, t.ID, store.StatusEvaluating, ""); err != nil {
		return nil, err
	}

	for i, doc := range found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emit(Event{Type: EventChapterStart, Current: i + 1, Total: len(found), Title: doc.Title})

		ch, unchanged, err := s.upsertChapter(ctx, t.ID, doc)
		if err != nil {
			return nil, err
		}
		if unchanged {
			res.Skipped++
			metrics.RecordChapter("skipped", 0)
			emit(Event{Type: EventChapterSkipped, Current: i + 1, Total: len(found), ChapterID: ch.ID, Title: ch.Title, Message: "unchanged since last evaluation"})
			continue
		}

		step := func(name string) {
			emit(Event{Type: EventChapterStep, Current: i + 1, Total: len(found), ChapterID: ch.ID, Title: ch.Title, Step: name})
		}
		verdict, err := s.evaluateChapter(ctx, t, ch, doc, dir, tuning, step)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Failed++
			metrics.RecordChapter(store.StatusFailed, 0)
			s.log.Errorw("chapter evaluation failed", "tutorial", t.ID, "chapter", ch.FilePath, "error", err)
			ch.Status, ch.ErrorMessage = store.StatusFailed, err.Error()
			if uerr := s.store.UpdateChapterEvaluation(ctx, ch); uerr != nil {
				return nil, uerr
			}
			continue
		}
		res.Evaluated++
		metrics.RecordChapter("evaluated", ch.OverallScore)
		score, issues := ch.OverallScore, ch.TotalIssues
		emit(Event{Type: EventChapterDone, Current: i + 1, Total: len(found), ChapterID: ch.ID, Title: ch.Title, Score: &score, Issues: &issues, Message: verdict})
	}

	if err := s.rollup(ctx, t.ID, res, s.now().Sub(start)); err != nil {
		return nil, err
	}
	emit(Event{Type: EventRollup, Total: res.TotalChapters, Message: fmt.Sprintf("overall score %.1f", res.OverallScore)})

	if err := s.store.UpdateTutorialStatus(ctx, t.ID, store.StatusCompleted, ""); err != nil {
		return nil, err
	}
	return res, nil
}

// upsertChapter records doc and reports whether an existing completed
// evaluation still matches its content.
func (s *Service) upsertChapter(ctx context.Context, tutorialID int64, doc docs.Document) (*store.Chapter, bool, error) {
	ch, err := s.store.ChapterByPath(ctx, tutorialID, doc.RelPath)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ch = &store.Chapter{
			TutorialID:  tutorialID,
			FilePath:    doc.RelPath,
			FileName:    doc.FileName,
			Title:       doc.Title,
			Order:       doc.Order,
			WordCount:   doc.WordCount,
			ContentHash: doc.Hash,
			RawContent:  doc.Content,
			Status:      store.StatusEvaluating,
		}
		return ch, false, s.store.CreateChapter(ctx, ch)
	case err != nil:
		return nil, false, err
	}

	if ch.ContentHash == doc.Hash && ch.Status == store.StatusCompleted {
		return ch, true, nil
	}
	ch.Title, ch.Order, ch.WordCount = doc.Title, doc.Order, doc.WordCount
	ch.ContentHash, ch.RawContent = doc.Hash, doc.Content
	ch.Status, ch.ErrorMessage = store.StatusEvaluating, ""
	return ch, false, s.store.UpdateChapterContent(ctx, ch)
}

// evaluateChapter runs every review pass on one chapter and persists the
// outcome. verdict is a one-line summary of the scores.
func (s *Service) evaluateChapter(ctx context.Context, t *store.Tutorial, ch *store.Chapter, doc docs.Document, repoDir string, tuning *config.Review, step func(string)) (verdict string, err error) {
	step("analyze")
	summary := s.agents.Analyze(ctx, doc.Content)

	var refs []Hit
	if t.EnableSearch && s.search != nil {
		step("search")
		hits := Research(ctx, s.search, summary, t.MaxSearchRounds, tuning.Search.ResultsPerRound, s.log)
		refs = SelectReferences(hits, summary, tuning.References.MinRelevance, tuning.References.TopK)
		if err := s.store.ReplaceChapterReferences(ctx, ch.ID, referenceRows(refs)); err != nil {
			return "", fmt.Errorf("store references: %w", err)
		}
	}

	step("review")
	var (
		depth   DepthResult
		quality QualityResult
		read    ReadabilityResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { depth = s.agents.CheckDepth(gctx, doc.Content, refs); return nil })
	g.Go(func() error { quality = s.agents.ReviewQuality(gctx, doc.Content, refs); return nil })
	g.Go(func() error { read = s.agents.CheckReadability(gctx, doc.Content); return nil })
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	step("improve")
	feedback := s.agents.Improve(ctx, doc.Content, depth, quality, read)
	overall, dims := Aggregate(depth, quality, read, summary.ContentType, tuning.Scoring.Weights)

	issues := buildIssues(t.ID, depth, quality, read, feedback)
	if err := s.store.ReplaceChapterIssues(ctx, ch.ID, issues); err != nil {
		return "", fmt.Errorf("store issues: %w", err)
	}

	step("images")
	imageCount, err := s.processImages(ctx, t.ID, ch.ID, doc, repoDir, tuning.Images.MaxPerChapter)
	if err != nil {
		return "", fmt.Errorf("store images: %w", err)
	}

	ch.ContentType = string(summary.ContentType)
	ch.SummaryTopic = summary.Topic
	ch.SummaryCorePoints = mustJSON(summary.CorePoints)
	ch.SummaryKeyTerms = mustJSON(summary.KeyTerms)
	ch.SummaryFactClaims = mustJSON(summary.FactClaims)
	ch.DepthScore = depth.Score
	ch.QualityScore = quality.Score
	ch.ReadabilityScore = read.Score
	ch.ReadabilityLevel = read.Level
	ch.OverallScore = overall
	ch.LogicScore = quality.LogicScore
	ch.AccuracyScore = quality.AccuracyScore
	ch.CompletenessScore = quality.CompletenessScore
	ch.VocabularyScore = read.VocabularyScore
	ch.SyntaxScore = read.SyntaxScore
	ch.DiscourseScore = read.DiscourseScore
	ch.SurfaceScore = read.SurfaceScore
	ch.TotalIssues, ch.HighIssues, ch.MediumIssues, ch.LowIssues = countSeverities(issues)
	ch.ImageCount = imageCount
	ch.Status, ch.ErrorMessage, ch.EvaluatedAt = store.StatusCompleted, "", nil
	if err := s.store.UpdateChapterEvaluation(ctx, ch); err != nil {
		return "", err
	}
	return Summary(overall, dims, len(issues)), nil
}

// buildIssues turns review findings into stored issues. Priority and effort
// come from matching feedback when the improver produced any.
func buildIssues(tutorialID int64, d DepthResult, q QualityResult, r ReadabilityResult, feedback []Feedback) []store.Issue {
	type key struct{ location, problem string }
	byKey := map[key]Feedback{}
	for _, f := range feedback {
		k := key{f.Location, f.Problem}
		if _, ok := byKey[k]; !ok {
			byKey[k] = f
		}
	}

	var out []store.Issue
	add := func(category, issueType, severity, location, description, suggestion, reference string, fallback Feedback) {
		fb, ok := byKey[key{location, description}]
		if !ok {
			fb = fallback
		}
		out = append(out, store.Issue{
			TutorialID:      tutorialID,
			Category:        category,
			IssueType:       issueType,
			Severity:        severity,
			Location:        location,
			Description:     description,
			Suggestion:      suggestion,
			Reference:       reference,
			Priority:        fb.Priority,
			EstimatedEffort: fb.EstimatedEffort,
		})
	}
	for _, vp := range d.VaguePoints {
		description := vp.Issue
		if vp.Question != "" {
			description = strings.TrimSpace(description + " " + vp.Question)
		}
		fb := FeedbackFromResults(DepthResult{VaguePoints: []VaguePoint{vp}}, QualityResult{}, ReadabilityResult{})[0]
		add("depth", "missing_detail", store.SeverityMedium, vp.Location, description, vp.Suggestion, "", fb)
	}
	for _, f := range q.Issues {
		fb := FeedbackFromResults(DepthResult{}, QualityResult{Issues: []Finding{f}}, ReadabilityResult{})[0]
		add("quality", f.IssueType, normalizeSeverity(f.Severity), f.Location, f.Description, f.Suggestion, f.Reference, fb)
	}
	for _, f := range r.Issues {
		fb := FeedbackFromResults(DepthResult{}, QualityResult{}, ReadabilityResult{Issues: []Finding{f}})[0]
		add("readability", f.IssueType, normalizeSeverity(f.Severity), f.Location, f.Description, f.Suggestion, "", fb)
	}
	return out
}

func normalizeSeverity(s string) string {
	switch s {
	case store.SeverityHigh, store.SeverityMedium, store.SeverityLow:
		return s
	default:
		return store.SeverityMedium
	}
}

func countSeverities(issues []store.Issue) (total, high, medium, low int) {
	for _, i := range issues {
		switch i.Severity {
		case store.SeverityHigh:
			high++
		case store.SeverityMedium:
			medium++
		case store.SeverityLow:
			low++
		}
	}
	return len(issues), high, medium, low
}

func referenceRows(refs []Hit) []store.Reference {
	out := make([]store.Reference, 0, len(refs))
	for _, h := range refs {
		purpose := "verification"
		if h.Round == 2 {
			purpose = "key_terms"
		}
		out = append(out, store.Reference{
			SearchRound:    h.Round,
			SearchQuery:    h.Query,
			SearchPurpose:  purpose,
			SourceURL:      h.URL,
			SourceTitle:    h.Title,
			SourceDomain:   domain(h.URL),
			Snippet:        h.Snippet,
			RelevanceScore: h.Relevance,
		})
	}
	return out
}

// processImages records every image in the chapter and analyzes the local
// ones, at most limit of them, concurrently.
func (s *Service) processImages(ctx context.Context, tutorialID, chapterID int64, doc docs.Document, repoDir string, limit int) (int, error) {
	found := docs.ExtractImages(doc.Content, filepath.Dir(doc.Path), repoDir)
	if err := s.store.DeleteImagesByChapter(ctx, chapterID); err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}
	lines := strings.Split(doc.Content, "\n")

	rows := make([]*store.Image, len(found))
	analyzable := 0
	for i, img := range found {
		row := &store.Image{
			ChapterID:  chapterID,
			TutorialID: tutorialID,
			ImageURL:   img.Src,
			AltText:    img.Alt,
			Position:   img.Line,
			Status:     store.StatusPending,
		}
		if img.LocalPath != "" {
			if rel, err := filepath.Rel(repoDir, img.LocalPath); err == nil {
				row.ImagePath = filepath.ToSlash(rel)
			}
		}
		switch {
		case img.External:
			row.Status, row.ErrorMessage = store.StatusSkipped, "external image"
		case !img.Exists:
			row.Status, row.ErrorMessage = store.StatusSkipped, "image file not found"
		case img.MimeType == "" || img.MimeType == "image/svg+xml":
			row.Status, row.ErrorMessage = store.StatusSkipped, "unsupported image format"
		case limit > 0 && analyzable >= limit:
			row.Status, row.ErrorMessage = store.StatusSkipped, "image limit reached"
		default:
			analyzable++
		}
		if err := s.store.CreateImage(ctx, row); err != nil {
			return 0, err
		}
		rows[i] = row
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, row := range rows {
		if row.Status != store.StatusPending {
			continue
		}
		img, row := found[i], row
		g.Go(func() error {
			data, err := os.ReadFile(img.LocalPath)
			if err != nil {
				row.Status, row.ErrorMessage = store.StatusFailed, err.Error()
				return nil
			}
			analysis, ok := s.agents.AnalyzeImage(gctx, data, img.MimeType, surroundingText(lines, img.Line, 3))
			if !ok {
				row.Status, row.ErrorMessage = store.StatusFailed, "analysis unavailable"
				return nil
			}
			row.Description = analysis.Description
			row.DetectedText = analysis.DetectedText
			row.ImageType = analysis.ImageType
			row.RelevanceScore = analysis.Relevance
			row.QualityScore = analysis.Quality
			row.Status = store.StatusCompleted
			return nil
		})
	}
	_ = g.Wait()

	for _, row := range rows {
		if err := s.store.UpdateImageAnalysis(ctx, row); err != nil {
			return 0, err
		}
	}
	return len(found), nil
}

// surroundingText returns up to n non-image lines either side of line.
func surroundingText(lines []string, line, n int) string {
	from, to := line-1-n, line+n
	if from < 0 {
		from = 0
	}
	if to > len(lines) {
		to = len(lines)
	}
	var parts []string
	for i := from; i < to; i++ {
		l := strings.TrimSpace(lines[i])
		if l == "" || i == line-1 {
			continue
		}
		parts = append(parts, l)
	}
	return strings.Join(parts, "\n")
}

// rollup aggregates the tutorial's completed chapters and writes a history
// snapshot.
func (s *Service) rollup(ctx context.Context, tutorialID int64, res *Result, elapsed time.Duration) error {
	chapters, err := s.store.ChaptersByTutorial(ctx, tutorialID)
	if err != nil {
		return err
	}
	resolved, err := s.store.CountResolved(ctx, tutorialID)
	if err != nil {
		return err
	}

	var (
		r                          store.TutorialRollup
		depth, quality, read, over float64
		levels                     = map[string]int{}
		snapshot                   []map[string]interface{}
	)
	for _, c := range chapters {
		if c.Status != store.StatusCompleted {
			continue
		}
		r.TotalChapters++
		r.TotalIssues += c.TotalIssues
		r.HighIssues += c.HighIssues
		r.MediumIssues += c.MediumIssues
		r.LowIssues += c.LowIssues
		depth += float64(c.DepthScore)
		quality += float64(c.QualityScore)
		read += float64(c.ReadabilityScore)
		over += float64(c.OverallScore)
		if c.ReadabilityLevel != "" {
			levels[c.ReadabilityLevel]++
		}
		snapshot = append(snapshot, map[string]interface{}{
			"id":                c.ID,
			"file_path":         c.FilePath,
			"title":             c.Title,
			"overall_score":     c.OverallScore,
			"depth_score":       c.DepthScore,
			"quality_score":     c.QualityScore,
			"readability_score": c.ReadabilityScore,
			"total_issues":      c.TotalIssues,
		})
	}
	if n := float64(r.TotalChapters); n > 0 {
		r.AvgDepthScore = round1(depth / n)
		r.AvgQualityScore = round1(quality / n)
		r.AvgReadabilityScore = round1(read / n)
		r.OverallScore = round1(over / n)
	}
	r.ResolvedIssues = resolved
	r.ReadabilityDistribution = mustJSON(levels)
	r.Duration = elapsed
	if err := s.store.UpdateTutorialScores(ctx, tutorialID, r); err != nil {
		return err
	}

	res.TotalChapters = r.TotalChapters
	res.OverallScore = r.OverallScore
	res.Grade = Grade(int(r.OverallScore))
	res.TotalIssues, res.HighIssues, res.MediumIssues, res.LowIssues = r.TotalIssues, r.HighIssues, r.MediumIssues, r.LowIssues

	summary, _ := json.Marshal(res)
	if snapshot == nil {
		snapshot = []map[string]interface{}{}
	}
	return s.store.CreateHistory(ctx, &store.History{
		TutorialID:              tutorialID,
		TotalChapters:           r.TotalChapters,
		TotalIssues:             r.TotalIssues,
		HighIssues:              r.HighIssues,
		MediumIssues:            r.MediumIssues,
		LowIssues:               r.LowIssues,
		ResolvedIssues:          r.ResolvedIssues,
		OverallScore:            r.OverallScore,
		AvgDepthScore:           r.AvgDepthScore,
		AvgQualityScore:         r.AvgQualityScore,
		AvgReadabilityScore:     r.AvgReadabilityScore,
		ReadabilityDistribution: r.ReadabilityDistribution,
		ResultSummary:           string(summary),
		ChaptersSnapshot:        mustJSON(snapshot),
	})
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
