package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

func (s *Store) CreateTutorial(ctx context.Context, t *Tutorial) error {
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Branch == "" {
		t.Branch = "main"
	}
	res, err := s.db.NewInsert().Model(t).Exec(ctx)
	if err != nil {
		return err
	}
	setInsertedID(res, &t.ID)
	return nil
}

func (s *Store) GetTutorial(ctx context.Context, id int64) (*Tutorial, error) {
	var t Tutorial
	if err := s.db.NewSelect().Model(&t).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) GetTutorialByGitURL(ctx context.Context, gitURL string) (*Tutorial, error) {
	var t Tutorial
	if err := s.db.NewSelect().Model(&t).Where("git_url = ?", gitURL).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListTutorials returns every tutorial, newest first.
func (s *Store) ListTutorials(ctx context.Context) ([]Tutorial, error) {
	out := []Tutorial{}
	if err := s.db.NewSelect().Model(&out).OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateTutorialStatus(ctx context.Context, id int64, status, errMsg string) error {
	return mustAffect(s.db.NewUpdate().Model((*Tutorial)(nil)).
		Set("status = ?", status).
		Set("error_message = ?", errMsg).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) SetTutorialLocalPath(ctx context.Context, id int64, localPath string) error {
	return mustAffect(s.db.NewUpdate().Model((*Tutorial)(nil)).
		Set("local_path = ?", localPath).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Exec(ctx))
}

// TutorialRollup is the aggregate written after an evaluation run.
type TutorialRollup struct {
	TotalChapters           int
	TotalIssues             int
	HighIssues              int
	MediumIssues            int
	LowIssues               int
	ResolvedIssues          int
	AvgDepthScore           float64
	AvgQualityScore         float64
	AvgReadabilityScore     float64
	OverallScore            float64
	ReadabilityDistribution string
	Duration                time.Duration
}

func (s *Store) UpdateTutorialScores(ctx context.Context, id int64, r TutorialRollup) error {
	now := s.now()
	return mustAffect(s.db.NewUpdate().Model((*Tutorial)(nil)).
		Set("total_chapters = ?", r.TotalChapters).
		Set("total_issues = ?", r.TotalIssues).
		Set("high_issues = ?", r.HighIssues).
		Set("medium_issues = ?", r.MediumIssues).
		Set("low_issues = ?", r.LowIssues).
		Set("resolved_issues = ?", r.ResolvedIssues).
		Set("avg_depth_score = ?", r.AvgDepthScore).
		Set("avg_quality_score = ?", r.AvgQualityScore).
		Set("avg_readability_score = ?", r.AvgReadabilityScore).
		Set("overall_score = ?", r.OverallScore).
		Set("readability_distribution = ?", r.ReadabilityDistribution).
		Set("evaluation_duration = ?", int(r.Duration.Seconds())).
		Set("last_evaluated = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx))
}

// DeleteTutorial removes a tutorial and everything recorded under it.
func (s *Store) DeleteTutorial(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var chapterIDs []int64
		if err := tx.NewSelect().Model((*Chapter)(nil)).Column("id").Where("tutorial_id = ?", id).Scan(ctx, &chapterIDs); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if len(chapterIDs) > 0 {
			if _, err := tx.NewDelete().Model((*Reference)(nil)).Where("chapter_id IN (?)", bun.In(chapterIDs)).Exec(ctx); err != nil {
				return err
			}
		}
		for _, m := range []interface{}{(*Issue)(nil), (*Image)(nil), (*History)(nil), (*Chapter)(nil)} {
			if _, err := tx.NewDelete().Model(m).Where("tutorial_id = ?", id).Exec(ctx); err != nil {
				return err
			}
		}
		return mustAffect(tx.NewDelete().Model((*Tutorial)(nil)).Where("id = ?", id).Exec(ctx))
	})
}
