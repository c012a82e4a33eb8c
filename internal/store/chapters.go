package store

import (
	"context"

	"github.com/uptrace/bun"
)

func (s *Store) CreateChapter(ctx context.Context, c *Chapter) error {
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = StatusPending
	}
	res, err := s.db.NewInsert().Model(c).Exec(ctx)
	if err != nil {
		return err
	}
	setInsertedID(res, &c.ID)
	return nil
}

func (s *Store) GetChapter(ctx context.Context, id int64) (*Chapter, error) {
	var c Chapter
	if err := s.db.NewSelect().Model(&c).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ChaptersByTutorial lists chapters in reading order.
func (s *Store) ChaptersByTutorial(ctx context.Context, tutorialID int64) ([]Chapter, error) {
	out := []Chapter{}
	err := s.db.NewSelect().Model(&out).
		Where("tutorial_id = ?", tutorialID).
		OrderExpr("chapter_order ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChapterByPath finds the chapter recorded for a file within a tutorial.
func (s *Store) ChapterByPath(ctx context.Context, tutorialID int64, filePath string) (*Chapter, error) {
	var c Chapter
	err := s.db.NewSelect().Model(&c).
		Where("tutorial_id = ?", tutorialID).
		Where("file_path = ?", filePath).
		Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ChapterByHash(ctx context.Context, tutorialID int64, hash string) (*Chapter, error) {
	var c Chapter
	err := s.db.NewSelect().Model(&c).
		Where("tutorial_id = ?", tutorialID).
		Where("content_hash = ?", hash).
		Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpdateChapterContent refreshes the file-derived columns before a new
// evaluation of a changed chapter.
func (s *Store) UpdateChapterContent(ctx context.Context, c *Chapter) error {
	c.UpdatedAt = s.now()
	return mustAffect(s.db.NewUpdate().Model(c).
		Column("title", "chapter_order", "word_count", "content_hash", "raw_content", "image_count", "status", "error_message", "updated_at").
		WherePK().
		Exec(ctx))
}

// UpdateChapterEvaluation writes analysis, scores and issue counts.
func (s *Store) UpdateChapterEvaluation(ctx context.Context, c *Chapter) error {
	now := s.now()
	c.UpdatedAt = now
	if c.Status == StatusCompleted && c.EvaluatedAt == nil {
		c.EvaluatedAt = &now
	}
	return mustAffect(s.db.NewUpdate().Model(c).
		Column(
			"content_type", "summary_topic", "summary_core_points", "summary_key_terms", "summary_fact_claims",
			"depth_score", "quality_score", "readability_score", "readability_level", "overall_score",
			"logic_score", "accuracy_score", "completeness_score",
			"vocabulary_score", "syntax_score", "discourse_score", "surface_score",
			"total_issues", "high_issues", "medium_issues", "low_issues", "image_count",
			"status", "error_message", "evaluated_at", "updated_at",
		).
		WherePK().
		Exec(ctx))
}

func (s *Store) DeleteChaptersByTutorial(ctx context.Context, tutorialID int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sub := tx.NewSelect().Model((*Chapter)(nil)).Column("id").Where("tutorial_id = ?", tutorialID)
		if _, err := tx.NewDelete().Model((*Reference)(nil)).Where("chapter_id IN (?)", sub).Exec(ctx); err != nil {
			return err
		}
		for _, m := range []interface{}{(*Issue)(nil), (*Image)(nil), (*Chapter)(nil)} {
			if _, err := tx.NewDelete().Model(m).Where("tutorial_id = ?", tutorialID).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
