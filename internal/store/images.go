package store

import (
	"context"

	"github.com/uptrace/bun"
)

func (s *Store) CreateImage(ctx context.Context, img *Image) error {
	now := s.now()
	img.CreatedAt, img.UpdatedAt = now, now
	if img.Status == "" {
		img.Status = StatusPending
	}
	res, err := s.db.NewInsert().Model(img).Exec(ctx)
	if err != nil {
		return err
	}
	setInsertedID(res, &img.ID)
	return nil
}

// UpdateImageAnalysis records the multimodal result for an image.
func (s *Store) UpdateImageAnalysis(ctx context.Context, img *Image) error {
	img.UpdatedAt = s.now()
	return mustAffect(s.db.NewUpdate().Model(img).
		Column("description", "detected_text", "image_type", "relevance_score", "quality_score",
			"issues", "suggestions", "status", "error_message", "updated_at").
		WherePK().
		Exec(ctx))
}

func (s *Store) ImagesByChapter(ctx context.Context, chapterID int64) ([]Image, error) {
	out := []Image{}
	if err := s.db.NewSelect().Model(&out).Where("chapter_id = ?", chapterID).OrderExpr("position ASC, id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteImagesByChapter(ctx context.Context, chapterID int64) error {
	_, err := s.db.NewDelete().Model((*Image)(nil)).Where("chapter_id = ?", chapterID).Exec(ctx)
	return err
}

// ReplaceChapterReferences swaps a chapter's stored search references.
func (s *Store) ReplaceChapterReferences(ctx context.Context, chapterID int64, refs []Reference) error {
	now := s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Reference)(nil)).Where("chapter_id = ?", chapterID).Exec(ctx); err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		for k := range refs {
			refs[k].ChapterID = chapterID
			refs[k].CreatedAt = now
		}
		_, err := tx.NewInsert().Model(&refs).Exec(ctx)
		return err
	})
}

func (s *Store) ReferencesByChapter(ctx context.Context, chapterID int64) ([]Reference, error) {
	out := []Reference{}
	err := s.db.NewSelect().Model(&out).
		Where("chapter_id = ?", chapterID).
		OrderExpr("relevance_score DESC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateHistory(ctx context.Context, h *History) error {
	h.CreatedAt = s.now()
	res, err := s.db.NewInsert().Model(h).Exec(ctx)
	if err != nil {
		return err
	}
	setInsertedID(res, &h.ID)
	return nil
}

// HistoryByTutorial returns evaluation snapshots, newest first.
func (s *Store) HistoryByTutorial(ctx context.Context, tutorialID int64) ([]History, error) {
	out := []History{}
	err := s.db.NewSelect().Model(&out).
		ExcludeColumn("chapters_snapshot").
		Where("tutorial_id = ?", tutorialID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}
