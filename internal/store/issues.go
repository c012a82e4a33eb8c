package store

import (
	"context"

	"github.com/uptrace/bun"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// issueOrder sorts by priority, then high > medium > low.
const issueOrder = "priority ASC, CASE severity WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END ASC, id ASC"

func (s *Store) CreateIssue(ctx context.Context, i *Issue) error {
	i.CreatedAt = s.now()
	if i.Priority == 0 {
		i.Priority = 5
	}
	if i.EstimatedEffort == "" {
		i.EstimatedEffort = "medium"
	}
	res, err := s.db.NewInsert().Model(i).Exec(ctx)
	if err != nil {
		return err
	}
	setInsertedID(res, &i.ID)
	return nil
}

// ReplaceChapterIssues swaps a chapter's issues in one transaction.
func (s *Store) ReplaceChapterIssues(ctx context.Context, chapterID int64, issues []Issue) error {
	now := s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Issue)(nil)).Where("chapter_id = ?", chapterID).Exec(ctx); err != nil {
			return err
		}
		if len(issues) == 0 {
			return nil
		}
		for k := range issues {
			issues[k].ChapterID = chapterID
			issues[k].CreatedAt = now
			if issues[k].Priority == 0 {
				issues[k].Priority = 5
			}
			if issues[k].EstimatedEffort == "" {
				issues[k].EstimatedEffort = "medium"
			}
		}
		_, err := tx.NewInsert().Model(&issues).Exec(ctx)
		return err
	})
}

func (s *Store) GetIssue(ctx context.Context, id int64) (*Issue, error) {
	var i Issue
	if err := s.db.NewSelect().Model(&i).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

func (s *Store) IssuesByChapter(ctx context.Context, chapterID int64) ([]Issue, error) {
	out := []Issue{}
	if err := s.db.NewSelect().Model(&out).Where("chapter_id = ?", chapterID).OrderExpr(issueOrder).Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// IssuesByTutorial lists a tutorial's issues; an empty severity means all.
func (s *Store) IssuesByTutorial(ctx context.Context, tutorialID int64, severity string) ([]Issue, error) {
	out := []Issue{}
	q := s.db.NewSelect().Model(&out).Where("tutorial_id = ?", tutorialID)
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	if err := q.OrderExpr(issueOrder).Scan(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkIssueResolved stamps resolved_at when resolving and clears it otherwise.
func (s *Store) MarkIssueResolved(ctx context.Context, id int64, resolved bool) error {
	var at interface{}
	if resolved {
		at = s.now()
	}
	return mustAffect(s.db.NewUpdate().Model((*Issue)(nil)).
		Set("is_resolved = ?", resolved).
		Set("resolved_at = ?", at).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) DeleteIssuesByChapter(ctx context.Context, chapterID int64) error {
	_, err := s.db.NewDelete().Model((*Issue)(nil)).Where("chapter_id = ?", chapterID).Exec(ctx)
	return err
}

// CountResolved returns how many of a tutorial's issues are resolved.
func (s *Store) CountResolved(ctx context.Context, tutorialID int64) (int, error) {
	return s.db.NewSelect().Model((*Issue)(nil)).
		Where("tutorial_id = ?", tutorialID).
		Where("is_resolved = ?", true).
		Count(ctx)
}
