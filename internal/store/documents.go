package store

import (
	"context"

	"github.com/uptrace/bun"
)

// CreateDocument stores a parsed document together with its chunks.
func (s *Store) CreateDocument(ctx context.Context, d *Document, chunks []DocumentChunk) error {
	d.CreatedAt = s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(d).Exec(ctx); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for k := range chunks {
			chunks[k].DocumentID = d.ID
		}
		_, err := tx.NewInsert().Model(&chunks).Exec(ctx)
		return err
	})
}

func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var d Document
	if err := s.db.NewSelect().Model(&d).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ListDocuments omits the markdown body.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	out := []Document{}
	err := s.db.NewSelect().Model(&out).
		ExcludeColumn("markdown_content").
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DocumentChunks(ctx context.Context, documentID string) ([]DocumentChunk, error) {
	out := []DocumentChunk{}
	err := s.db.NewSelect().Model(&out).
		Where("document_id = ?", documentID).
		OrderExpr("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*DocumentChunk)(nil)).Where("document_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		return mustAffect(tx.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx))
	})
}
