package documents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/knowledge"
	"github.com/lailoo/vibe-blog/internal/parser"
	"github.com/lailoo/vibe-blog/internal/search"
	"github.com/lailoo/vibe-blog/internal/store"
)

type stubSearch struct {
	query   string
	count   int
	results []search.Result
}

func (s *stubSearch) Search(_ context.Context, q string, count int) ([]search.Result, error) {
	s.query, s.count = q, count
	return s.results, nil
}

const notes = "# Go Channels\n\nintro\n## Send\nsend body"

func newService(t *testing.T, s search.Searcher) (*Service, string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "file:docs_"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	log := zap.NewNop().Sugar()
	dir := t.TempDir()
	return NewService(Options{
		Store:     st,
		Parser:    parser.New(nil, log),
		Search:    s,
		Knowledge: knowledge.New(0, 0, log),
		UploadDir: dir,
		Logger:    log,
	}), dir
}

func TestUploadAndGet(t *testing.T) {
	ctx := context.Background()
	svc, dir := newService(t, nil)

	doc, err := svc.Upload(ctx, "../notes.md", strings.NewReader(notes))
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, doc.Status)
	assert.Equal(t, "notes.md", doc.FileName)
	assert.Equal(t, int64(len(notes)), doc.FileSize)
	assert.Equal(t, notes, doc.Summary)
	assert.Equal(t, "[]", doc.Images)
	assert.True(t, strings.HasPrefix(doc.FilePath, dir))
	assert.FileExists(t, doc.FilePath)

	detail, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, notes, detail.Markdown)
	require.Len(t, detail.Chunks, 2)
	assert.Equal(t, "Send", detail.Chunks[1].Title)

	_, err = svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadFailures(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	doc, err := svc.Upload(ctx, "tool.exe", strings.NewReader("MZ"))
	assert.ErrorIs(t, err, parser.ErrUnsupported)
	assert.Nil(t, doc)

	doc, err = svc.Upload(ctx, "deck.pdf", strings.NewReader("%PDF"))
	assert.ErrorIs(t, err, parser.ErrNotConfigured)
	require.NotNil(t, doc)
	assert.Equal(t, store.StatusFailed, doc.Status)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.StatusFailed, list[0].Status)
	assert.Equal(t, parser.ErrNotConfigured.Error(), list[0].ErrorMessage)
}

func TestKnowledge(t *testing.T) {
	ctx := context.Background()
	ws := &stubSearch{results: []search.Result{
		{Title: "Go Channels", URL: "https://dup", Content: "same title as the upload"},
		{Title: "Tour of Go", URL: "https://go.dev/tour", Content: "channels are typed conduits"},
		{Title: "Empty", URL: "https://empty"},
	}}
	svc, _ := newService(t, ws)

	md, err := svc.Upload(ctx, "notes.md", strings.NewReader(notes))
	require.NoError(t, err)
	pdf, _ := svc.Upload(ctx, "deck.pdf", strings.NewReader("%PDF"))

	k, err := svc.Knowledge(ctx, KnowledgeRequest{DocumentIDs: []string{md.ID, pdf.ID, "missing"}, Query: " go channels "})
	require.NoError(t, err)
	assert.Equal(t, "go channels", ws.query)
	assert.Equal(t, 5, ws.count)
	require.Len(t, k.Items, 2)
	assert.Equal(t, "Go Channels", k.Items[0].Title)
	assert.Equal(t, knowledge.SourceDocument, k.Items[0].SourceType)
	assert.Equal(t, "Tour of Go", k.Items[1].Title)
	assert.Equal(t, knowledge.Counts{Documents: 1, Web: 1, Total: 2, TotalLength: len(notes) + len("channels are typed conduits")}, k.Stats)
	assert.Equal(t, []knowledge.Ref{{Title: "Go Channels", FileName: "notes.md"}}, k.Prompt.DocumentRefs)
	assert.Equal(t, []knowledge.Ref{{Title: "Tour of Go", URL: "https://go.dev/tour"}}, k.Prompt.WebRefs)

	k, err = svc.Knowledge(ctx, KnowledgeRequest{DocumentIDs: []string{md.ID}, Chunked: true})
	require.NoError(t, err)
	titles := make([]string, 0, len(k.Items))
	for _, it := range k.Items {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"notes.md - summary", "notes.md", "notes.md - Send"}, titles)

	k, err = svc.Knowledge(ctx, KnowledgeRequest{})
	require.NoError(t, err)
	assert.Empty(t, k.Items)
	assert.NotNil(t, k.Items)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	doc, err := svc.Upload(ctx, "notes.md", strings.NewReader(notes))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, doc.ID))
	assert.NoFileExists(t, doc.FilePath)
	assert.ErrorIs(t, svc.Delete(ctx, doc.ID), ErrNotFound)
}
