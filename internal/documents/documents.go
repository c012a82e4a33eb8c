// Package documents handles uploaded reference documents and the knowledge
// built from them.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/fsutil"
	"github.com/lailoo/vibe-blog/internal/knowledge"
	"github.com/lailoo/vibe-blog/internal/llm"
	"github.com/lailoo/vibe-blog/internal/parser"
	"github.com/lailoo/vibe-blog/internal/search"
	"github.com/lailoo/vibe-blog/internal/store"
)

const (
	summaryLength  = 500
	captionedLimit = 10
)

var ErrNotFound = errors.New("document not found")

type Service struct {
	store     *store.Store
	parser    *parser.Parser
	model     llm.Client
	search    search.Searcher
	knowledge *knowledge.Builder
	uploadDir string
	log       *zap.SugaredLogger
}

type Options struct {
	Store  *store.Store
	Parser *parser.Parser
	// Model and Search may be nil. Summaries then fall back to leading
	// text and knowledge requests skip the web.
	Model     llm.Client
	Search    search.Searcher
	Knowledge *knowledge.Builder
	UploadDir string
	Logger    *zap.SugaredLogger
}

func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Knowledge == nil {
		o.Knowledge = knowledge.New(0, 0, o.Logger)
	}
	return &Service{
		store:     o.Store,
		parser:    o.Parser,
		model:     o.Model,
		search:    o.Search,
		knowledge: o.Knowledge,
		uploadDir: o.UploadDir,
		log:       o.Logger,
	}
}

// Upload saves r under the upload folder, converts it to markdown, chunks
// and summarizes it. A document that fails to parse is still recorded with
// status failed, and returned together with the error.
func (s *Service) Upload(ctx context.Context, fileName string, r io.Reader) (*store.Document, error) {
	name := fsutil.SafeFilename(fileName)
	if !parser.Supported(name) {
		return nil, fmt.Errorf("%w: %s", parser.ErrUnsupported, filepath.Ext(name))
	}
	id := uuid.NewString()
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, err
	}
	dst := filepath.Join(s.uploadDir, id+"_"+name)
	size, err := writeFile(dst, r)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	doc := &store.Document{ID: id, FileName: name, FilePath: dst, FileSize: size, Status: store.StatusPending}
	s.log.Infow("document uploaded", "document", id, "file", name, "size", size)

	res, err := s.parser.Parse(ctx, dst, name)
	if err != nil {
		doc.Status = store.StatusFailed
		doc.ErrorMessage = err.Error()
		if serr := s.store.CreateDocument(context.WithoutCancel(ctx), doc, nil); serr != nil {
			s.log.Errorw("failed to record document failure", "document", id, "error", serr)
		}
		s.log.Warnw("document parse failed", "document", id, "error", err)
		return doc, err
	}

	parser.CaptionImages(ctx, s.model, res.Images, captionedLimit, s.log)
	images, err := json.Marshal(res.StoredImages())
	if err != nil {
		return nil, err
	}
	doc.Markdown = res.Markdown
	doc.Images = string(images)
	doc.Summary = parser.Summarize(ctx, s.model, res.Markdown, summaryLength, s.log)
	doc.Status = store.StatusCompleted

	chunks := parser.ChunkMarkdown(res.Markdown, parser.DefaultChunkSize, parser.DefaultChunkOverlap)
	if err := s.store.CreateDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	s.log.Infow("document parsed", "document", id, "chars", len([]rune(res.Markdown)), "chunks", len(chunks), "images", len(res.Images))
	return doc, nil
}

func writeFile(dst string, r io.Reader) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(dst)
		return 0, err
	}
	return n, f.Close()
}

func (s *Service) List(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// DocumentDetail is a document with its chunks.
type DocumentDetail struct {
	*store.Document
	Chunks []store.DocumentChunk `json:"chunks"`
}

func (s *Service) Get(ctx context.Context, id string) (*DocumentDetail, error) {
	d, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.DocumentChunks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{Document: d, Chunks: chunks}, nil
}

// Delete removes the record, its chunks and the uploaded file.
func (s *Service) Delete(ctx context.Context, id string) error {
	d, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if d.FilePath != "" && fsutil.Within(s.uploadDir, d.FilePath) {
		if err := os.Remove(d.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warnw("failed to remove uploaded file", "document", id, "error", err)
		}
	}
	s.log.Infow("document deleted", "document", id)
	return nil
}

type KnowledgeRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Query       string   `json:"query"`
	SearchCount int      `json:"search_count"`
	// Chunked selects summary plus chunk items instead of one item per
	// document.
	Chunked bool `json:"chunked"`
}

type Knowledge struct {
	Items  []knowledge.Item `json:"items"`
	Stats  knowledge.Counts `json:"stats"`
	Prompt knowledge.Prompt `json:"prompt"`
}

// Knowledge merges the requested documents with an optional web search for
// Query. Unknown document ids are skipped.
func (s *Service) Knowledge(ctx context.Context, req KnowledgeRequest) (*Knowledge, error) {
	var (
		docs   []store.Document
		chunks []store.DocumentChunk
	)
	for _, id := range req.DocumentIDs {
		d, err := s.store.GetDocument(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warnw("knowledge request names unknown document", "document", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
		if req.Chunked {
			c, err := s.store.DocumentChunks(ctx, id)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, c...)
		}
	}

	var docItems []knowledge.Item
	if req.Chunked {
		docItems = s.knowledge.FromChunks(docs, chunks)
	} else {
		docItems = s.knowledge.FromDocuments(docs)
	}

	var web []knowledge.Item
	if q := strings.TrimSpace(req.Query); q != "" && s.search != nil {
		count := req.SearchCount
		if count <= 0 {
			count = 5
		}
		results, err := s.search.Search(ctx, q, count)
		if err != nil {
			s.log.Warnw("knowledge web search failed", "query", q, "error", err)
		}
		web = knowledge.FromSearch(results)
	}

	items := s.knowledge.Merge(docItems, web, knowledge.DefaultMaxItems)
	if items == nil {
		items = []knowledge.Item{}
	}
	return &Knowledge{
		Items:  items,
		Stats:  knowledge.Stats(items),
		Prompt: knowledge.SummarizeForPrompt(items, knowledge.DefaultMaxPromptChars),
	}, nil
}
