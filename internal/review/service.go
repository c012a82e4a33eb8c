package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/config"
	"github.com/lailoo/vibe-blog/internal/gitrepo"
	"github.com/lailoo/vibe-blog/internal/search"
	"github.com/lailoo/vibe-blog/internal/store"
)

var (
	ErrTutorialNotFound = errors.New("tutorial not found")
	ErrChapterNotFound  = errors.New("chapter not found")
	ErrIssueNotFound    = errors.New("issue not found")
	ErrInvalidGitURL    = gitrepo.ErrInvalidURL
	ErrInvalidBranch    = gitrepo.ErrInvalidBranch
)

// Repos fetches tutorial sources onto local disk.
type Repos interface {
	Sync(ctx context.Context, gitURL, branch string) (dir string, updated bool, err error)
	Remove(gitURL string) error
}

// Service owns tutorials and their evaluations.
type Service struct {
	store  *store.Store
	repos  Repos
	agents *Agents
	search search.Searcher
	tuning *config.State
	log    *zap.SugaredLogger
	now    func() time.Time

	allowLocal bool
}

type Options struct {
	Store  *store.Store
	Repos  Repos
	Agents *Agents
	// Search may be nil; evaluations then run without references.
	Search search.Searcher
	Tuning *config.State
	Logger *zap.SugaredLogger
	// AllowLocalRepos accepts absolute paths and file:// URLs as git_url.
	AllowLocalRepos bool
}

func NewService(o Options) *Service {
	if o.Tuning == nil {
		o.Tuning = config.NewState()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  o.Store,
		repos:  o.Repos,
		agents: o.Agents,
		search: o.Search,
		tuning: o.Tuning,
		log:    o.Logger,
		now:    time.Now,

		allowLocal: o.AllowLocalRepos,
	}
}

type TutorialRequest struct {
	GitURL          string `json:"git_url"`
	Name            string `json:"name"`
	Branch          string `json:"branch"`
	EnableSearch    *bool  `json:"enable_search"`
	MaxSearchRounds *int   `json:"max_search_rounds"`
}

// CreateTutorial registers a repository. Adding a URL twice returns the
// tutorial created the first time.
func (s *Service) CreateTutorial(ctx context.Context, req TutorialRequest) (*store.Tutorial, error) {
	req.GitURL = strings.TrimSpace(req.GitURL)
	if err := gitrepo.ValidateURL(req.GitURL, s.allowLocal); err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.GitURL)
	}
	req.Branch = strings.TrimSpace(req.Branch)
	if err := gitrepo.ValidateBranch(req.Branch); err != nil {
		return nil, err
	}
	if existing, err := s.store.GetTutorialByGitURL(ctx, req.GitURL); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	t := &store.Tutorial{
		Name:            strings.TrimSpace(req.Name),
		GitURL:          req.GitURL,
		Branch:          req.Branch,
		EnableSearch:    true,
		MaxSearchRounds: 2,
	}
	if t.Name == "" {
		t.Name = gitrepo.RepoName(req.GitURL)
	}
	if req.EnableSearch != nil {
		t.EnableSearch = *req.EnableSearch
	}
	if req.MaxSearchRounds != nil {
		t.MaxSearchRounds = *req.MaxSearchRounds
	}
	if err := s.store.CreateTutorial(ctx, t); err != nil {
		return nil, fmt.Errorf("create tutorial: %w", err)
	}
	s.log.Infow("tutorial added", "id", t.ID, "url", t.GitURL)
	return t, nil
}

func (s *Service) ListTutorials(ctx context.Context) ([]store.Tutorial, error) {
	return s.store.ListTutorials(ctx)
}

func (s *Service) GetTutorial(ctx context.Context, id int64) (*store.Tutorial, error) {
	t, err := s.store.GetTutorial(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTutorialNotFound
	}
	return t, err
}

// DeleteTutorial removes the tutorial, its records and its local clone.
func (s *Service) DeleteTutorial(ctx context.Context, id int64) error {
	t, err := s.GetTutorial(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTutorial(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTutorialNotFound
		}
		return err
	}
	if err := s.repos.Remove(t.GitURL); err != nil {
		s.log.Warnw("failed to remove clone", "id", id, "error", err)
	}
	s.log.Infow("tutorial deleted", "id", id)
	return nil
}

func (s *Service) Chapters(ctx context.Context, tutorialID int64) ([]store.Chapter, error) {
	if _, err := s.GetTutorial(ctx, tutorialID); err != nil {
		return nil, err
	}
	chapters, err := s.store.ChaptersByTutorial(ctx, tutorialID)
	if err != nil {
		return nil, err
	}
	for i := range chapters {
		chapters[i].RawContent = ""
	}
	return chapters, nil
}

// ChapterDetail is a chapter with the images and references recorded for it.
type ChapterDetail struct {
	store.Chapter
	Images     []store.Image     `json:"images"`
	References []store.Reference `json:"references"`
}

func (s *Service) Chapter(ctx context.Context, id int64) (*ChapterDetail, error) {
	c, err := s.store.GetChapter(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChapterNotFound
	}
	if err != nil {
		return nil, err
	}
	images, err := s.store.ImagesByChapter(ctx, id)
	if err != nil {
		return nil, err
	}
	refs, err := s.store.ReferencesByChapter(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ChapterDetail{Chapter: *c, Images: images, References: refs}, nil
}

// IssueFilter selects issues by chapter, else by tutorial and severity.
type IssueFilter struct {
	TutorialID int64
	ChapterID  int64
	Severity   string
}

func (s *Service) Issues(ctx context.Context, f IssueFilter) ([]store.Issue, error) {
	if f.ChapterID != 0 {
		return s.store.IssuesByChapter(ctx, f.ChapterID)
	}
	return s.store.IssuesByTutorial(ctx, f.TutorialID, f.Severity)
}

func (s *Service) MarkIssueResolved(ctx context.Context, id int64, resolved bool) error {
	err := s.store.MarkIssueResolved(ctx, id, resolved)
	if errors.Is(err, store.ErrNotFound) {
		return ErrIssueNotFound
	}
	return err
}

func (s *Service) History(ctx context.Context, tutorialID int64) ([]store.History, error) {
	if _, err := s.GetTutorial(ctx, tutorialID); err != nil {
		return nil, err
	}
	return s.store.HistoryByTutorial(ctx, tutorialID)
}
