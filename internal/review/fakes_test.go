package review

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/lailoo/vibe-blog/internal/llm"
	"github.com/lailoo/vibe-blog/internal/search"
)

// fakeLLM answers each prompt kind with a canned reply.
type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	image   string
	calls   map[string]int
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{replies: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func promptKind(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "You are analyzing"):
		return "analyze"
	case strings.HasPrefix(prompt, "You are checking"):
		return "depth"
	case strings.HasPrefix(prompt, "You are reviewing"):
		return "quality"
	case strings.HasPrefix(prompt, "You are rating"):
		return "readability"
	case strings.HasPrefix(prompt, "You are turning"):
		return "improve"
	}
	return "other"
}

func (f *fakeLLM) Chat(_ context.Context, msgs []llm.Message) (string, error) {
	kind := promptKind(msgs[len(msgs)-1].Content)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	if err := f.errs[kind]; err != nil {
		return "", err
	}
	return f.replies[kind], nil
}

func (f *fakeLLM) ChatWithImage(context.Context, string, []byte, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["image"]++
	if f.image == "" {
		return "", errors.New("no vision model")
	}
	return f.image, nil
}

func (f *fakeLLM) Model() string { return "fake" }

func (f *fakeLLM) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	counts  []int
	results map[string][]search.Result
	fail    map[string]bool
}

func (f *fakeSearch) Search(_ context.Context, q string, count int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	f.counts = append(f.counts, count)
	if f.fail[q] {
		return nil, errors.New("search down")
	}
	return f.results[q], nil
}

type fakeRepos struct {
	dir     string
	err     error
	removed []string
}

func (f *fakeRepos) Sync(context.Context, string, string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return f.dir, true, nil
}

func (f *fakeRepos) Remove(url string) error {
	f.removed = append(f.removed, url)
	return nil
}
