package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type PatternSet struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type Weights struct {
	Depth        float64 `yaml:"depth"`
	Accuracy     float64 `yaml:"accuracy"`
	Completeness float64 `yaml:"completeness"`
	Logic        float64 `yaml:"logic"`
	Readability  float64 `yaml:"readability"`
}

// Review holds reviewer tuning that may change while the server runs.
type Review struct {
	Chapters PatternSet `yaml:"chapters"`
	Scoring  struct {
		Weights *Weights `yaml:"weights"`
	} `yaml:"scoring"`
	References struct {
		MinRelevance float64 `yaml:"minRelevance"`
		TopK         int     `yaml:"topK"`
	} `yaml:"references"`
	Search struct {
		ResultsPerRound int `yaml:"resultsPerRound"`
	} `yaml:"search"`
	Git struct {
		CloneTimeout time.Duration `yaml:"cloneTimeout"`
		PullTimeout  time.Duration `yaml:"pullTimeout"`
	} `yaml:"git"`
	Images struct {
		MaxPerChapter int `yaml:"maxPerChapter"`
	} `yaml:"images"`
}

// DefaultReview returns the tuning used when no file is present.
func DefaultReview() *Review {
	r := &Review{}
	r.Chapters.Include = []string{"**/*.md", "**/*.markdown"}
	r.References.MinRelevance = 0.3
	r.References.TopK = 5
	r.Search.ResultsPerRound = 5
	r.Git.CloneTimeout = 300 * time.Second
	r.Git.PullTimeout = 120 * time.Second
	r.Images.MaxPerChapter = 10
	return r
}

type State struct {
	cfg atomic.Value // *Review
}

func NewState() *State { s := &State{}; s.cfg.Store(DefaultReview()); return s }

func (s *State) Current() *Review { return s.cfg.Load().(*Review) }

func (s *State) ApplyNewConfig(c *Review) { s.cfg.Store(c) }

// LoadReview parses path over the defaults so omitted keys keep their values.
func LoadReview(path string) (*Review, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := DefaultReview()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if len(c.Chapters.Include) == 0 {
		c.Chapters.Include = DefaultReview().Chapters.Include
	}
	return c, nil
}

// WatchFile loads path once, then calls onChange after every write to it.
// The parent directory is watched so editors that replace the file are seen.
func WatchFile(ctx context.Context, path string, logger *zap.SugaredLogger, onChange func(*Review)) error {
	if cfg, err := LoadReview(path); err == nil {
		onChange(cfg)
	} else if !os.IsNotExist(err) {
		logger.Warnw("failed to load reviewer config", "path", path, "error", err)
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Infow("reviewer config directory absent, using defaults", "dir", dir)
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(path) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				time.Sleep(200 * time.Millisecond)
				cfg, err := LoadReview(path)
				if err != nil {
					logger.Warnw("reviewer config reload failed", "error", err)
					continue
				}
				logger.Infow("reviewer config reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnw("watch error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
