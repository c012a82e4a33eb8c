package gitrepo

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrInvalidURL    = errors.New("invalid git url")
	ErrLocalURL      = fmt.Errorf("%w: local repositories are disabled", ErrInvalidURL)
	ErrInvalidBranch = errors.New("invalid branch name")
)

// Syncer keeps local clones of tutorial repositories under BaseDir.
type Syncer struct {
	BaseDir      string
	CloneTimeout time.Duration
	PullTimeout  time.Duration
	Logger       *zap.SugaredLogger

	// Timeouts, when set, is consulted on every call in place of the
	// fixed values.
	Timeouts func() (clone, pull time.Duration)

	// AllowLocal permits absolute paths and file:// remotes.
	AllowLocal bool

	// git binary; tests may point this at a wrapper
	Git string
}

func NewSyncer(baseDir string, logger *zap.SugaredLogger) *Syncer {
	return &Syncer{
		BaseDir:      baseDir,
		CloneTimeout: 300 * time.Second,
		PullTimeout:  120 * time.Second,
		Logger:       logger,
		Git:          "git",
	}
}

// RepoName is the last path segment of url without a .git suffix.
func RepoName(gitURL string) string {
	u := strings.TrimRight(gitURL, "/")
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	u = strings.TrimSuffix(u, ".git")
	if u == "" {
		return "repo"
	}
	return u
}

// RepoDir is {name}_{md5(url)[:12]} under base, stable for a given URL.
func RepoDir(base, gitURL string) string {
	sum := md5.Sum([]byte(gitURL))
	return filepath.Join(base, RepoName(gitURL)+"_"+hex.EncodeToString(sum[:])[:12])
}

// IsLocal reports whether gitURL names a repository on this host.
func IsLocal(gitURL string) bool {
	return filepath.IsAbs(gitURL) || strings.HasPrefix(gitURL, "file://")
}

// ValidateURL accepts http(s), ssh and scp-style git remotes. Absolute
// local paths and file:// URLs pass only with allowLocal.
func ValidateURL(gitURL string, allowLocal bool) error {
	if gitURL == "" || strings.HasPrefix(gitURL, "-") || strings.ContainsAny(gitURL, " \t\n") {
		return ErrInvalidURL
	}
	if IsLocal(gitURL) {
		if !allowLocal {
			return ErrLocalURL
		}
		return nil
	}
	if strings.HasPrefix(gitURL, "git@") && strings.Contains(gitURL, ":") {
		return nil
	}
	u, err := url.Parse(gitURL)
	if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return ErrInvalidURL
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return nil
	}
	return ErrInvalidURL
}

// ValidateBranch applies the rules of git check-ref-format --branch. An
// empty branch is valid and means the default.
func ValidateBranch(branch string) error {
	if branch == "" {
		return nil
	}
	bad := strings.HasPrefix(branch, "-") ||
		strings.HasPrefix(branch, "/") ||
		strings.HasSuffix(branch, "/") ||
		strings.HasSuffix(branch, ".") ||
		strings.HasSuffix(branch, ".lock") ||
		strings.Contains(branch, "..") ||
		strings.Contains(branch, "//") ||
		strings.Contains(branch, "@{") ||
		branch == "@" ||
		strings.ContainsAny(branch, " ~^:?*[\\")
	for _, r := range branch {
		if r < 0x20 || r == 0x7f {
			bad = true
		}
	}
	for _, part := range strings.Split(branch, "/") {
		if strings.HasPrefix(part, ".") {
			bad = true
		}
	}
	if bad {
		return fmt.Errorf("%w: %q", ErrInvalidBranch, branch)
	}
	return nil
}

// Sync clones gitURL when no local copy exists, else pulls. updated reports
// whether HEAD moved (always true for a fresh clone).
func (s *Syncer) Sync(ctx context.Context, gitURL, branch string) (dir string, updated bool, err error) {
	if err := ValidateURL(gitURL, s.AllowLocal); err != nil {
		return "", false, err
	}
	if err := ValidateBranch(branch); err != nil {
		return "", false, err
	}
	if branch == "" {
		branch = "main"
	}
	dir = RepoDir(s.BaseDir, gitURL)
	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
		updated, err = s.pull(ctx, dir, branch)
		return dir, updated, err
	}
	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return "", false, err
	}
	_ = os.RemoveAll(dir)
	if err := s.clone(ctx, gitURL, branch, dir); err != nil {
		return "", false, err
	}
	return dir, true, nil
}

// Remove deletes the local clone for gitURL, if any.
func (s *Syncer) Remove(gitURL string) error {
	return os.RemoveAll(RepoDir(s.BaseDir, gitURL))
}

func (s *Syncer) timeouts() (clone, pull time.Duration) {
	if s.Timeouts != nil {
		return s.Timeouts()
	}
	return s.CloneTimeout, s.PullTimeout
}

func (s *Syncer) clone(ctx context.Context, gitURL, branch, dir string) error {
	timeout, _ := s.timeouts()
	s.Logger.Infow("cloning repository", "url", gitURL, "branch", branch, "dir", dir)
	_, err := s.run(ctx, timeout, "", "clone", "--depth", "1", "-b", branch, "--", gitURL, dir)
	if err == nil {
		return nil
	}
	s.Logger.Warnw("branch clone failed, retrying default branch", "url", gitURL, "branch", branch, "error", err)
	_ = os.RemoveAll(dir)
	if _, err := s.run(ctx, timeout, "", "clone", "--depth", "1", "--", gitURL, dir); err != nil {
		return fmt.Errorf("git clone %s: %w", gitURL, err)
	}
	return nil
}

func (s *Syncer) pull(ctx context.Context, dir, branch string) (bool, error) {
	_, timeout := s.timeouts()
	before, _ := s.Head(ctx, dir)
	s.Logger.Infow("pulling repository", "dir", dir, "branch", branch)
	if _, err := s.run(ctx, timeout, dir, "pull", "origin", branch); err != nil {
		s.Logger.Warnw("branch pull failed, retrying plain pull", "dir", dir, "error", err)
		if _, err := s.run(ctx, timeout, dir, "pull"); err != nil {
			return false, fmt.Errorf("git pull: %w", err)
		}
	}
	after, err := s.Head(ctx, dir)
	if err != nil {
		return false, err
	}
	return before != after, nil
}

// Head returns the commit hash checked out in dir.
func (s *Syncer) Head(ctx context.Context, dir string) (string, error) {
	out, err := s.run(ctx, 10*time.Second, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Syncer) run(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, s.Git, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", args[0], timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
