package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepoName(t *testing.T) {
	assert.Equal(t, "book", RepoName("https://github.com/acme/book.git"))
	assert.Equal(t, "book", RepoName("https://github.com/acme/book/"))
	assert.Equal(t, "book", RepoName("git@github.com:acme/book.git"))
	assert.Equal(t, "repo", RepoName(""))
}

func TestRepoDirStable(t *testing.T) {
	a := RepoDir("/base", "https://github.com/acme/book.git")
	b := RepoDir("/base", "https://github.com/acme/book.git")
	c := RepoDir("/base", "https://gitlab.com/acme/book.git")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	name := filepath.Base(a)
	assert.True(t, strings.HasPrefix(name, "book_"))
	assert.Len(t, strings.TrimPrefix(name, "book_"), 12)
}

func TestValidateURL(t *testing.T) {
	for _, ok := range []string{
		"https://github.com/acme/book.git",
		"ssh://git@host/acme/book.git",
		"git@github.com:acme/book.git",
	} {
		assert.NoError(t, ValidateURL(ok, false), ok)
	}
	for _, bad := range []string{"", "--upload-pack=evil", "ftp://host/x", "https://host", "not a url"} {
		assert.ErrorIs(t, ValidateURL(bad, true), ErrInvalidURL, bad)
	}
}

func TestValidateURLLocalNeedsOptIn(t *testing.T) {
	for _, local := range []string{"/srv/git/book", "file:///srv/git/book"} {
		assert.ErrorIs(t, ValidateURL(local, false), ErrLocalURL, local)
		assert.ErrorIs(t, ValidateURL(local, false), ErrInvalidURL, local)
		assert.NoError(t, ValidateURL(local, true), local)
	}
}

func TestValidateBranch(t *testing.T) {
	for _, ok := range []string{"", "main", "release/1.2", "feature-x", "v2_docs"} {
		assert.NoError(t, ValidateBranch(ok), ok)
	}
	for _, bad := range []string{
		"--upload-pack=touch x",
		"-b",
		"a..b",
		"a b",
		"x~1",
		"x^",
		"a:b",
		"what?",
		"a*",
		"a[b",
		`a\b`,
		"/lead",
		"trail/",
		"a//b",
		"dot.",
		"x.lock",
		".hidden",
		"a/.b",
		"@",
		"a@{1}",
		"tab\tname",
	} {
		assert.ErrorIs(t, ValidateBranch(bad), ErrInvalidBranch, bad)
	}
}

func gitAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
		"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestSyncCloneThenPull(t *testing.T) {
	gitAvailable(t)
	ctx := context.Background()

	origin := t.TempDir()
	runGit(t, origin, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "ch1.md"), []byte("# One\n"), 0o644))
	runGit(t, origin, "add", ".")
	runGit(t, origin, "commit", "-q", "-m", "first")

	s := NewSyncer(t.TempDir(), zap.NewNop().Sugar())
	s.AllowLocal = true
	url := "file://" + origin

	dir, updated, err := s.Sync(ctx, url, "main")
	require.NoError(t, err)
	assert.True(t, updated)
	assert.FileExists(t, filepath.Join(dir, "ch1.md"))

	_, updated, err = s.Sync(ctx, url, "main")
	require.NoError(t, err)
	assert.False(t, updated)

	require.NoError(t, os.WriteFile(filepath.Join(origin, "ch2.md"), []byte("# Two\n"), 0o644))
	runGit(t, origin, "add", ".")
	runGit(t, origin, "commit", "-q", "-m", "second")

	_, updated, err = s.Sync(ctx, url, "main")
	require.NoError(t, err)
	assert.True(t, updated)
	assert.FileExists(t, filepath.Join(dir, "ch2.md"))

	require.NoError(t, s.Remove(url))
	assert.NoDirExists(t, dir)
}

func TestSyncFallsBackToDefaultBranch(t *testing.T) {
	gitAvailable(t)
	origin := t.TempDir()
	runGit(t, origin, "init", "-q", "-b", "trunk")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "a.md"), []byte("# A\n"), 0o644))
	runGit(t, origin, "add", ".")
	runGit(t, origin, "commit", "-q", "-m", "init")

	s := NewSyncer(t.TempDir(), zap.NewNop().Sugar())
	s.AllowLocal = true
	dir, _, err := s.Sync(context.Background(), "file://"+origin, "main")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "a.md"))
}

func TestSyncRejectsOptionLikeBranch(t *testing.T) {
	gitAvailable(t)
	ctx := context.Background()
	origin := t.TempDir()
	runGit(t, origin, "init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(origin, "a.md"), []byte("# A\n"), 0o644))
	runGit(t, origin, "add", ".")
	runGit(t, origin, "commit", "-q", "-m", "init")

	s := NewSyncer(t.TempDir(), zap.NewNop().Sugar())
	s.AllowLocal = true
	url := "file://" + origin
	_, _, err := s.Sync(ctx, url, "main")
	require.NoError(t, err)

	// a second sync pulls, where the branch is a bare argument
	marker := filepath.Join(t.TempDir(), "pwned")
	_, _, err = s.Sync(ctx, url, "--upload-pack=touch "+marker+";git-upload-pack")
	assert.ErrorIs(t, err, ErrInvalidBranch)
	assert.NoFileExists(t, marker)
}

func TestSyncRejectsLocalByDefault(t *testing.T) {
	s := NewSyncer(t.TempDir(), zap.NewNop().Sugar())
	_, _, err := s.Sync(context.Background(), "file:///etc", "main")
	assert.ErrorIs(t, err, ErrLocalURL)
}
