package matcher

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Directory names never descended into during a chapter scan.
var DefaultIgnoredDirs = []string{".git", "node_modules", "__pycache__", ".venv", "venv", ".idea", ".vscode"}

// Base-name patterns, matched case-insensitively, for repository
// housekeeping files that are not chapters.
var DefaultIgnoredFiles = []string{"readme*", "changelog*", "contributing*", "license*", "code_of_conduct*", "security*", ".*"}

type Matcher struct {
	include      []string
	exclude      []string
	ignoredDirs  map[string]struct{}
	ignoredFiles []string
}

// New builds a matcher over slash-separated relative paths. Include and
// exclude are doublestar patterns; the default ignore lists always apply.
func New(include, exclude []string) Matcher {
	dirs := make(map[string]struct{}, len(DefaultIgnoredDirs))
	for _, d := range DefaultIgnoredDirs {
		dirs[d] = struct{}{}
	}
	return Matcher{include: include, exclude: exclude, ignoredDirs: dirs, ignoredFiles: DefaultIgnoredFiles}
}

// SkipDir reports whether a directory with this base name is pruned.
func (m Matcher) SkipDir(name string) bool {
	_, ok := m.ignoredDirs[name]
	return ok
}

// Match reports whether rel is a chapter file.
func (m Matcher) Match(rel string) bool {
	// empty include => no match
	if len(m.include) == 0 {
		return false
	}
	for _, seg := range strings.Split(path.Dir(rel), "/") {
		if m.SkipDir(seg) {
			return false
		}
	}
	base := strings.ToLower(path.Base(rel))
	for _, p := range m.ignoredFiles {
		if ok, _ := doublestar.Match(p, base); ok {
			return false
		}
	}
	included := false
	for _, p := range m.include {
		if matchAny(p, rel) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range m.exclude {
		if matchAny(p, rel) {
			return false
		}
	}
	return true
}

// matchAny lets "**/*.md" also match top-level "a.md" and compares
// extensions without regard to case.
func matchAny(pattern, rel string) bool {
	lower := strings.ToLower(rel)
	for _, s := range []string{rel, lower} {
		if ok, _ := doublestar.Match(pattern, s); ok {
			return true
		}
	}
	return false
}
