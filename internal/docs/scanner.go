package docs

import (
	"crypto/md5"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one chapter file found in a repository.
type Document struct {
	Path      string `json:"path"`
	RelPath   string `json:"rel_path"`
	FileName  string `json:"file_name"`
	Title     string `json:"title"`
	Content   string `json:"-"`
	Hash      string `json:"hash"`
	WordCount int    `json:"word_count"`
	Order     int    `json:"order"`
}

// Filter decides which files are chapters.
type Filter interface {
	SkipDir(name string) bool
	Match(rel string) bool
}

// Scan walks root and returns the chapter files accepted by f, sorted by
// relative path and numbered from 1. Empty files are skipped.
func Scan(root string, f Filter) ([]Document, error) {
	var out []Document
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && f.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !d.Type().IsRegular() || !f.Match(rel) {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		content := string(b)
		if strings.TrimSpace(content) == "" {
			return nil
		}
		out = append(out, Document{
			Path:      p,
			RelPath:   rel,
			FileName:  d.Name(),
			Title:     Title(content, d.Name()),
			Content:   content,
			Hash:      Hash(content),
			WordCount: WordCount(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	for i := range out {
		out[i].Order = i + 1
	}
	return out, nil
}

func Hash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Title is the first ATX "# " heading or setext "===" heading, falling back
// to the file name without its extension.
func Title(content, fileName string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(trimmed, "# ") {
			if t := strings.TrimSpace(strings.TrimRight(trimmed[2:], "#")); t != "" {
				return t
			}
		}
		if i > 0 && trimmed != "" && strings.Trim(trimmed, "=") == "" {
			if prev := strings.TrimSpace(lines[i-1]); prev != "" {
				return prev
			}
		}
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}
