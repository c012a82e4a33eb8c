package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathTraversal = errors.New("path escapes root")

// JoinSecure resolves requestPath beneath root. Symlinks are followed one
// segment at a time and every hop must stay inside root.
func JoinSecure(root, requestPath string) (string, error) {
	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	cur := base
	for _, seg := range segments(requestPath) {
		cur = filepath.Join(cur, seg)
		if !Within(base, cur) {
			return "", ErrPathTraversal
		}
		fi, err := os.Lstat(cur)
		if err != nil || fi.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(cur)
		if err != nil {
			return "", err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		if cur, err = filepath.Abs(target); err != nil {
			return "", err
		}
		if !Within(base, cur) {
			return "", ErrPathTraversal
		}
	}
	return cur, nil
}

// Within reports whether path equals root or lies below it.
func Within(root, path string) bool {
	root, path = filepath.Clean(root), filepath.Clean(path)
	if root == path {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// SafeFilename strips directories and characters that are awkward on disk
// from an uploaded file name. An empty result becomes "file".
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	if name == "" {
		return "file"
	}
	return name
}

func segments(p string) []string {
	clean := filepath.Clean("/" + filepath.ToSlash(p))
	var out []string
	for _, s := range strings.Split(clean, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
