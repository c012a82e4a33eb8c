package docs

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SupportedImageExts are the image formats worth analyzing.
var SupportedImageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
}

// Image is an image reference found in a chapter.
type Image struct {
	Src       string `json:"src"`
	Alt       string `json:"alt"`
	Line      int    `json:"line"`
	External  bool   `json:"external"`
	LocalPath string `json:"local_path,omitempty"`
	Exists    bool   `json:"exists"`
	MimeType  string `json:"mime_type,omitempty"`
}

var (
	mdImageRe   = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+["'][^"']*["'])?\s*\)`)
	htmlImageRe = regexp.MustCompile(`(?i)<img\s[^>]*>`)
	srcAttrRe   = regexp.MustCompile(`(?i)\bsrc\s*=\s*["']([^"']+)["']`)
	altAttrRe   = regexp.MustCompile(`(?i)\balt\s*=\s*["']([^"']*)["']`)
)

// ExtractImages finds markdown and HTML images in content. Local sources
// are resolved against docDir, or repoRoot for absolute-looking paths, and
// never outside repoRoot.
func ExtractImages(content, docDir, repoRoot string) []Image {
	var out []Image
	for i, line := range strings.Split(content, "\n") {
		for _, m := range mdImageRe.FindAllStringSubmatch(line, -1) {
			out = append(out, resolveImage(m[2], m[1], i+1, docDir, repoRoot))
		}
		for _, tag := range htmlImageRe.FindAllString(line, -1) {
			src := srcAttrRe.FindStringSubmatch(tag)
			if src == nil {
				continue
			}
			alt := ""
			if a := altAttrRe.FindStringSubmatch(tag); a != nil {
				alt = a[1]
			}
			out = append(out, resolveImage(src[1], alt, i+1, docDir, repoRoot))
		}
	}
	return out
}

// IsExternal reports whether src points off the local filesystem.
func IsExternal(src string) bool {
	if strings.HasPrefix(src, "//") {
		return true
	}
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func resolveImage(src, alt string, line int, docDir, repoRoot string) Image {
	img := Image{Src: src, Alt: alt, Line: line}
	if strings.HasPrefix(src, "data:") {
		img.External = true
		return img
	}
	if IsExternal(src) {
		img.External = true
		return img
	}
	clean := src
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if unescaped, err := url.PathUnescape(clean); err == nil {
		clean = unescaped
	}
	var full string
	if strings.HasPrefix(clean, "/") {
		full = filepath.Join(repoRoot, filepath.FromSlash(clean))
	} else {
		full = filepath.Join(docDir, filepath.FromSlash(clean))
	}
	if root, err := filepath.Abs(repoRoot); err == nil {
		if abs, err := filepath.Abs(full); err != nil || !strings.HasPrefix(abs+string(filepath.Separator), root+string(filepath.Separator)) {
			return img
		}
	}
	img.LocalPath = full
	img.MimeType = SupportedImageExts[strings.ToLower(filepath.Ext(full))]
	if fi, err := os.Stat(full); err == nil && !fi.IsDir() {
		img.Exists = true
	}
	return img
}
