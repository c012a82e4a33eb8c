package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/lailoo/vibe-blog/internal/metrics"
	"github.com/lailoo/vibe-blog/internal/store"
)

var (
	ErrUnsupported   = errors.New("unsupported file type")
	ErrNotConfigured = errors.New("document conversion not configured")
)

// Image is an image extracted from a converted document.
type Image struct {
	LocalPath string `json:"-"`
	URL       string `json:"url"`
	FileName  string `json:"filename"`
	Page      int    `json:"page_num"`
	Caption   string `json:"caption,omitempty"`
}

// Result is a document turned into markdown.
type Result struct {
	Markdown string
	Images   []Image
	BatchID  string
	Folder   string
}

// StoredImages converts images to the form kept with a document.
func (r *Result) StoredImages() []store.DocumentImage {
	out := make([]store.DocumentImage, 0, len(r.Images))
	for _, img := range r.Images {
		out = append(out, store.DocumentImage{Path: img.URL, Page: img.Page, Caption: img.Caption})
	}
	return out
}

var (
	textExts   = map[string]bool{".txt": true, ".md": true, ".markdown": true}
	officeExts = map[string]bool{".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true}
)

// Supported reports whether name has an extension Parse understands.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return textExts[ext] || officeExts[ext]
}

// Converter turns an office document into markdown.
type Converter interface {
	Convert(ctx context.Context, path, name string) (*Result, error)
}

type Parser struct {
	conv Converter
	log  *zap.SugaredLogger
}

// New returns a parser. conv may be nil, in which case only text files
// can be parsed.
func New(conv Converter, logger *zap.SugaredLogger) *Parser {
	return &Parser{conv: conv, log: logger}
}

// Parse reads the file at path; name is the original upload name and
// decides the format.
func (p *Parser) Parse(ctx context.Context, path, name string) (*Result, error) {
	res, err := p.parse(ctx, path, name)
	metrics.RecordDocumentParsed(err)
	return res, err
}

func (p *Parser) parse(ctx context.Context, path, name string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case textExts[ext]:
		p.log.Infow("reading text document", "file", name)
		text, err := ReadText(path)
		if err != nil {
			return nil, err
		}
		return &Result{Markdown: text, Images: []Image{}}, nil
	case officeExts[ext]:
		if p.conv == nil {
			return nil, ErrNotConfigured
		}
		p.log.Infow("converting document", "file", name)
		return p.conv.Convert(ctx, path, name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// ReadText returns the file as UTF-8, decoding from GBK when the bytes are
// not valid UTF-8.
func ReadText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode text file: %w", err)
	}
	return string(decoded), nil
}
