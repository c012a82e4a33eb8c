package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lailoo/vibe-blog/internal/docs"
	"github.com/lailoo/vibe-blog/internal/llm"
)

const summaryPrompt = `Summarize the document below for someone deciding whether it is useful background for an article.
Cover its subject, main points and any notable data. Reply with plain text of at most %d characters.

Document:
%s`

const captionPrompt = `Describe this image from a document in at most %d characters.
Say what it shows and any text or figures that matter. Reply with plain text only.`

// Summarize asks the model for a short summary of the document's first
// 4000 characters. Without a model, or when it fails, the summary is the
// first maxLen characters of content.
func Summarize(ctx context.Context, c llm.Client, content string, maxLen int, log *zap.SugaredLogger) string {
	if maxLen <= 0 {
		maxLen = 500
	}
	if c != nil {
		resp, err := c.Chat(ctx, llm.User(fmt.Sprintf(summaryPrompt, maxLen, firstRunes(content, 4000))))
		if err == nil && strings.TrimSpace(resp) != "" {
			s := strings.TrimSpace(resp)
			if r := []rune(s); len(r) > maxLen {
				s = string(r[:maxLen-3]) + "..."
			}
			return s
		}
		log.Warnw("document summary failed, using leading text", "error", err)
	}
	return strings.TrimSpace(firstRunes(content, maxLen))
}

// CaptionImages describes up to limit extracted images with the vision
// model. Images that fail keep an empty caption.
func CaptionImages(ctx context.Context, c llm.Client, images []Image, limit int, log *zap.SugaredLogger) {
	if c == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	n := 0
	for i := range images {
		if limit > 0 && n >= limit {
			break
		}
		img := &images[i]
		mime := docs.SupportedImageExts[strings.ToLower(filepath.Ext(img.LocalPath))]
		if img.LocalPath == "" || mime == "" || mime == "image/svg+xml" {
			continue
		}
		n++
		g.Go(func() error {
			data, err := os.ReadFile(img.LocalPath)
			if err != nil {
				log.Warnw("cannot read extracted image", "path", img.LocalPath, "error", err)
				return nil
			}
			caption, err := c.ChatWithImage(gctx, fmt.Sprintf(captionPrompt, 200), data, mime)
			if err != nil {
				log.Warnw("image caption failed", "image", img.FileName, "error", err)
				return nil
			}
			img.Caption = strings.TrimSpace(caption)
			return nil
		})
	}
	_ = g.Wait()
}

func firstRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
