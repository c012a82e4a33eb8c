package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/fsutil"
	"github.com/lailoo/vibe-blog/internal/logging"
)

// APIError is a MinerU response with a non-zero code.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mineru %s: code %d: %s", e.Op, e.Code, e.Msg)
}

// MinerU converts documents through the mineru.net batch API. Results are
// unpacked under {uploadDir}/mineru_files/{extract id}.
type MinerU struct {
	token     string
	baseURL   string
	uploadDir string
	http      *retryablehttp.Client
	log       *zap.SugaredLogger

	pollInterval time.Duration
	maxWait      time.Duration
}

func NewMinerU(token, baseURL, uploadDir string, logger *zap.SugaredLogger) *MinerU {
	if baseURL == "" {
		baseURL = "https://mineru.net"
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = time.Second
	hc.RetryWaitMax = 10 * time.Second
	hc.HTTPClient.Timeout = 5 * time.Minute
	hc.Logger = logging.Leveled{S: logger}
	return &MinerU{
		token:        token,
		baseURL:      strings.TrimRight(baseURL, "/"),
		uploadDir:    uploadDir,
		http:         hc,
		log:          logger,
		pollInterval: 2 * time.Second,
		maxWait:      10 * time.Minute,
	}
}

func (m *MinerU) Configured() bool { return m != nil && m.token != "" }

// Convert uploads the file, waits for extraction and unpacks the result.
func (m *MinerU) Convert(ctx context.Context, filePath, name string) (*Result, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}
	batchID, uploadURL, err := m.requestUpload(ctx, name)
	if err != nil {
		return nil, err
	}
	m.log.Infow("uploading document", "batch", batchID, "file", name)
	if err := m.upload(ctx, filePath, uploadURL); err != nil {
		return nil, err
	}
	zipURL, err := m.waitForResult(ctx, batchID)
	if err != nil {
		return nil, err
	}
	extractID := uuid.NewString()[:8]
	res, err := m.extract(ctx, zipURL, extractID)
	if err != nil {
		return nil, err
	}
	res.BatchID = batchID
	return res, nil
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (m *MinerU) call(ctx context.Context, op, method, url string, body interface{}, out interface{}) error {
	var raw interface{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = b
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return fmt.Errorf("mineru %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("mineru %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mineru %s: status %d", op, resp.StatusCode)
	}
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("mineru %s: decode: %w", op, err)
	}
	if env.Code != 0 {
		return &APIError{Op: op, Code: env.Code, Msg: env.Msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("mineru %s: decode data: %w", op, err)
	}
	return nil
}

func (m *MinerU) requestUpload(ctx context.Context, name string) (batchID, uploadURL string, err error) {
	body := map[string]interface{}{
		"files":         []map[string]string{{"name": name}},
		"model_version": "vlm",
	}
	var data struct {
		BatchID  string   `json:"batch_id"`
		FileURLs []string `json:"file_urls"`
	}
	if err := m.call(ctx, "upload url", http.MethodPost, m.baseURL+"/api/v4/file-urls/batch", body, &data); err != nil {
		return "", "", err
	}
	if data.BatchID == "" || len(data.FileURLs) == 0 {
		return "", "", fmt.Errorf("mineru upload url: empty response")
	}
	return data.BatchID, data.FileURLs[0], nil
}

func (m *MinerU) upload(ctx context.Context, filePath, uploadURL string) error {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	// presigned URLs reject an unexpected Content-Type, so none is set
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, uploadURL, b)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("mineru upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("mineru upload: status %d", resp.StatusCode)
	}
	return nil
}

type extractResult struct {
	State      string `json:"state"`
	FullZipURL string `json:"full_zip_url"`
	ErrMsg     string `json:"err_msg"`
}

// waitForResult polls until extraction is done and returns the zip URL.
func (m *MinerU) waitForResult(ctx context.Context, batchID string) (string, error) {
	url := fmt.Sprintf("%s/api/v4/extract-results/batch/%s", m.baseURL, batchID)
	deadline := time.Now().Add(m.maxWait)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		var data struct {
			ExtractResult []extractResult `json:"extract_result"`
		}
		err := m.call(ctx, "poll", http.MethodGet, url, nil, &data)
		var apiErr *APIError
		switch {
		case err != nil && errors.As(err, &apiErr):
			return "", err
		case err != nil:
			m.log.Warnw("mineru poll failed, retrying", "batch", batchID, "error", err)
		case len(data.ExtractResult) > 0:
			r := data.ExtractResult[0]
			switch r.State {
			case "done":
				return r.FullZipURL, nil
			case "failed":
				msg := r.ErrMsg
				if msg == "" {
					msg = "unknown error"
				}
				return "", fmt.Errorf("mineru extraction failed: %s", msg)
			}
			m.log.Debugw("mineru extraction pending", "batch", batchID, "state", r.State)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("mineru extraction timed out after %s", m.maxWait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// extract downloads the result archive, unpacks it and loads the first
// markdown file with its image links rewritten to served URLs.
func (m *MinerU) extract(ctx context.Context, zipURL, extractID string) (*Result, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download mineru result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download mineru result: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download mineru result: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("mineru result is not a zip archive: %w", err)
	}

	dir := filepath.Join(m.uploadDir, "mineru_files", extractID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	res, err := unpack(zr, dir, extractID)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			m.log.Warnw("failed to remove partial mineru extraction", "dir", dir, "error", rmErr)
		}
		return nil, err
	}
	m.log.Infow("mineru result extracted", "dir", dir, "files", len(zr.File), "images", len(res.Images))
	return res, nil
}

// unpack writes the archive below dir and collects its markdown and images.
func unpack(zr *zip.Reader, dir, extractID string) (*Result, error) {
	res := &Result{Folder: dir, Images: []Image{}}
	markdownFound := false
	for _, f := range zr.File {
		dest, err := fsutil.JoinSecure(dir, f.Name)
		if err != nil || dest == dir || unsafeEntry(f.Name) {
			return nil, fmt.Errorf("unsafe path in mineru archive %q: %w", f.Name, fsutil.ErrPathTraversal)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := writeZipEntry(f, dest); err != nil {
			return nil, err
		}
		name := filepath.ToSlash(f.Name)
		lower := strings.ToLower(name)
		switch {
		case strings.HasSuffix(lower, ".md") && !markdownFound:
			b, err := os.ReadFile(dest)
			if err != nil {
				return nil, err
			}
			res.Markdown = string(b)
			markdownFound = true
		case isImage(lower):
			res.Images = append(res.Images, Image{
				LocalPath: dest,
				URL:       "/files/mineru/" + extractID + "/" + name,
				FileName:  path.Base(name),
				Page:      PageFromFilename(name),
			})
		}
	}
	if !markdownFound {
		return nil, fmt.Errorf("mineru result has no markdown file")
	}
	res.Markdown = RewriteImageLinks(res.Markdown, extractID)
	return res, nil
}

func writeZipEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// unsafeEntry rejects absolute names and parent references, which
// JoinSecure would otherwise quietly fold back under the root.
func unsafeEntry(name string) bool {
	n := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(n, "/") || filepath.IsAbs(name) {
		return true
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isImage(name string) bool {
	switch path.Ext(name) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

var pagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)page[_-]?(\d+)`),
	regexp.MustCompile(`^(\d+)[_-]`),
	regexp.MustCompile(`(?i)[_-]p(\d+)\.`),
	regexp.MustCompile(`[_-](\d+)\.`),
}

// PageFromFilename guesses the source page of an extracted image from
// names like page_3_x.png, 3_x.png, x_p3.png or images/3/x.png. Zero means
// unknown.
func PageFromFilename(name string) int {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	for _, re := range pagePatterns {
		if m := re.FindStringSubmatch(base); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	for _, part := range strings.Split(name, "/") {
		if n, err := strconv.Atoi(part); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

var mdImageLink = regexp.MustCompile(`!\[(.*?)\]\(([^)]+)\)`)

// RewriteImageLinks points relative image links at the served copy of the
// extracted files.
func RewriteImageLinks(md, extractID string) string {
	return mdImageLink.ReplaceAllStringFunc(md, func(s string) string {
		m := mdImageLink.FindStringSubmatch(s)
		alt, src := m[1], m[2]
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			return s
		}
		rel := strings.TrimLeft(src, "/")
		for _, prefix := range []string{"file/", "files/"} {
			if strings.HasPrefix(rel, prefix) {
				rel = rel[len(prefix):]
				break
			}
		}
		return fmt.Sprintf("![%s](/files/mineru/%s/%s)", alt, extractID, rel)
	})
}
