// Package imagegen generates illustrations with the DashScope text-to-image
// API and stores them under the output folder.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/logging"
	"github.com/lailoo/vibe-blog/internal/metrics"
)

const (
	DefaultModel = "wanx-v1"
	DefaultSize  = "1024*1024"
)

var (
	ErrNotConfigured = errors.New("image generation not configured")
	ErrEmptyPrompt   = errors.New("prompt is required")
)

// Image is a generated picture saved to disk.
type Image struct {
	TaskID string `json:"task_id"`
	Path   string `json:"-"`
	URL    string `json:"url"`
	Source string `json:"source_url"`
}

type Client struct {
	apiKey    string
	baseURL   string
	model     string
	outputDir string
	http      *retryablehttp.Client
	log       *zap.SugaredLogger

	pollInterval time.Duration
	maxWait      time.Duration
}

// New returns a client that writes images to {outputDir}/images.
func New(apiKey, baseURL, outputDir string, logger *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com"
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 5 * time.Second
	hc.HTTPClient.Timeout = time.Minute
	hc.Logger = logging.Leveled{S: logger}
	return &Client{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        DefaultModel,
		outputDir:    outputDir,
		http:         hc,
		log:          logger,
		pollInterval: 2 * time.Second,
		maxWait:      3 * time.Minute,
	}
}

func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// Generate submits prompt, waits for the task and downloads the first image.
// size accepts "1024*1024" or "1024x1024"; empty means DefaultSize.
func (c *Client) Generate(ctx context.Context, prompt, size string) (*Image, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	img, err := c.generate(ctx, prompt, normalizeSize(size))
	metrics.RecordProviderCall("dashscope", err)
	return img, err
}

func normalizeSize(size string) string {
	size = strings.ReplaceAll(strings.TrimSpace(size), "x", "*")
	if size == "" {
		return DefaultSize
	}
	return size
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Results    []struct {
		URL string `json:"url"`
	} `json:"results"`
}

type taskResponse struct {
	Output  taskOutput `json:"output"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

func (c *Client) generate(ctx context.Context, prompt, size string) (*Image, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":      c.model,
		"input":      map[string]string{"prompt": prompt},
		"parameters": map[string]interface{}{"size": size, "n": 1},
	})
	if err != nil {
		return nil, err
	}
	var submitted taskResponse
	err = c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/services/aigc/text2image/image-synthesis", body, &submitted)
	if err != nil {
		return nil, fmt.Errorf("submit image task: %w", err)
	}
	if submitted.Output.TaskID == "" {
		return nil, fmt.Errorf("submit image task: %s", describe(submitted.Code, submitted.Message, "no task id"))
	}
	taskID := submitted.Output.TaskID
	c.log.Infow("image task submitted", "task", taskID, "size", size)

	src, err := c.wait(ctx, taskID)
	if err != nil {
		return nil, err
	}
	path, err := c.download(ctx, src)
	if err != nil {
		return nil, err
	}
	return &Image{
		TaskID: taskID,
		Path:   path,
		URL:    "/files/outputs/images/" + filepath.Base(path),
		Source: src,
	}, nil
}

// wait polls the task until it finishes and returns the first result URL.
func (c *Client) wait(ctx context.Context, taskID string) (string, error) {
	deadline := time.Now().Add(c.maxWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var status taskResponse
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/tasks/"+taskID, nil, &status); err != nil {
			return "", fmt.Errorf("poll image task: %w", err)
		}
		switch status.Output.TaskStatus {
		case "SUCCEEDED":
			for _, r := range status.Output.Results {
				if r.URL != "" {
					return r.URL, nil
				}
			}
			return "", fmt.Errorf("image task %s succeeded without results", taskID)
		case "FAILED", "CANCELED", "UNKNOWN":
			return "", fmt.Errorf("image task %s: %s", taskID, describe(status.Output.Code, status.Output.Message, strings.ToLower(status.Output.TaskStatus)))
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("image task %s timed out after %s", taskID, c.maxWait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var raw interface{}
	if body != nil {
		raw = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-DashScope-Async", "enable")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e taskResponse
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &e) == nil && (e.Code != "" || e.Message != "") {
			return fmt.Errorf("status %d: %s", resp.StatusCode, describe(e.Code, e.Message, ""))
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) download(ctx context.Context, src string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	dir := filepath.Join(c.outputDir, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("save image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	c.log.Infow("image saved", "path", path)
	return path, nil
}

func describe(code, msg, fallback string) string {
	switch {
	case code != "" && msg != "":
		return code + ": " + msg
	case msg != "":
		return msg
	case code != "":
		return code
	}
	return fallback
}
