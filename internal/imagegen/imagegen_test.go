package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, final string) (*Client, *int32) {
	t.Helper()
	var polls int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/services/aigc/text2image/image-synthesis":
			assert.Equal(t, "enable", r.Header.Get("X-DashScope-Async"))
			var body struct {
				Model      string            `json:"model"`
				Input      map[string]string `json:"input"`
				Parameters struct {
					Size string `json:"size"`
					N    int    `json:"n"`
				} `json:"parameters"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a gopher reading", body.Input["prompt"])
			assert.Equal(t, "1280*720", body.Parameters.Size)
			_, _ = w.Write([]byte(`{"output":{"task_id":"t-1","task_status":"PENDING"}}`))
		case "/api/v1/tasks/t-1":
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = w.Write([]byte(`{"output":{"task_id":"t-1","task_status":"RUNNING"}}`))
				return
			}
			if final == "FAILED" {
				_, _ = w.Write([]byte(`{"output":{"task_id":"t-1","task_status":"FAILED","code":"DataInspectionFailed","message":"unsafe prompt"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"output":{"task_id":"t-1","task_status":"SUCCEEDED","results":[{"url":"` + srv.URL + `/img.png"}]}}`))
		case "/img.png":
			_, _ = w.Write([]byte("PNGDATA"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c := New("key", srv.URL, t.TempDir(), zap.NewNop().Sugar())
	c.pollInterval = time.Millisecond
	return c, &polls
}

func TestGenerate(t *testing.T) {
	c, polls := newTestClient(t, "SUCCEEDED")

	img, err := c.Generate(context.Background(), "a gopher reading", "1280x720")
	require.NoError(t, err)
	assert.Equal(t, "t-1", img.TaskID)
	assert.Equal(t, int32(2), atomic.LoadInt32(polls))
	assert.Equal(t, filepath.Join(c.outputDir, "images"), filepath.Dir(img.Path))
	assert.Equal(t, "/files/outputs/images/"+filepath.Base(img.Path), img.URL)

	data, err := os.ReadFile(img.Path)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
}

func TestGenerateFailedTask(t *testing.T) {
	c, _ := newTestClient(t, "FAILED")

	_, err := c.Generate(context.Background(), "a gopher reading", "1280*720")
	assert.ErrorContains(t, err, "DataInspectionFailed: unsafe prompt")
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"task_id":"t-2","task_status":"RUNNING"}}`))
	}))
	defer srv.Close()
	c := New("key", srv.URL, t.TempDir(), zap.NewNop().Sugar())
	c.pollInterval, c.maxWait = time.Millisecond, 5*time.Millisecond

	_, err := c.Generate(context.Background(), "x", "")
	assert.ErrorContains(t, err, "timed out")
}

func TestGenerateRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"InvalidApiKey","message":"Invalid API-key provided."}`))
	}))
	defer srv.Close()
	c := New("key", srv.URL, t.TempDir(), zap.NewNop().Sugar())

	_, err := c.Generate(context.Background(), "x", "")
	assert.ErrorContains(t, err, "status 401: InvalidApiKey: Invalid API-key provided.")
}

func TestGenerateNeedsKeyAndPrompt(t *testing.T) {
	_, err := New("", "", "", zap.NewNop().Sugar()).Generate(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New("key", "", "", zap.NewNop().Sugar()).Generate(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestNormalizeSize(t *testing.T) {
	assert.Equal(t, DefaultSize, normalizeSize(""))
	assert.Equal(t, "720*1280", normalizeSize(" 720x1280 "))
}
