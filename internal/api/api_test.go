package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/documents"
	"github.com/lailoo/vibe-blog/internal/files"
	"github.com/lailoo/vibe-blog/internal/imagegen"
	"github.com/lailoo/vibe-blog/internal/llm"
	"github.com/lailoo/vibe-blog/internal/parser"
	"github.com/lailoo/vibe-blog/internal/review"
	"github.com/lailoo/vibe-blog/internal/store"
	"github.com/lailoo/vibe-blog/internal/tasks"
)

// downModel fails every call, so every agent falls back to its default.
type downModel struct{}

func (downModel) Chat(context.Context, []llm.Message) (string, error) {
	return "", errors.New("model unavailable")
}
func (downModel) ChatWithImage(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("model unavailable")
}
func (downModel) Model() string { return "down" }

type localRepos struct{ dir string }

func (l localRepos) Sync(context.Context, string, string) (string, bool, error) {
	return l.dir, false, nil
}
func (localRepos) Remove(string) error { return nil }

type fakeImages struct{ prompts []string }

func (f *fakeImages) Generate(_ context.Context, prompt, size string) (*imagegen.Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, imagegen.ErrEmptyPrompt
	}
	f.prompts = append(f.prompts, prompt)
	return &imagegen.Image{TaskID: "t-1", URL: "/files/outputs/images/x.png"}, nil
}

type env struct {
	router  http.Handler
	tasks   *tasks.Registry
	outputs string
}

func newEnv(t *testing.T, tweak func(*Deps)) *env {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "file:api_"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "01-intro.md"), []byte("# Intro\n\nGo channels pass values.\n"), 0o644))
	outputs, uploads := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outputs, "post.md"), []byte("# Post"), 0o644))

	log := zap.NewNop().Sugar()
	reg := tasks.NewRegistry(log, time.Minute)
	t.Cleanup(reg.Close)

	d := Deps{
		Review: review.NewService(review.Options{
			Store:  st,
			Repos:  localRepos{dir: repo},
			Agents: review.NewAgents(downModel{}, log),
			Logger: log,
		}),
		Tasks: reg,
		Documents: documents.NewService(documents.Options{
			Store:     st,
			Parser:    parser.New(nil, log),
			UploadDir: uploads,
			Logger:    log,
		}),
		Images: &fakeImages{},
		Files: files.NewServer([]files.Root{
			{Name: "outputs", Dir: outputs, ReadOnly: true},
			{Name: "uploads", Dir: uploads},
		}, 1<<20, log),
		OutputDir:     outputs,
		UploadDir:     uploads,
		MaxUploadSize: 1 << 20,
		Heartbeat:     5 * time.Millisecond,
		Logger:        log,
	}
	if tweak != nil {
		tweak(&d)
	}
	return &env{router: NewRouter(d), tasks: reg, outputs: outputs}
}

func (e *env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *env) createTutorial(t *testing.T) int64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/reviewer/tutorials", `{"git_url":"https://github.com/acme/go-book.git"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tu := decode(t, rec)["tutorial"].(map[string]interface{})
	return int64(tu["id"].(float64))
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"vibe-blog"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/reviewer/health", "")
	assert.JSONEq(t, `{"status":"ok","service":"vibe-reviewer","initialized":true}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vibe_http_requests_total")
}

func TestTutorialLifecycle(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/reviewer/tutorials", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = e.do(t, http.MethodPost, "/api/reviewer/tutorials", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "git_url is required", decode(t, rec)["error"])

	rec = e.do(t, http.MethodPost, "/api/reviewer/tutorials", `{"git_url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/reviewer/tutorials", `{"git_url":"https://github.com/acme/x.git","branch":"--upload-pack=id"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := e.createTutorial(t)

	rec = e.do(t, http.MethodGet, "/api/reviewer/tutorials", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["tutorials"], 1)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/reviewer/tutorials/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/reviewer/tutorials/999", "").Code)

	path := "/api/reviewer/tutorials/" + itoa(id)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, "").Code)
}

func TestEvaluateAndExport(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createTutorial(t)
	base := "/api/reviewer/tutorials/" + itoa(id)

	release, err := e.tasks.Acquire(id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, base+"/evaluate", "").Code)
	release()

	rec := e.do(t, http.MethodPost, base+"/evaluate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)["result"].(map[string]interface{})
	assert.Equal(t, float64(1), res["evaluated"])
	assert.Equal(t, float64(70), res["overall_score"])
	assert.Equal(t, "C", res["grade"])

	rec = e.do(t, http.MethodGet, base+"/chapters", "")
	chapters := decode(t, rec)["chapters"].([]interface{})
	require.Len(t, chapters, 1)
	chapterID := int64(chapters[0].(map[string]interface{})["id"].(float64))

	rec = e.do(t, http.MethodGet, "/api/reviewer/chapters/"+itoa(chapterID)+"/issues", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotNil(t, body["chapter"])
	assert.Empty(t, body["issues"])

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/reviewer/chapters/999", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, base+"/issues?severity=high", "").Code)

	rec = e.do(t, http.MethodGet, base+"/history", "")
	assert.Len(t, decode(t, rec)["history"], 1)

	rec = e.do(t, http.MethodGet, base+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="go-book_report.md"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# 📊 Tutorial review report: go-book"))
}

func TestUpdateIssue(t *testing.T) {
	e := newEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPatch, "/api/reviewer/issues/1", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPatch, "/api/reviewer/issues/1", `{"is_resolved":true}`).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPatch, "/api/reviewer/issues/1", `{}`).Code)
}

// sseEvents returns the event names of a recorded stream in order.
func sseEvents(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok && name != "heartbeat" {
			names = append(names, name)
		}
	}
	return names
}

func TestEvaluateStream(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createTutorial(t)

	rec := e.do(t, http.MethodGet, "/api/reviewer/tutorials/"+itoa(id)+"/evaluate-stream?max_chapters=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	names := sseEvents(rec.Body.String())
	require.NotEmpty(t, names)
	assert.Equal(t, "connected", names[0])
	assert.Equal(t, review.EventStart, names[1])
	assert.Contains(t, names, review.EventChapterDone)
	assert.Equal(t, review.EventComplete, names[len(names)-1])
	assert.Contains(t, rec.Body.String(), `data: {"task_id":"eval_`+itoa(id)+`_`)
}

func TestEvaluateStreamRejects(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createTutorial(t)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/reviewer/tutorials/999/evaluate-stream", "").Code)

	release, err := e.tasks.Acquire(id)
	require.NoError(t, err)
	defer release()
	rec := e.do(t, http.MethodGet, "/api/reviewer/tutorials/"+itoa(id)+"/evaluate-stream", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodDelete, "/api/reviewer/tutorials/"+itoa(id), "").Code)
}

func upload(t *testing.T, e *env, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, _ = w.Write([]byte(content))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestDocumentsAndKnowledge(t *testing.T) {
	e := newEnv(t, nil)

	rec := upload(t, e, "notes.md", "# Channels\n\nbody")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode(t, rec)["document"].(map[string]interface{})
	id := doc["id"].(string)
	assert.Equal(t, store.StatusCompleted, doc["status"])

	assert.Equal(t, http.StatusBadRequest, upload(t, e, "tool.exe", "MZ").Code)
	assert.Equal(t, http.StatusServiceUnavailable, upload(t, e, "deck.pdf", "%PDF").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/documents", "").Code)

	rec = e.do(t, http.MethodGet, "/api/documents", "")
	assert.Len(t, decode(t, rec)["documents"], 2)

	rec = e.do(t, http.MethodGet, "/api/documents/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["document"].(map[string]interface{})["chunks"], 1)

	rec = e.do(t, http.MethodPost, "/api/knowledge", `{"document_ids":["`+id+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["items"], 1)
	assert.Equal(t, float64(1), body["stats"].(map[string]interface{})["doc_items"])
	assert.Contains(t, body["prompt"].(map[string]interface{})["background_knowledge"], "### Channels")

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/documents/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/documents/"+id, "").Code)
}

func TestUploadTooLarge(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.MaxUploadSize = 16 })
	assert.Equal(t, http.StatusRequestEntityTooLarge, upload(t, e, "notes.md", strings.Repeat("x", 512)).Code)
}

func TestGenerateImage(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/api/images/generate", `{"prompt":"a gopher"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/files/outputs/images/x.png", decode(t, rec)["image"].(map[string]interface{})["url"])

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/images/generate", `{"prompt":" "}`).Code)

	e = newEnv(t, func(d *Deps) { d.Images = nil })
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodPost, "/api/images/generate", `{"prompt":"a gopher"}`).Code)
}

func TestFiles(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/files/outputs/post.md", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Post", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/files/outputs/tree", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodDelete, "/api/files/outputs/file?path=post.md", "").Code)
}

func TestBearerToken(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.APIToken = "s3cret" })

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/reviewer/tutorials", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/reviewer/tutorials", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.RateLimitRPS = 1 })

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/reviewer/tutorials/999/evaluate", "").Code)
	rec := e.do(t, http.MethodPost, "/api/reviewer/tutorials/999/evaluate", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, rec.Body.String())

	// reads are not limited
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/reviewer/tutorials", "").Code)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
