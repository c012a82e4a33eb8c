package files

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	outputs, uploads string
	srv              *Server
}

func newFixture(t *testing.T, maxUpload int64) *fixture {
	t.Helper()
	f := &fixture{outputs: t.TempDir(), uploads: t.TempDir()}
	require.NoError(t, os.MkdirAll(filepath.Join(f.outputs, "images"), 0o755))
	for _, name := range []string{"b.md", "a.md", "c.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.outputs, name), []byte("# "+name), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.outputs, "images", "x.png"), []byte("0123456789"), 0o644))
	f.srv = NewServer([]Root{
		{Name: "outputs", Dir: f.outputs, ReadOnly: true},
		{Name: "uploads", Dir: f.uploads},
	}, maxUpload, zap.NewNop().Sugar())
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestTreePaging(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/outputs/tree?limit=2&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-Total-Count"))

	var body struct {
		Success bool        `json:"success"`
		Entries []TreeEntry `json:"entries"`
		Total   int         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "b.md", body.Entries[0].Name)
	assert.Equal(t, "/b.md", body.Entries[0].Path)
	assert.Equal(t, "c.md", body.Entries[1].Name)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/outputs/tree?path=images", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "/images/x.png", body.Entries[0].Path)

	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/outputs/tree?path=a.md", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/outputs/tree?path=nope", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/secrets/tree", nil)).Code)
}

func TestGetFileWithETagAndRange(t *testing.T) {
	f := newFixture(t, 0)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/outputs/file?path=images/x.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0123456789", rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/outputs/file?path=images/x.png", nil)
	req.Header.Set("If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/outputs/file?path=images/x.png", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = f.do(req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 2-4/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "234", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/outputs/file?path=images/x.png", nil)
	req.Header.Set("Range", "bytes=20-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, f.do(req).Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/outputs/file?path=../../etc/passwd", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatic(t *testing.T) {
	f := newFixture(t, 0)
	r := chi.NewRouter()
	r.Get("/files/outputs/*", Static(f.outputs))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/outputs/a.md", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "# a.md", rec.Body.String())
}

func TestActiveContentIsDownloaded(t *testing.T) {
	f := newFixture(t, 1<<20)
	body, ct := multipartBody(t, map[string]string{"evil.html": "<script>alert(1)</script>", "logo.svg": "<svg onload=alert(1)/>"})
	req := httptest.NewRequest(http.MethodPost, "/uploads/upload", body)
	req.Header.Set("Content-Type", ct)
	require.Equal(t, http.StatusCreated, f.do(req).Code)

	r := chi.NewRouter()
	r.Get("/files/uploads/*", Static(f.uploads))
	for _, name := range []string{"evil.html", "logo.svg"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/uploads/"+name, nil))
		assert.Equal(t, http.StatusOK, rec.Code, name)
		assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"), name)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"), name)
		assert.Equal(t, `attachment; filename="`+name+`"`, rec.Header().Get("Content-Disposition"), name)
	}

	plain := httptest.NewRecorder()
	ServeFile(plain, httptest.NewRequest(http.MethodGet, "/", nil), f.outputs, "a.md")
	assert.Equal(t, "nosniff", plain.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, plain.Header().Get("Content-Disposition"))
}

func TestUploadDoesNotFollowSymlinks(t *testing.T) {
	f := newFixture(t, 1<<20)
	outside := filepath.Join(t.TempDir(), "target.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(f.uploads, "link.txt")))

	body, ct := multipartBody(t, map[string]string{"link.txt": "overwritten"})
	req := httptest.NewRequest(http.MethodPost, "/uploads/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)

	b, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(b))
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		w, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndDelete(t *testing.T) {
	f := newFixture(t, 1<<20)

	body, ct := multipartBody(t, map[string]string{`..\evil:name.txt`: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/uploads/upload?path=docs", body)
	req.Header.Set("Content-Type", ct)
	rec := f.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Files []uploaded `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "evil_name.txt", resp.Files[0].Name)
	assert.Equal(t, "/docs/evil_name.txt", resp.Files[0].Path)
	assert.Equal(t, int64(5), resp.Files[0].Size)
	assert.FileExists(t, filepath.Join(f.uploads, "docs", "evil_name.txt"))

	rec = f.do(httptest.NewRequest(http.MethodDelete, "/uploads/file?path=docs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoDirExists(t, filepath.Join(f.uploads, "docs"))

	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodDelete, "/uploads/file?path=docs", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodDelete, "/uploads/file?path=/", nil)).Code)
}

func TestOutputsAreReadOnly(t *testing.T) {
	f := newFixture(t, 0)

	assert.Equal(t, http.StatusForbidden, f.do(httptest.NewRequest(http.MethodDelete, "/outputs/file?path=a.md", nil)).Code)
	assert.FileExists(t, filepath.Join(f.outputs, "a.md"))

	body, ct := multipartBody(t, map[string]string{"a.txt": "x"})
	req := httptest.NewRequest(http.MethodPost, "/outputs/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)
}

func TestUploadSizeCap(t *testing.T) {
	f := newFixture(t, 64)

	body, ct := multipartBody(t, map[string]string{"big.txt": string(bytes.Repeat([]byte("x"), 1024))})
	req := httptest.NewRequest(http.MethodPost, "/uploads/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(req).Code)
}

func TestParseRange(t *testing.T) {
	cases := []struct {
		h          string
		start, end int64
		ok         bool
	}{
		{"bytes=0-", 0, 10, true},
		{"bytes=-3", 7, 10, true},
		{"bytes=-30", 0, 10, true},
		{"bytes=5-100", 5, 10, true},
		{"bytes=5-4", 0, 0, false},
		{"bytes=0-1,4-5", 0, 0, false},
		{"items=0-1", 0, 0, false},
	}
	for _, c := range cases {
		start, end, ok := parseRange(c.h, 10)
		assert.Equal(t, c.ok, ok, c.h)
		if c.ok {
			assert.Equal(t, c.start, start, c.h)
			assert.Equal(t, c.end, end, c.h)
		}
	}
}
