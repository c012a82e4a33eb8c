// Package files exposes the output and upload folders over HTTP.
package files

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/fsutil"
	"github.com/lailoo/vibe-blog/internal/httpx"
)

// Root is a directory exposed under a short name.
type Root struct {
	Name     string
	Dir      string
	ReadOnly bool
}

type Server struct {
	Router    *chi.Mux
	roots     map[string]Root
	maxUpload int64
	log       *zap.SugaredLogger
}

// NewServer builds the file API. maxUpload caps a whole multipart request
// in bytes.
func NewServer(roots []Root, maxUpload int64, logger *zap.SugaredLogger) *Server {
	s := &Server{Router: chi.NewRouter(), roots: map[string]Root{}, maxUpload: maxUpload, log: logger}
	for _, r := range roots {
		s.roots[r.Name] = r
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Route("/{root}", func(r chi.Router) {
		r.Get("/tree", s.handleTree)
		r.Get("/file", s.handleGetFile)
		r.Delete("/file", s.handleDelete)
		r.Post("/upload", s.handleUpload)
	})
}

type TreeEntry struct {
	Name  string    `json:"name"`
	Path  string    `json:"path"`
	IsDir bool      `json:"is_dir"`
	Size  int64     `json:"size"`
	Mod   time.Time `json:"mod"`
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) (Root, bool) {
	root, ok := s.roots[chi.URLParam(r, "root")]
	if !ok {
		httpx.Error(w, http.StatusNotFound, "unknown root")
	}
	return root, ok
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	root, ok := s.root(w, r)
	if !ok {
		return
	}
	p := r.URL.Query().Get("path")
	limit := httpx.QueryInt(r, "limit", 200)
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	offset := httpx.QueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	full, err := fsutil.JoinSecure(root.Dir, p)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "bad path")
		return
	}
	fi, err := os.Stat(full)
	if err != nil {
		httpx.Error(w, http.StatusNotFound, "not found")
		return
	}
	if !fi.IsDir() {
		httpx.Error(w, http.StatusBadRequest, "not a directory")
		return
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		s.log.Warnw("read dir failed", "root", root.Name, "path", p, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "read dir error")
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if offset > len(entries) {
		offset = len(entries)
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	out := make([]TreeEntry, 0, end-offset)
	for _, e := range entries[offset:end] {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, TreeEntry{
			Name:  e.Name(),
			Path:  path.Join("/", filepath.ToSlash(p), e.Name()),
			IsDir: e.IsDir(),
			Size:  info.Size(),
			Mod:   info.ModTime(),
		})
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(entries)))
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"entries": out, "total": len(entries)})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	root, ok := s.root(w, r)
	if !ok {
		return
	}
	ServeFile(w, r, root.Dir, r.URL.Query().Get("path"))
}

// Static serves GET {prefix}/* from dir, taking the path from chi's
// wildcard.
func Static(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ServeFile(w, r, dir, chi.URLParam(r, "*"))
	}
}

// ServeFile writes the file rel below dir with an ETag and single-range
// support.
func ServeFile(w http.ResponseWriter, r *http.Request, dir, rel string) {
	full, err := fsutil.JoinSecure(dir, rel)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "bad path")
		return
	}
	f, err := os.Open(full)
	if err != nil {
		httpx.Error(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "stat error")
		return
	}
	if fi.IsDir() {
		httpx.Error(w, http.StatusBadRequest, "is a directory")
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	etag := fmt.Sprintf("\"%x-%x\"", fi.ModTime().UnixNano(), fi.Size())
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", mimeByName(full))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if activeContent(full) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fsutil.SafeFilename(fi.Name())))
	}

	if rng := r.Header.Get("Range"); rng != "" {
		start, end, ok := parseRange(rng, fi.Size())
		if !ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fi.Size()))
			httpx.Error(w, http.StatusRequestedRangeNotSatisfiable, "invalid range")
			return
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "seek")
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, fi.Size()))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start, 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.CopyN(w, f, end-start)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	root, ok := s.root(w, r)
	if !ok {
		return
	}
	if root.ReadOnly {
		httpx.Error(w, http.StatusForbidden, "read-only")
		return
	}
	p := r.URL.Query().Get("path")
	full, err := fsutil.JoinSecure(root.Dir, p)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "bad path")
		return
	}
	if base, _ := filepath.Abs(root.Dir); full == base {
		httpx.Error(w, http.StatusBadRequest, "cannot delete root")
		return
	}
	if _, err := os.Lstat(full); err != nil {
		httpx.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err := os.RemoveAll(full); err != nil {
		s.log.Errorw("delete failed", "root", root.Name, "path", p, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.log.Infow("file deleted", "root", root.Name, "path", p)
	w.WriteHeader(http.StatusNoContent)
}

type uploaded struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	root, ok := s.root(w, r)
	if !ok {
		return
	}
	if root.ReadOnly {
		httpx.Error(w, http.StatusForbidden, "read-only")
		return
	}
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httpx.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		httpx.Error(w, http.StatusBadRequest, "bad form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	dir := r.URL.Query().Get("path")
	fullDir, err := fsutil.JoinSecure(root.Dir, dir)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "bad path")
		return
	}
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "mkdir")
		return
	}
	fhs := r.MultipartForm.File["file"]
	if len(fhs) == 0 {
		httpx.Error(w, http.StatusBadRequest, "no file")
		return
	}
	out := make([]uploaded, 0, len(fhs))
	for _, fh := range fhs {
		name := fsutil.SafeFilename(fh.Filename)
		dst, err := fsutil.JoinSecure(fullDir, name)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "bad file name")
			return
		}
		n, err := saveUpload(fh, dst)
		if err != nil {
			s.log.Errorw("upload failed", "root", root.Name, "file", name, "error", err)
			httpx.Error(w, http.StatusInternalServerError, "write failed")
			return
		}
		out = append(out, uploaded{Name: name, Path: path.Join("/", filepath.ToSlash(dir), name), Size: n})
	}
	s.log.Infow("files uploaded", "root", root.Name, "path", dir, "count", len(out))
	httpx.JSON(w, http.StatusCreated, map[string]interface{}{"files": out})
}

func saveUpload(fh *multipart.FileHeader, dst string) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		return n, err
	}
	return n, f.Close()
}

func parseRange(h string, size int64) (start, end int64, ok bool) {
	rng, found := strings.CutPrefix(h, "bytes=")
	if !found || strings.Contains(rng, ",") {
		return 0, 0, false
	}
	a, b, found := strings.Cut(rng, "-")
	if !found || (a == "" && b == "") {
		return 0, 0, false
	}
	if a == "" {
		n, err := strconv.ParseInt(b, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size, true
	}
	s, err := strconv.ParseInt(a, 10, 64)
	if err != nil || s < 0 || s >= size {
		return 0, 0, false
	}
	if b == "" {
		return s, size, true
	}
	e, err := strconv.ParseInt(b, 10, 64)
	if err != nil || e < s {
		return 0, 0, false
	}
	if e >= size {
		e = size - 1
	}
	return s, e + 1, true
}

// activeContent reports files a browser would run scripts from if shown
// inline; they are only ever downloaded.
func activeContent(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml", ".svg", ".xml", ".js", ".mjs":
		return true
	}
	return false
}

func mimeByName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/x-yaml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
