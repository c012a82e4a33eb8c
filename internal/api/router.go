// Package api wires the HTTP surface of the backend.
package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/auth"
	"github.com/lailoo/vibe-blog/internal/documents"
	"github.com/lailoo/vibe-blog/internal/files"
	"github.com/lailoo/vibe-blog/internal/httpx"
	"github.com/lailoo/vibe-blog/internal/imagegen"
	"github.com/lailoo/vibe-blog/internal/metrics"
	"github.com/lailoo/vibe-blog/internal/parser"
	"github.com/lailoo/vibe-blog/internal/review"
	"github.com/lailoo/vibe-blog/internal/tasks"
)

const (
	requestTimeout   = 60 * time.Second
	defaultHeartbeat = 10 * time.Second
	ServiceName      = "vibe-blog"
)

// ImageGenerator creates an illustration from a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, size string) (*imagegen.Image, error)
}

type Deps struct {
	Review    *review.Service
	Tasks     *tasks.Registry
	Documents *documents.Service
	Images    ImageGenerator
	Files     *files.Server

	OutputDir     string
	UploadDir     string
	APIToken      string
	RateLimitRPS  float64
	MaxUploadSize int64
	// Heartbeat is the SSE keep-alive interval; zero means 10s.
	Heartbeat time.Duration
	Logger    *zap.SugaredLogger
}

type handler struct {
	Deps
}

// NewRouter builds the full route tree.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = defaultHeartbeat
	}
	h := &handler{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeRaw(w, http.StatusOK, map[string]interface{}{"status": "ok", "service": ServiceName})
	})
	r.Handle("/metrics", metrics.Handler())

	limit := h.rateLimit()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.APIToken))

		r.Route("/api/reviewer", func(r chi.Router) {
			r.Get("/health", h.reviewerHealth)
			// evaluations outlive the request timeout
			r.With(limit).Post("/tutorials/{id}/evaluate", h.evaluate)
			r.With(limit).Get("/tutorials/{id}/evaluate-stream", h.evaluateStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))
				r.Post("/tutorials", h.createTutorial)
				r.Get("/tutorials", h.listTutorials)
				r.Get("/tutorials/{id}", h.getTutorial)
				r.Delete("/tutorials/{id}", h.deleteTutorial)
				r.Get("/tutorials/{id}/chapters", h.listChapters)
				r.Get("/tutorials/{id}/issues", h.listTutorialIssues)
				r.Get("/tutorials/{id}/history", h.history)
				r.Get("/tutorials/{id}/export", h.export)
				r.Get("/chapters/{id}", h.getChapter)
				r.Get("/chapters/{id}/issues", h.listChapterIssues)
				r.Patch("/issues/{id}", h.updateIssue)
			})
		})

		r.Route("/api", func(r chi.Router) {
			// conversion and generation poll remote jobs for minutes
			r.With(limit).Post("/documents", h.uploadDocument)
			r.With(limit).Post("/images/generate", h.generateImage)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))
				r.Get("/documents", h.listDocuments)
				r.Get("/documents/{id}", h.getDocument)
				r.Delete("/documents/{id}", h.deleteDocument)
				r.Post("/knowledge", h.knowledge)
				if d.Files != nil {
					r.Mount("/files", d.Files.Router)
				}
			})
		})

		r.Get("/files/outputs/*", files.Static(d.OutputDir))
		r.Get("/files/uploads/*", files.Static(d.UploadDir))
		r.Get("/files/mineru/*", files.Static(filepath.Join(d.UploadDir, "mineru_files")))
	})
	return r
}

func (h *handler) rateLimit() func(http.Handler) http.Handler {
	if h.RateLimitRPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	lmt := tollbooth.NewLimiter(h.RateLimitRPS, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	burst := int(h.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}
	lmt.SetBurst(burst)
	lmt.SetIPLookups([]string{"RemoteAddr"})
	lmt.SetMessageContentType("application/json; charset=utf-8")
	lmt.SetMessage(`{"success":false,"error":"rate limit exceeded"}`)
	return func(next http.Handler) http.Handler { return tollbooth.LimitHandler(lmt, next) }
}

// fail maps service errors onto status codes.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, review.ErrTutorialNotFound),
		errors.Is(err, review.ErrChapterNotFound),
		errors.Is(err, review.ErrIssueNotFound),
		errors.Is(err, documents.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, review.ErrInvalidGitURL),
		errors.Is(err, review.ErrInvalidBranch),
		errors.Is(err, parser.ErrUnsupported),
		errors.Is(err, imagegen.ErrEmptyPrompt):
		status = http.StatusBadRequest
	case errors.Is(err, tasks.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, parser.ErrNotConfigured),
		errors.Is(err, imagegen.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.Logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	httpx.Error(w, status, err.Error())
}
