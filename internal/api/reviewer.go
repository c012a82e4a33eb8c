package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lailoo/vibe-blog/internal/fsutil"
	"github.com/lailoo/vibe-blog/internal/httpx"
	"github.com/lailoo/vibe-blog/internal/report"
	"github.com/lailoo/vibe-blog/internal/review"
	"github.com/lailoo/vibe-blog/internal/store"
)

const defaultMaxChapters = 20

func writeRaw(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON object. With optional set, an empty body leaves
// v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	err := httpx.Decode(r, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && optional:
		return true
	case errors.Is(err, io.EOF):
		httpx.Error(w, http.StatusBadRequest, "request body must be JSON")
	default:
		httpx.Error(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	return false
}

func (h *handler) reviewerHealth(w http.ResponseWriter, _ *http.Request) {
	writeRaw(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"service":     "vibe-reviewer",
		"initialized": h.Review != nil,
	})
}

func (h *handler) createTutorial(w http.ResponseWriter, r *http.Request) {
	var req review.TutorialRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.GitURL) == "" {
		httpx.Error(w, http.StatusBadRequest, "git_url is required")
		return
	}
	t, err := h.Review.CreateTutorial(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"tutorial": t})
}

func (h *handler) listTutorials(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Review.ListTutorials(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"tutorials": ts})
}

func (h *handler) getTutorial(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	t, err := h.Review.GetTutorial(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"tutorial": t})
}

func (h *handler) deleteTutorial(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if h.Tasks != nil && h.Tasks.Running(id) {
		httpx.Error(w, http.StatusConflict, "evaluation in progress")
		return
	}
	if err := h.Review.DeleteTutorial(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"message": "tutorial deleted"})
}

func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req := struct {
		MaxChapters *int `json:"max_chapters"`
	}{}
	if !decodeBody(w, r, &req, true) {
		return
	}
	maxChapters := defaultMaxChapters
	if req.MaxChapters != nil {
		maxChapters = *req.MaxChapters
	}
	if _, err := h.Review.GetTutorial(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	release, err := h.Tasks.Acquire(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer release()
	res, err := h.Review.Evaluate(r.Context(), id, maxChapters, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"result": res})
}

func (h *handler) listChapters(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	chapters, err := h.Review.Chapters(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"chapters": chapters})
}

func (h *handler) getChapter(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	c, err := h.Review.Chapter(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"chapter": c})
}

func (h *handler) listTutorialIssues(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if _, err := h.Review.GetTutorial(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	issues, err := h.Review.Issues(r.Context(), review.IssueFilter{TutorialID: id, Severity: r.URL.Query().Get("severity")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"issues": issues})
}

func (h *handler) listChapterIssues(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	c, err := h.Review.Chapter(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	issues, err := h.Review.Issues(r.Context(), review.IssueFilter{ChapterID: id})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"chapter": c, "issues": issues})
}

func (h *handler) updateIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req := struct {
		IsResolved *bool `json:"is_resolved"`
	}{}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.IsResolved != nil {
		if err := h.Review.MarkIssueResolved(r.Context(), id, *req.IsResolved); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"message": "issue updated"})
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	hist, err := h.Review.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"history": hist})
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	t, err := h.Review.GetTutorial(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	chapters, err := h.Review.Chapters(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	all, err := h.Review.Issues(ctx, review.IssueFilter{TutorialID: id})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	byChapter := map[int64][]store.Issue{}
	for _, i := range all {
		byChapter[i.ChapterID] = append(byChapter[i.ChapterID], i)
	}
	md, err := report.Markdown(t, chapters, byChapter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := fsutil.SafeFilename(t.Name) + "_report.md"
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, md)
}
