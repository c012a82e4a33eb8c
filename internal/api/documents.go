package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lailoo/vibe-blog/internal/documents"
	"github.com/lailoo/vibe-blog/internal/httpx"
	"github.com/lailoo/vibe-blog/internal/imagegen"
)

func (h *handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize)
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httpx.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		httpx.Error(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer f.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	doc, err := h.Documents.Upload(r.Context(), fh.Filename, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"document": doc})
}

func (h *handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Documents.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (h *handler) getDocument(w http.ResponseWriter, r *http.Request) {
	d, err := h.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"document": d})
}

func (h *handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.Documents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"message": "document deleted"})
}

func (h *handler) knowledge(w http.ResponseWriter, r *http.Request) {
	var req documents.KnowledgeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	k, err := h.Documents.Knowledge(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{
		"items":  k.Items,
		"stats":  k.Stats,
		"prompt": k.Prompt,
	})
}

func (h *handler) generateImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
		Size   string `json:"size"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if h.Images == nil {
		h.fail(w, r, imagegen.ErrNotConfigured)
		return
	}
	img, err := h.Images.Generate(r.Context(), req.Prompt, req.Size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"image": img})
}
