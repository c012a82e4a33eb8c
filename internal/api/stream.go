package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lailoo/vibe-blog/internal/httpx"
	"github.com/lailoo/vibe-blog/internal/review"
)

const maxStreamChapters = 1000

// evaluateStream runs an evaluation in the task registry and relays its
// progress as server-sent events. The evaluation keeps going if the client
// goes away.
func (h *handler) evaluateStream(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	maxChapters := httpx.QueryInt(r, "max_chapters", defaultMaxChapters)
	if maxChapters <= 0 {
		maxChapters = maxStreamChapters
	}
	if _, err := h.Review.GetTutorial(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	task, err := h.Tasks.Start(id, func(ctx context.Context, emit func(review.Event)) (*review.Result, error) {
		return h.Review.Evaluate(ctx, id, maxChapters, emit)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer task.Detach()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "connected", map[string]interface{}{"task_id": task.ID, "tutorial_id": id}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.Logger.Infow("stream client disconnected", "task", task.ID)
			return
		case <-heartbeat.C:
			if err := writeEvent(w, "heartbeat", map[string]interface{}{"timestamp": time.Now().Unix()}); err != nil {
				return
			}
			flusher.Flush()
		case e, open := <-task.Events():
			if !open {
				return
			}
			if err := writeEvent(w, e.Type, e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
