package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/libris/librarian/internal/librarian"
)

// maxRequestBody bounds the query request body.
const maxRequestBody = 64 * 1024

type queryHandler struct {
	librarian Asker
	logger    *slog.Logger
}

// query runs one librarian request and streams the answer as SSE.
// Event kinds map one-to-one onto SSE event names.
func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req librarian.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", h.logger)
		return
	}

	events, err := h.librarian.Ask(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, librarian.ErrMissingQuery),
			errors.Is(err, librarian.ErrMissingUserID),
			errors.Is(err, librarian.ErrInvalidMode):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		default:
			writeError(w, http.StatusInternalServerError, "internal", "request failed", h.logger)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported", h.logger)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range events {
		if err := writeEvent(w, flusher, e); err != nil {
			// Client went away; the request context cancels the pipeline.
			h.logger.Debug("event write failed", "error", err)
			return
		}
	}
}

// writeEvent writes one event in SSE format: "event: <kind>\ndata: <json>\n\n".
func writeEvent(w io.Writer, flusher http.Flusher, e librarian.Event) error {
	data, err := json.Marshal(eventData(e))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}

// eventData strips the kind discriminator; SSE carries it in the event name.
func eventData(e librarian.Event) any {
	switch e.Kind {
	case librarian.KindStep:
		return map[string]string{"step": e.Step}
	case librarian.KindToken:
		return map[string]string{"token": e.Token}
	case librarian.KindSources:
		return e.Sources
	case librarian.KindError:
		return map[string]string{"error": e.Error}
	default:
		return map[string]string{}
	}
}
