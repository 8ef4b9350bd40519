package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"studyrag/internal/httpx"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Query handles POST /query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Answer(ctx, req)
	if err != nil {
		if errors.Is(err, ErrNoRoomsSpecified) || errors.Is(err, ErrInvalidRequest) {
			httpx.WriteError(ctx, w, httpx.CodeValidation, ErrorMessage(err), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "query failed", "error", err)
		httpx.WriteError(ctx, w, httpx.CodeInternal, ErrorMessage(err), http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, resp)
}

// Stream handles POST /query/stream as server-sent events. A successful
// stream is status(searching), status(generating), sources, zero or more
// chunk events and a final complete. Failures end the stream with a single
// error event in place of complete: a rejected request gets only that error,
// a retrieval failure follows status(searching), and a model failure may
// follow chunks already sent. An undecodable body is a plain 400 JSON error,
// not a stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.CodeInternal, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Invalid request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.service.Stream(ctx, req)
	for e := range events {
		if err := writeEvent(w, e); err != nil {
			slog.WarnContext(ctx, "sse write failed", "event", e.Type, "error", err)
			break
		}
		flusher.Flush()
	}
	// Drain so the producer can observe cancellation and exit.
	for range events {
	}
}

func writeEvent(w http.ResponseWriter, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
