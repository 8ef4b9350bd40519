package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"studyrag/internal/httpx"
)

// multipartOverhead is allowed on top of the file ceiling for form fields
// and boundaries, so oversize files are still rejected with a 413 body.
const multipartOverhead = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Upload handles POST /ingest with multipart fields file, room_id, file_id
// and document_type.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	maxBytes := h.service.MaxBytes()

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeFailure(ctx, w, ErrPayloadTooLarge)
			return
		}
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	roomID := strings.TrimSpace(r.FormValue("room_id"))
	fileID := strings.TrimSpace(r.FormValue("file_id"))
	docType := strings.ToLower(strings.TrimSpace(r.FormValue("document_type")))
	for _, f := range []struct{ name, value string }{
		{"room_id", roomID}, {"file_id", fileID}, {"document_type", docType},
	} {
		if f.value == "" {
			httpx.WriteError(ctx, w, httpx.CodeValidation, fmt.Sprintf("%s is required", f.name), http.StatusBadRequest)
			return
		}
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		slog.ErrorContext(ctx, "failed to read upload", "error", err)
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Failed to read uploaded file", http.StatusBadRequest)
		return
	}

	res, err := h.service.Ingest(ctx, Document{FileID: fileID, RoomID: roomID, DocumentType: docType, Data: data})
	if err != nil {
		slog.ErrorContext(ctx, "ingestion failed", "file_id", fileID, "error", err)
		h.writeFailure(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, res)
}

// FromS3 handles POST /ingest/ingest-from-s3.
func (h *Handler) FromS3(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RemoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.DocumentType = strings.ToLower(strings.TrimSpace(req.DocumentType))

	acc, err := h.service.Accept(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			httpx.WriteError(ctx, w, httpx.CodeValidation, capitalize(strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")), http.StatusBadRequest)
		case errors.Is(err, ErrUnsupportedType):
			httpx.WriteError(ctx, w, httpx.CodeValidation, FailureMessage(err, h.service.MaxBytes()), http.StatusBadRequest)
		default:
			slog.ErrorContext(ctx, "failed to accept ingestion", "file_id", req.FileID, "error", err)
			httpx.WriteError(ctx, w, httpx.CodeInternal, "Failed to schedule document processing", http.StatusInternalServerError)
		}
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusAccepted, acc)
}

// GetStatus handles GET /ingest/ingest-status/{file_id}.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileID := r.PathValue("file_id")

	rec, err := h.service.Status(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		httpx.WriteError(ctx, w, httpx.CodeNotFound, fmt.Sprintf("No ingestion status found for file %s", fileID), http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read ingestion status", "file_id", fileID, "error", err)
		httpx.WriteError(ctx, w, httpx.CodeInternal, "Failed to read ingestion status", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, rec)
}

// DeleteFile handles DELETE /ingest/{file_id}[?room_id=].
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileID := r.PathValue("file_id")
	roomID := r.URL.Query().Get("room_id")

	n, err := h.service.DeleteFile(ctx, fileID, roomID)
	if err != nil {
		slog.ErrorContext(ctx, "delete failed", "file_id", fileID, "error", err)
		httpx.WriteError(ctx, w, httpx.CodeInternal, fmt.Sprintf("Failed to delete document: %v", err), http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{
		"success":         true,
		"file_id":         fileID,
		"vectors_deleted": n,
		"message":         fmt.Sprintf("Deleted %d vectors for file %s", n, fileID),
	})
}

// DeleteRoom handles DELETE /ingest/room/{room_id}.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := r.PathValue("room_id")

	n, err := h.service.DeleteRoom(ctx, roomID)
	if err != nil {
		slog.ErrorContext(ctx, "delete room failed", "room_id", roomID, "error", err)
		httpx.WriteError(ctx, w, httpx.CodeInternal, fmt.Sprintf("Failed to delete room documents: %v", err), http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{
		"success":         true,
		"room_id":         roomID,
		"vectors_deleted": n,
		"message":         fmt.Sprintf("Deleted %d vectors for room %s", n, roomID),
	})
}

func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	msg := FailureMessage(err, h.service.MaxBytes())
	switch {
	case errors.Is(err, ErrUnsupportedType):
		httpx.WriteError(ctx, w, httpx.CodeUnsupportedMedia, msg, http.StatusUnsupportedMediaType)
	case errors.Is(err, ErrPayloadTooLarge):
		httpx.WriteError(ctx, w, httpx.CodePayloadTooLarge, msg, http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrNoText), errors.Is(err, ErrNoChunks), errors.Is(err, ErrExtractFailed):
		httpx.WriteError(ctx, w, httpx.CodeValidation, msg, http.StatusBadRequest)
	default:
		httpx.WriteError(ctx, w, httpx.CodeInternal, "Document processing failed: "+err.Error(), http.StatusInternalServerError)
	}
}
