// Package httpx holds the JSON envelope shared by every feature handler.
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"studyrag/internal/middleware"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"
	CodeInternal         = "INTERNAL_ERROR"
)

type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func WriteJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func WriteError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	var body ErrorBody
	body.Error.Code = code
	body.Error.Message = message
	body.CorrelationID = middleware.GetCorrelationID(ctx)
	WriteJSON(ctx, w, status, body)
}

func DecodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
