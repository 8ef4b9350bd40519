package studyplan

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"studyrag/internal/httpx"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Generate handles POST /study-plan/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := h.service.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httpx.WriteError(ctx, w, httpx.CodeValidation, strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": "), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "study plan generation failed", "user_id", req.UserID, "error", err)
		httpx.WriteError(ctx, w, httpx.CodeInternal, "Failed to generate study plan: "+err.Error(), http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, plan)
}

// Preview handles POST /study-plan/preview. It always answers 200.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PreviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteJSON(ctx, w, http.StatusOK, failedPreview(fmt.Errorf("%w: invalid request body", ErrInvalidRequest)))
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, h.service.Preview(ctx, req))
}
