// Package conversation compresses older chat turns into a short summary that
// callers send back as conversation_summary on later queries.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"studyrag/internal/adapter/llm"
	"studyrag/internal/httpx"
)

var ErrNoMessages = errors.New("at least one message is required for summarization")

const instructions = `You are helping to summarize a conversation between a student and an AI study assistant.

Your task: Create a concise 3-4 sentence summary capturing:
1. Main topics discussed
2. Key questions asked by the student
3. Important concepts explained
4. Any recurring themes or focus areas

Keep it factual and comprehensive but brief.`

var summaryOptions = llm.GenerationOptions{Temperature: 0.3, MaxOutputTokens: 512}

type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages        []Message `json:"messages"`
	ExistingSummary string    `json:"existing_summary,omitempty"`
}

type Response struct {
	Summary string `json:"summary"`
}

type Summarizer struct {
	llm Generator
}

func NewSummarizer(g Generator) *Summarizer {
	return &Summarizer{llm: g}
}

func (s *Summarizer) Summarize(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", ErrNoMessages
	}
	slog.InfoContext(ctx, "summarizing conversation", "messages", len(req.Messages))

	summary, err := s.llm.Generate(ctx, llm.Request{Prompt: buildPrompt(req), Options: summaryOptions})
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(instructions)

	if req.ExistingSummary != "" {
		fmt.Fprintf(&b, "\n\nPREVIOUS SUMMARY:\n%s\n\n", req.ExistingSummary)
		b.WriteString("Update this summary to include the new conversation below.\n\n")
	}

	b.WriteString("\n\nCONVERSATION TO SUMMARIZE:\n")
	for _, m := range req.Messages {
		role := "Assistant"
		if m.Role == llm.RoleUser {
			role = "Student"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", role, m.Content)
	}
	b.WriteString("\n\nProvide the summary (3-4 sentences):")
	return b.String()
}

type Handler struct {
	summarizer *Summarizer
}

func NewHandler(s *Summarizer) *Handler {
	return &Handler{summarizer: s}
}

// Summarize handles POST /utils/summarize-conversation.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "Invalid request body", http.StatusBadRequest)
		return
	}

	summary, err := h.summarizer.Summarize(ctx, req)
	if errors.Is(err, ErrNoMessages) {
		httpx.WriteError(ctx, w, httpx.CodeValidation, "At least one message is required for summarization", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "conversation summarization failed", "error", err)
		httpx.WriteError(ctx, w, httpx.CodeInternal, "Failed to summarize conversation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, Response{Summary: summary})
}
