package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studyrag/internal/adapter/llm"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(Request{
		Messages: []Message{
			{Role: "user", Content: "What is ATP?"},
			{Role: "assistant", Content: "An energy carrier."},
		},
		ExistingSummary: "We talked about cells.",
	})

	assert.Contains(t, prompt, "PREVIOUS SUMMARY:\nWe talked about cells.")
	assert.Contains(t, prompt, "Student: What is ATP?\n\nAssistant: An energy carrier.\n\n")
	assert.Less(t, strings.Index(prompt, "PREVIOUS SUMMARY"), strings.Index(prompt, "CONVERSATION TO SUMMARIZE"))
	assert.True(t, strings.HasSuffix(prompt, "Provide the summary (3-4 sentences):"))

	assert.NotContains(t, buildPrompt(Request{Messages: []Message{{Role: "user", Content: "hi"}}}), "PREVIOUS SUMMARY")
}

func TestHandler_Summarize(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
			return strings.Contains(req.Prompt, "Student: hi")
		})).Return("  The student greeted the assistant.\n", nil)

		w := httptest.NewRecorder()
		body := `{"messages":[{"role":"user","content":"hi"}]}`
		NewHandler(NewSummarizer(gen)).Summarize(w, httptest.NewRequest(http.MethodPost, "/utils/summarize-conversation", strings.NewReader(body)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"summary":"The student greeted the assistant."}`, w.Body.String())
	})

	t.Run("No Messages", func(t *testing.T) {
		gen := new(MockGenerator)
		w := httptest.NewRecorder()
		NewHandler(NewSummarizer(gen)).Summarize(w, httptest.NewRequest(http.MethodPost, "/utils/summarize-conversation", strings.NewReader(`{"messages":[]}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Model Failure", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota"))

		w := httptest.NewRecorder()
		NewHandler(NewSummarizer(gen)).Summarize(w, httptest.NewRequest(http.MethodPost, "/utils/summarize-conversation", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`)))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "quota")
	})
}
