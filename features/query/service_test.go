package query

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studyrag/internal/retrieval"
	"studyrag/internal/vector"
)

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, q retrieval.Query) ([]vector.SearchResult, error) {
	args := m.Called(ctx, q)
	if v := args.Get(0); v != nil {
		return v.([]vector.SearchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func validRequest() Request {
	return Request{Query: "What makes ATP?", UserID: "U1", RoomIDs: []string{"R1"}, TopK: 2}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantErr error
	}{
		{"Valid", func(r *Request) {}, nil},
		{"Default TopK", func(r *Request) { r.TopK = 0 }, nil},
		{"No Rooms", func(r *Request) { r.RoomIDs = nil }, ErrNoRoomsSpecified},
		{"Blank Room", func(r *Request) { r.RoomIDs = []string{" "} }, ErrNoRoomsSpecified},
		{"No Rooms Wins Over Empty Query", func(r *Request) { r.RoomIDs = nil; r.Query = "" }, ErrNoRoomsSpecified},
		{"Empty Query", func(r *Request) { r.Query = "  " }, ErrInvalidRequest},
		{"Long Query", func(r *Request) { r.Query = strings.Repeat("x", 2001) }, ErrInvalidRequest},
		{"TopK Too Large", func(r *Request) { r.TopK = 21 }, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Answer(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, retrieval.Query{Text: "What makes ATP?", RoomIDs: []string{"R1"}, TopK: 2}).
			Return(sources(), nil)
		model := &fakeLLM{fragments: []string{"Mitochondria [Source 1]."}}

		resp, err := NewService(ret, NewSynthesizer(model)).Answer(ctx, validRequest())
		require.NoError(t, err)
		assert.Equal(t, "Mitochondria [Source 1].", resp.Answer)
		assert.Equal(t, 2, resp.ChunksRetrieved)
		assert.Len(t, resp.Sources, 2)
		assert.Equal(t, "What makes ATP?", resp.Query)
		assert.GreaterOrEqual(t, resp.ProcessingTimeMs, 0.0)
	})

	t.Run("No Rooms Before Retrieval", func(t *testing.T) {
		ret := new(MockRetriever)
		model := &fakeLLM{}
		req := validRequest()
		req.RoomIDs = nil

		_, err := NewService(ret, NewSynthesizer(model)).Answer(ctx, req)
		assert.ErrorIs(t, err, ErrNoRoomsSpecified)
		ret.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
		assert.Zero(t, model.calls())
	})

	t.Run("Retrieval Failure Skips Synthesis", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: weaviate down", retrieval.ErrRetrievalUnavailable))
		model := &fakeLLM{}

		_, err := NewService(ret, NewSynthesizer(model)).Answer(ctx, validRequest())
		assert.ErrorIs(t, err, retrieval.ErrRetrievalUnavailable)
		assert.Zero(t, model.calls())
	})

	t.Run("Conversation Reaches Prompt", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(sources(), nil)
		model := &fakeLLM{fragments: []string{"ok"}}

		req := validRequest()
		req.ConversationSummary = "Earlier we discussed photosynthesis."
		req.ConversationHistory = []HistoryMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}

		_, err := NewService(ret, NewSynthesizer(model)).Answer(ctx, req)
		require.NoError(t, err)
		prompt := model.requests[0].Prompt
		assert.Contains(t, prompt, "Earlier we discussed photosynthesis.")
		assert.Contains(t, prompt, "Assistant: hello")
	})
}

func TestService_Stream(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(sources(), nil)
		model := &fakeLLM{fragments: []string{"a", "b"}}

		events := collect(NewService(ret, NewSynthesizer(model)).Stream(ctx, validRequest()))
		assert.Equal(t, []EventType{EventStatus, EventStatus, EventSources, EventChunk, EventChunk, EventComplete}, types(events))
		assert.Equal(t, "searching", events[0].Data.(StatusData).Status)
	})

	t.Run("Retrieval Failure", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retrieval.ErrRetrievalUnavailable)
		model := &fakeLLM{}

		events := collect(NewService(ret, NewSynthesizer(model)).Stream(ctx, validRequest()))
		assert.Equal(t, []EventType{EventStatus, EventError}, types(events))
		assert.Zero(t, model.calls())
	})

	t.Run("No Rooms", func(t *testing.T) {
		ret := new(MockRetriever)
		req := validRequest()
		req.RoomIDs = []string{}

		events := collect(NewService(ret, NewSynthesizer(&fakeLLM{})).Stream(ctx, req))
		require.Equal(t, []EventType{EventError}, types(events))
		assert.Equal(t, "At least one room_id is required", events[0].Data.(ErrorData).Error)
		ret.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
	})
}

func TestHandler(t *testing.T) {
	newMux := func(ret Retriever, model *fakeLLM) *http.ServeMux {
		h := NewHandler(NewService(ret, NewSynthesizer(model)))
		mux := http.NewServeMux()
		mux.HandleFunc("POST /query", h.Query)
		mux.HandleFunc("POST /query/stream", h.Stream)
		return mux
	}

	t.Run("Blocking", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(sources(), nil)

		w := httptest.NewRecorder()
		body := `{"query":"What makes ATP?","user_id":"U1","room_ids":["R1"]}`
		newMux(ret, &fakeLLM{fragments: []string{"answer"}}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"answer":"answer"`)
		assert.Contains(t, w.Body.String(), `"chunks_retrieved":2`)
	})

	t.Run("Blocking No Rooms", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := `{"query":"q","user_id":"U1","room_ids":[]}`
		newMux(new(MockRetriever), &fakeLLM{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("Blocking Downstream Failure", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retrieval.ErrRetrievalUnavailable)

		w := httptest.NewRecorder()
		body := `{"query":"q","user_id":"U1","room_ids":["R1"]}`
		newMux(ret, &fakeLLM{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body)))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	})

	t.Run("Stream", func(t *testing.T) {
		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(sources(), nil)

		w := httptest.NewRecorder()
		body := `{"query":"q","user_id":"U1","room_ids":["R1"]}`
		newMux(ret, &fakeLLM{fragments: []string{"Hello ", "world"}}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query/stream", strings.NewReader(body)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		out := w.Body.String()
		assert.Contains(t, out, "event: sources\ndata: {\"sources\":[")
		assert.Contains(t, out, "event: chunk\ndata: {\"text\":\"Hello \"}\n\n")
		assert.Equal(t, strings.LastIndex(out, "event:"), strings.Index(out, "event: complete"))
		assert.Equal(t, 1, strings.Count(out, "event: complete"))
		assert.NotContains(t, out, "event: error")
	})
	t.Run("Stream Event Order On Failure", func(t *testing.T) {
		eventNames := func(out string) []string {
			var names []string
			for _, line := range strings.Split(out, "\n") {
				if name, ok := strings.CutPrefix(line, "event: "); ok {
					names = append(names, name)
				}
			}
			return names
		}
		body := `{"query":"q","user_id":"U1","room_ids":["R1"]}`

		ret := new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(sources(), nil)
		model := &fakeLLM{fragments: []string{"one ", "two"}, err: fmt.Errorf("quota exceeded"), failAfter: 1}
		w := httptest.NewRecorder()
		newMux(ret, model).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query/stream", strings.NewReader(body)))
		assert.Equal(t, []string{"status", "status", "sources", "chunk", "error"}, eventNames(w.Body.String()))

		ret = new(MockRetriever)
		ret.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retrieval.ErrRetrievalUnavailable)
		w = httptest.NewRecorder()
		newMux(ret, &fakeLLM{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query/stream", strings.NewReader(body)))
		assert.Equal(t, []string{"status", "error"}, eventNames(w.Body.String()))

		w = httptest.NewRecorder()
		newMux(new(MockRetriever), &fakeLLM{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query/stream",
			strings.NewReader(`{"query":"q","user_id":"U1","room_ids":[]}`)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"error"}, eventNames(w.Body.String()))
	})
}
