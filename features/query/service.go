package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"studyrag/internal/adapter/llm"
	"studyrag/internal/metrics"
	"studyrag/internal/retrieval"
	"studyrag/internal/vector"
)

var (
	ErrNoRoomsSpecified = errors.New("at least one room_id is required")
	ErrInvalidRequest   = errors.New("invalid query request")
)

const (
	maxQueryLength = 2000
	maxTopK        = 20
)

type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]vector.SearchResult, error)
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Query               string           `json:"query"`
	UserID              string           `json:"user_id"`
	RoomIDs             []string         `json:"room_ids"`
	ContextFileID       string           `json:"context_file_id,omitempty"`
	TopK                int              `json:"top_k,omitempty"`
	ConversationHistory []HistoryMessage `json:"conversation_history,omitempty"`
	ConversationSummary string           `json:"conversation_summary,omitempty"`
}

// Validate checks rooms first so that an empty room list is always reported
// as ErrNoRoomsSpecified.
func (r Request) Validate() error {
	if len(r.RoomIDs) == 0 {
		return ErrNoRoomsSpecified
	}
	for _, id := range r.RoomIDs {
		if strings.TrimSpace(id) == "" {
			return ErrNoRoomsSpecified
		}
	}
	n := utf8.RuneCountInString(strings.TrimSpace(r.Query))
	if n == 0 || utf8.RuneCountInString(r.Query) > maxQueryLength {
		return fmt.Errorf("%w: query must be between 1 and %d characters", ErrInvalidRequest, maxQueryLength)
	}
	if r.TopK < 0 || r.TopK > maxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidRequest, maxTopK)
	}
	return nil
}

func (r Request) conversation() Conversation {
	conv := Conversation{Summary: strings.TrimSpace(r.ConversationSummary)}
	for _, m := range r.ConversationHistory {
		role := llm.RoleUser
		if m.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		conv.History = append(conv.History, llm.Message{Role: role, Content: m.Content})
	}
	return conv
}

type Response struct {
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	Query            string   `json:"query"`
	ProcessingTimeMs float64  `json:"processing_time_ms"`
	ChunksRetrieved  int      `json:"chunks_retrieved"`
}

// Service sequences retrieval and synthesis for one question.
type Service struct {
	retriever   Retriever
	synthesizer *Synthesizer
	now         func() time.Time
}

func NewService(r Retriever, s *Synthesizer) *Service {
	return &Service{retriever: r, synthesizer: s, now: time.Now}
}

func (s *Service) Answer(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := s.now()
	slog.InfoContext(ctx, "query received", "user_id", req.UserID, "rooms", len(req.RoomIDs), "query", preview(req.Query))

	results, err := s.retriever.Retrieve(ctx, s.retrievalQuery(req))
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("blocking", "error").Inc()
		return nil, err
	}

	answer, err := s.synthesizer.Synthesize(ctx, Input{
		Query:        req.Query,
		Sources:      results,
		Conversation: req.conversation(),
		Start:        start,
	})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("blocking", "error").Inc()
		return nil, err
	}
	metrics.QueriesTotal.WithLabelValues("blocking", "success").Inc()

	elapsed := s.now().Sub(start)
	slog.InfoContext(ctx, "query completed", "duration_ms", elapsed.Milliseconds(), "chunks", len(results))
	return &Response{
		Answer:           answer.Text,
		Sources:          ToSources(results),
		Query:            req.Query,
		ProcessingTimeMs: millis(elapsed),
		ChunksRetrieved:  len(results),
	}, nil
}

// Stream emits a searching status, then either an error or the synthesizer's
// events. Validation failures yield a lone error event without any
// retrieval call.
func (s *Service) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		s.stream(ctx, req, out)
	}()
	return out
}

func (s *Service) stream(ctx context.Context, req Request, out chan<- Event) {
	emit := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if err := req.Validate(); err != nil {
		metrics.QueriesTotal.WithLabelValues("stream", "error").Inc()
		emit(errorEvent(ErrorMessage(err)))
		return
	}
	start := s.now()
	slog.InfoContext(ctx, "streaming query received", "user_id", req.UserID, "rooms", len(req.RoomIDs), "query", preview(req.Query))

	if !emit(statusEvent("searching", "Searching course materials...")) {
		return
	}

	results, err := s.retriever.Retrieve(ctx, s.retrievalQuery(req))
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("stream", "error").Inc()
		emit(errorEvent(ErrorMessage(err)))
		return
	}

	status := "error"
	for e := range s.synthesizer.Stream(ctx, Input{
		Query:        req.Query,
		Sources:      results,
		Conversation: req.conversation(),
		Start:        start,
	}) {
		if e.Type == EventComplete {
			status = "success"
		}
		if !emit(e) {
			status = "cancelled"
			break
		}
	}
	metrics.QueriesTotal.WithLabelValues("stream", status).Inc()
	slog.InfoContext(ctx, "streaming query finished", "status", status, "duration_ms", s.now().Sub(start).Milliseconds())
}

func (s *Service) retrievalQuery(req Request) retrieval.Query {
	return retrieval.Query{
		Text:    req.Query,
		RoomIDs: req.RoomIDs,
		TopK:    req.TopK,
		FileID:  req.ContextFileID,
	}
}

// ErrorMessage renders err for clients.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoRoomsSpecified):
		return "At least one room_id is required"
	case errors.Is(err, ErrInvalidRequest):
		return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
	}
	return "Query processing failed: " + err.Error()
}

func preview(q string) string {
	return truncate(q, 50)
}
