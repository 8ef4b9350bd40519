package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"studyrag/internal/adapter/llm"
	"studyrag/internal/vector"
)

const (
	// NoSourcesAnswer is returned without calling the model when retrieval finds nothing.
	NoSourcesAnswer = "I couldn't find any relevant information in your course materials to answer this question. Please make sure you've uploaded relevant documents to your study room."

	// EmptyAnswer replaces a blank model response.
	EmptyAnswer = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

	maxSourceContent = 500
	maxHistory       = 8
)

const systemPrompt = `You are an AI study assistant helping students understand their course materials.

INSTRUCTIONS:
1. Answer questions ONLY based on the provided context from course materials
2. Always cite your sources by mentioning which document/section the information comes from
3. If the context doesn't contain enough information to answer, clearly state: "I don't have enough information in the course materials to answer this question fully."
4. Be concise but thorough - aim for 2-4 paragraphs
5. Use bullet points or numbered lists when appropriate for clarity
6. If you notice related topics in the context that might be helpful, briefly mention them

FORMAT:
- Start with a direct answer to the question
- Support with evidence from the context
- End with source citations

Remember: You are helping students learn, so explain concepts clearly.`

var answerOptions = llm.GenerationOptions{
	Temperature:     0.7,
	TopP:            0.9,
	TopK:            40,
	MaxOutputTokens: 2048,
}

// Generator is the language model as seen by the synthesizer.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
	Stream(ctx context.Context, req llm.Request) iter.Seq2[string, error]
}

// Source is a retrieved chunk as returned to clients, content truncated.
type Source struct {
	FileID         string  `json:"file_id"`
	ChunkIndex     int     `json:"chunk_index"`
	Content        string  `json:"content"`
	RelevanceScore float32 `json:"relevance_score"`
	SectionTitle   string  `json:"section_title,omitempty"`
}

// Conversation carries prior turns folded into the prompt.
type Conversation struct {
	History []llm.Message
	Summary string
}

// Input is everything one synthesis needs. Start is when the caller began
// handling the request; processing time is measured from it.
type Input struct {
	Query        string
	Sources      []vector.SearchResult
	Conversation Conversation
	Start        time.Time
}

type Answer struct {
	Text           string
	ProcessingTime time.Duration
}

type Synthesizer struct {
	llm Generator
	now func() time.Time
}

func NewSynthesizer(g Generator) *Synthesizer {
	return &Synthesizer{llm: g, now: time.Now}
}

func (s *Synthesizer) start(in Input) time.Time {
	if in.Start.IsZero() {
		return s.now()
	}
	return in.Start
}

// Synthesize makes one model call on the grounding prompt. Model errors are
// returned as is; there is no retry.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Answer, error) {
	start := s.start(in)
	if len(in.Sources) == 0 {
		return &Answer{Text: NoSourcesAnswer, ProcessingTime: s.now().Sub(start)}, nil
	}

	text, err := s.llm.Generate(ctx, s.request(in))
	if err == nil && blank(text) {
		err = llm.ErrEmptyResponse
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		slog.WarnContext(ctx, "empty response from model")
		text, err = EmptyAnswer, nil
	}
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &Answer{Text: text, ProcessingTime: s.now().Sub(start)}, nil
}

// Stream emits status, sources, chunk* and exactly one terminal event, then
// closes the channel. It stops early, without a terminal event, once ctx is
// done.
func (s *Synthesizer) Stream(ctx context.Context, in Input) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		s.produce(ctx, in, out)
	}()
	return out
}

func (s *Synthesizer) produce(ctx context.Context, in Input, out chan<- Event) {
	start := s.start(in)
	emit := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(statusEvent("generating", "Generating answer...")) {
		return
	}
	sources := ToSources(in.Sources)
	if !emit(Event{Type: EventSources, Data: SourcesData{Sources: sources, Count: len(sources)}}) {
		return
	}

	complete := func() {
		emit(Event{Type: EventComplete, Data: CompleteData{
			ProcessingTimeMs: millis(s.now().Sub(start)),
			ChunksUsed:       len(sources),
		}})
	}

	if len(in.Sources) == 0 {
		if emit(Event{Type: EventChunk, Data: ChunkData{Text: NoSourcesAnswer}}) {
			complete()
		}
		return
	}

	// Leading whitespace is held back until real text arrives, so an answer
	// that is only whitespace falls back exactly like the blocking path.
	fragments := 0
	var lead strings.Builder
	for text, err := range s.llm.Stream(ctx, s.request(in)) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "answer stream failed", "fragments", fragments, "error", err)
			emit(errorEvent(fmt.Sprintf("Answer generation failed: %v", err)))
			return
		}
		if fragments == 0 {
			lead.WriteString(text)
			if blank(lead.String()) {
				continue
			}
			text = lead.String()
		}
		if !emit(Event{Type: EventChunk, Data: ChunkData{Text: text}}) {
			return
		}
		fragments++
	}
	if ctx.Err() != nil {
		return
	}

	if fragments == 0 && !emit(Event{Type: EventChunk, Data: ChunkData{Text: EmptyAnswer}}) {
		return
	}
	complete()
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func (s *Synthesizer) request(in Input) llm.Request {
	return llm.Request{
		System:  systemPrompt,
		Prompt:  BuildPrompt(in.Query, in.Sources, in.Conversation),
		Options: answerOptions,
	}
}

// BuildPrompt renders the grounding prompt: optional conversation context,
// then numbered source blocks separated by ---, then the question.
func BuildPrompt(query string, sources []vector.SearchResult, conv Conversation) string {
	var b strings.Builder

	if conv.Summary != "" {
		b.WriteString("CONVERSATION SUMMARY:\n")
		b.WriteString(conv.Summary)
		b.WriteString("\n\n")
	}
	if history := recent(conv.History); len(history) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for _, m := range history {
			speaker := "Student"
			if m.Role == llm.RoleAssistant {
				speaker = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
		}
		b.WriteString("\n")
	}

	blocks := make([]string, len(sources))
	for i, src := range sources {
		blocks[i] = fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, sourceLabel(src), src.Content)
	}

	b.WriteString("CONTEXT FROM COURSE MATERIALS:\n")
	b.WriteString(strings.Join(blocks, "\n---\n"))
	b.WriteString("\n\nSTUDENT QUESTION:\n")
	b.WriteString(query)
	b.WriteString("\n\nPlease provide a helpful answer based on the context above.")
	return b.String()
}

func recent(history []llm.Message) []llm.Message {
	if len(history) > maxHistory {
		return history[len(history)-maxHistory:]
	}
	return history
}

func sourceLabel(src vector.SearchResult) string {
	if src.SectionTitle != "" {
		return src.SectionTitle
	}
	id := src.FileID
	if id == "" {
		id = "unknown"
	}
	return "Document " + truncate(id, 8)
}

// ToSources converts search results for the response, keeping their order.
func ToSources(results []vector.SearchResult) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			FileID:         r.FileID,
			ChunkIndex:     r.ChunkIndex,
			Content:        truncate(r.Content, maxSourceContent),
			RelevanceScore: r.Score,
			SectionTitle:   r.SectionTitle,
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
