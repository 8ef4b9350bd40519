package query

type EventType string

const (
	EventStatus   EventType = "status"
	EventSources  EventType = "sources"
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one item of a streamed answer. Data is encoded as the SSE data line.
type Event struct {
	Type EventType
	Data any
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

type StatusData struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SourcesData struct {
	Sources []Source `json:"sources"`
	Count   int      `json:"count"`
}

type ChunkData struct {
	Text string `json:"text"`
}

type CompleteData struct {
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	ChunksUsed       int     `json:"chunks_used"`
}

type ErrorData struct {
	Error string `json:"error"`
}

func statusEvent(status, message string) Event {
	return Event{Type: EventStatus, Data: StatusData{Status: status, Message: message}}
}

func errorEvent(cause string) Event {
	return Event{Type: EventError, Data: ErrorData{Error: cause}}
}
