package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"studyrag/internal/extract"
	"studyrag/internal/metrics"
	"studyrag/internal/middleware"
	"studyrag/internal/retry"
	"studyrag/internal/text"
	"studyrag/internal/vector"
)

var (
	ErrUnsupportedType = extract.ErrUnsupportedType
	ErrNoText          = extract.ErrNoText
	ErrExtractFailed   = extract.ErrExtractFailed
	ErrEmptyFile       = errors.New("empty file uploaded")
	ErrPayloadTooLarge = errors.New("file exceeds maximum size")
	ErrNoChunks        = errors.New("document produced no valid text chunks")
	ErrInvalidRequest  = errors.New("invalid ingestion request")
)

// statusWriteTimeout bounds each attempt at writing a terminal status.
const statusWriteTimeout = 5 * time.Second

type Extractor interface {
	Supports(docType string) bool
	Extract(ctx context.Context, docType string, data []byte) (string, error)
}

type Splitter interface {
	Split(text string) []text.Chunk
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Document struct {
	FileID       string
	RoomID       string
	DocumentType string
	Data         []byte
}

type Result struct {
	Success          bool    `json:"success"`
	FileID           string  `json:"file_id"`
	RoomID           string  `json:"room_id"`
	ChunksCreated    int     `json:"chunks_created"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	Message          string  `json:"message"`
}

type RemoteRequest struct {
	S3URL        string         `json:"s3_url"`
	RoomID       string         `json:"room_id"`
	FileID       string         `json:"file_id"`
	DocumentType string         `json:"document_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Acceptance struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id"`
	RoomID  string `json:"room_id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

type Service struct {
	extractor  Extractor
	splitter   Splitter
	embedder   Embedder
	store      vector.Store
	tracker    Tracker
	fetcher    Fetcher
	maxBytes   int64
	locks      *fileLocks
	inProcess  *InProcessDispatcher
	dispatcher Dispatcher
	// statusPolicy governs terminal status writes, which outlive the task context.
	statusPolicy retry.Policy
	now          func() time.Time
}

// NewService wires the pipeline. Remote ingestions run on an in-process
// pool of the given concurrency until SetDispatcher installs another one.
func NewService(ext Extractor, sp Splitter, emb Embedder, store vector.Store, tracker Tracker, fetcher Fetcher, maxBytes int64, concurrency int) *Service {
	s := &Service{
		extractor: ext,
		splitter:  sp,
		embedder:  emb,
		store:     store,
		tracker:   tracker,
		fetcher:   fetcher,
		maxBytes:  maxBytes,
		locks:     newFileLocks(),
		now:       time.Now,

		statusPolicy: retry.DefaultPolicy(),
	}
	s.inProcess = NewInProcessDispatcher(s.ProcessRemote, concurrency)
	s.dispatcher = s.inProcess
	return s
}

func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) MaxBytes() int64 { return s.maxBytes }

func (s *Service) validateType(docType string) error {
	if !s.extractor.Supports(docType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, docType)
	}
	return nil
}

func (s *Service) validateSize(n int64) error {
	if s.maxBytes > 0 && n > s.maxBytes {
		return ErrPayloadTooLarge
	}
	if n == 0 {
		return ErrEmptyFile
	}
	return nil
}

// Ingest runs the whole pipeline inline and returns once chunks are stored.
func (s *Service) Ingest(ctx context.Context, doc Document) (*Result, error) {
	start := s.now()
	if err := s.validateType(doc.DocumentType); err != nil {
		return nil, err
	}
	if err := s.validateSize(int64(len(doc.Data))); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "processing document", "file_id", doc.FileID, "room_id", doc.RoomID,
		"document_type", doc.DocumentType, "bytes", len(doc.Data))

	n, err := s.process(ctx, doc)
	elapsed := s.now().Sub(start)
	metrics.IngestionDuration.WithLabelValues("sync").Observe(elapsed.Seconds())
	if err != nil {
		metrics.IngestionsTotal.WithLabelValues("sync", string(StatusFailed)).Inc()
		return nil, err
	}
	metrics.IngestionsTotal.WithLabelValues("sync", string(StatusCompleted)).Inc()

	slog.InfoContext(ctx, "ingestion complete", "file_id", doc.FileID, "chunks", n, "duration_ms", elapsed.Milliseconds())
	return &Result{
		Success:          true,
		FileID:           doc.FileID,
		RoomID:           doc.RoomID,
		ChunksCreated:    n,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		Message:          fmt.Sprintf("Successfully processed document with %d chunks", n),
	}, nil
}

// Accept records the file as processing and schedules its remote ingestion.
// It returns before any download or extraction starts.
func (s *Service) Accept(ctx context.Context, req RemoteRequest) (*Acceptance, error) {
	switch {
	case req.S3URL == "":
		return nil, fmt.Errorf("%w: s3_url is required", ErrInvalidRequest)
	case req.RoomID == "":
		return nil, fmt.Errorf("%w: room_id is required", ErrInvalidRequest)
	case req.FileID == "":
		return nil, fmt.Errorf("%w: file_id is required", ErrInvalidRequest)
	}
	if err := s.validateType(req.DocumentType); err != nil {
		return nil, err
	}

	if err := s.tracker.Put(ctx, Processing(req.FileID)); err != nil {
		return nil, fmt.Errorf("record status: %w", err)
	}

	task := Task{
		FileID:        req.FileID,
		RoomID:        req.RoomID,
		DocumentType:  req.DocumentType,
		SourceURL:     req.S3URL,
		Metadata:      req.Metadata,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		cause := fmt.Sprintf("Failed to schedule ingestion: %v", err)
		if perr := s.record(ctx, Failed(req.FileID, cause, s.now())); perr != nil {
			slog.ErrorContext(ctx, "failed to record dispatch failure", "file_id", req.FileID, "error", perr)
		}
		return nil, fmt.Errorf("dispatch ingestion: %w", err)
	}

	slog.InfoContext(ctx, "ingestion accepted", "file_id", req.FileID, "room_id", req.RoomID)
	return &Acceptance{
		Success: true,
		FileID:  req.FileID,
		RoomID:  req.RoomID,
		Status:  StatusProcessing,
		Message: "Document accepted for processing",
	}, nil
}

// ProcessRemote downloads and ingests a task and writes its terminal status.
// Pipeline failures are recorded, not returned; the error is non-nil only
// when the terminal status itself could not be written. The status write
// runs even after ctx has expired so a timed-out task never stays processing.
func (s *Service) ProcessRemote(ctx context.Context, task Task) error {
	start := s.now()
	rec := s.runRemote(ctx, task)

	elapsed := s.now().Sub(start)
	metrics.IngestionDuration.WithLabelValues("remote").Observe(elapsed.Seconds())
	metrics.IngestionsTotal.WithLabelValues("remote", string(rec.Status)).Inc()

	if err := s.record(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "failed to record ingestion status", "file_id", task.FileID, "status", rec.Status, "error", err)
		return err
	}
	return nil
}

// record writes rec detached from ctx's deadline, retrying transient
// tracker errors with a fresh per-attempt timeout.
func (s *Service) record(ctx context.Context, rec StatusRecord) error {
	ctx = context.WithoutCancel(ctx)
	return retry.Do(ctx, s.statusPolicy, func() error {
		putCtx, cancel := context.WithTimeout(ctx, statusWriteTimeout)
		defer cancel()
		return s.tracker.Put(putCtx, rec)
	})
}

func (s *Service) runRemote(ctx context.Context, task Task) StatusRecord {
	slog.InfoContext(ctx, "remote ingestion started", "file_id", task.FileID, "room_id", task.RoomID, "metadata", task.Metadata)

	data, err := s.fetcher.Fetch(ctx, task.SourceURL)
	if err != nil {
		return s.failed(ctx, task.FileID, fmt.Errorf("failed to download document: %w", err))
	}
	if err := s.validateSize(int64(len(data))); err != nil {
		return s.failed(ctx, task.FileID, err)
	}

	n, err := s.process(ctx, Document{
		FileID:       task.FileID,
		RoomID:       task.RoomID,
		DocumentType: task.DocumentType,
		Data:         data,
	})
	if err != nil {
		return s.failed(ctx, task.FileID, err)
	}

	slog.InfoContext(ctx, "remote ingestion complete", "file_id", task.FileID, "chunks", n)
	return Completed(task.FileID, n, s.now())
}

func (s *Service) failed(ctx context.Context, fileID string, err error) StatusRecord {
	slog.ErrorContext(ctx, "remote ingestion failed", "file_id", fileID, "error", err)
	return Failed(fileID, FailureMessage(err, s.maxBytes), s.now())
}

// process runs extract, chunk, embed and store under the file's lock. Old
// chunks are replaced only after embedding succeeds.
func (s *Service) process(ctx context.Context, doc Document) (int, error) {
	unlock := s.locks.Lock(doc.FileID)
	defer unlock()

	content, err := s.extractor.Extract(ctx, doc.DocumentType, doc.Data)
	if err != nil {
		return 0, err
	}

	pieces := s.splitter.Split(content)
	if len(pieces) == 0 {
		return 0, ErrNoChunks
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vecs) != len(pieces) {
		return 0, fmt.Errorf("embedding failed: expected %d vectors, got %d", len(pieces), len(vecs))
	}

	if _, err := s.store.DeleteByFile(ctx, doc.FileID, ""); err != nil {
		return 0, fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	now := s.now().UTC()
	chunks := make([]vector.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = vector.Chunk{
			FileID:       doc.FileID,
			RoomID:       doc.RoomID,
			ChunkIndex:   p.Index,
			TotalChunks:  p.Total,
			Content:      p.Content,
			SectionTitle: p.SectionTitle,
			DocumentType: doc.DocumentType,
			CharCount:    p.CharCount,
			Vector:       vecs[i],
			CreatedAt:    now,
		}
	}
	if err := s.store.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store vectors: %w", err)
	}
	metrics.ChunksStored.Add(float64(len(chunks)))
	return len(chunks), nil
}

func (s *Service) Status(ctx context.Context, fileID string) (StatusRecord, error) {
	return s.tracker.Get(ctx, fileID)
}

// DeleteFile removes every chunk of fileID, waiting for any in-flight
// ingestion of the same file to finish first. roomID narrows the delete
// when set.
func (s *Service) DeleteFile(ctx context.Context, fileID, roomID string) (int, error) {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	n, err := s.store.DeleteByFile(ctx, fileID, roomID)
	if err != nil {
		return 0, err
	}
	metrics.VectorsDeleted.WithLabelValues("file").Add(float64(n))
	slog.InfoContext(ctx, "file vectors deleted", "file_id", fileID, "room_id", roomID, "count", n)
	return n, nil
}

func (s *Service) DeleteRoom(ctx context.Context, roomID string) (int, error) {
	n, err := s.store.DeleteByRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	metrics.VectorsDeleted.WithLabelValues("room").Add(float64(n))
	slog.InfoContext(ctx, "room vectors deleted", "room_id", roomID, "count", n)
	return n, nil
}

// Wait drains in-process remote ingestions.
func (s *Service) Wait(ctx context.Context) error {
	return s.inProcess.Wait(ctx)
}

// FailureMessage renders err as the human-readable cause shown to clients.
func FailureMessage(err error, maxBytes int64) string {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return fmt.Sprintf("Unsupported document type: %s. Supported: pdf, docx, pptx, txt", unsupportedName(err))
	case errors.Is(err, ErrPayloadTooLarge):
		return fmt.Sprintf("File exceeds maximum size of %dMB", maxBytes/(1024*1024))
	case errors.Is(err, ErrEmptyFile):
		return "Empty file uploaded"
	case errors.Is(err, ErrNoText):
		return "No text content could be extracted from the document"
	case errors.Is(err, ErrNoChunks):
		return "Document produced no valid text chunks"
	case errors.Is(err, ErrExtractFailed):
		return "Failed to process document: " + unwrapCause(err)
	}
	msg := err.Error()
	if msg == "" {
		return "Document processing failed"
	}
	return capitalize(msg)
}

func unsupportedName(err error) string {
	prefix := ErrUnsupportedType.Error() + ": "
	msg := err.Error()
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return "unknown"
}

func unwrapCause(err error) string {
	prefix := ErrExtractFailed.Error() + ": "
	msg := err.Error()
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
