package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studyrag/internal/extract"
	"studyrag/internal/retry"
	"studyrag/internal/text"
)

const threeParagraphs = "Mitochondria produce ATP for the cell.\n\nRibosomes assemble proteins from amino acids.\n\nThe nucleus stores genetic material."

func TestService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("Stores Every Chunk", func(t *testing.T) {
		env := newTestEnv(1024)
		res, err := env.svc.Ingest(ctx, Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: []byte(threeParagraphs)})
		require.NoError(t, err)

		assert.True(t, res.Success)
		assert.Equal(t, 3, res.ChunksCreated)
		assert.Equal(t, "Successfully processed document with 3 chunks", res.Message)
		assert.Equal(t, res.ChunksCreated, env.store.count("F1"))

		for i, c := range env.store.files["F1"] {
			assert.Equal(t, i, c.ChunkIndex)
			assert.Equal(t, 3, c.TotalChunks)
			assert.Equal(t, "R1", c.RoomID)
			assert.Equal(t, "txt", c.DocumentType)
			assert.Len(t, c.Vector, 2)
		}
	})

	t.Run("Reingest Replaces Chunks", func(t *testing.T) {
		env := newTestEnv(1024)
		_, err := env.svc.Ingest(ctx, Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: []byte(threeParagraphs)})
		require.NoError(t, err)

		res, err := env.svc.Ingest(ctx, Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: []byte("Only one short note.")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChunksCreated)
		require.Equal(t, 1, env.store.count("F1"))
		assert.Equal(t, "Only one short note.", env.store.files["F1"][0].Content)
	})

	validation := []struct {
		name    string
		doc     Document
		wantErr error
	}{
		{"Unsupported Type", Document{FileID: "F1", RoomID: "R1", DocumentType: "xlsx", Data: []byte("x")}, ErrUnsupportedType},
		{"Empty File", Document{FileID: "F1", RoomID: "R1", DocumentType: "txt"}, ErrEmptyFile},
		{"Too Large", Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: make([]byte, 2048)}, ErrPayloadTooLarge},
		{"No Text", Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: []byte("\n\n12\n")}, ErrNoText},
	}
	for _, tt := range validation {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(1024)
			_, err := env.svc.Ingest(ctx, tt.doc)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, env.emb.calls)
			assert.Zero(t, env.store.upserts)
		})
	}

	t.Run("Embedding Failure Keeps Store Untouched", func(t *testing.T) {
		env := newTestEnv(1024)
		env.emb.err = errors.New("quota exceeded")
		_, err := env.svc.Ingest(ctx, Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: []byte(threeParagraphs)})
		assert.ErrorContains(t, err, "embedding failed")
		assert.Zero(t, env.store.count("F1"))
		assert.Zero(t, env.store.upserts)
	})

	t.Run("Store Failure", func(t *testing.T) {
		env := newTestEnv(1024)
		env.store.upsertErr = errors.New("weaviate down")
		_, err := env.svc.Ingest(ctx, Document{FileID: "F1", RoomID: "R1", DocumentType: "txt", Data: []byte(threeParagraphs)})
		assert.ErrorContains(t, err, "failed to store vectors")
		assert.Zero(t, env.store.count("F1"))
	})
}

// gatedFetch makes the fetch for url block until release is closed.
func gatedFetch(env *testEnv, url string, data []byte, release chan struct{}) {
	env.fetcher.On("Fetch", mock.Anything, url).Run(func(mock.Arguments) { <-release }).Return(data, nil)
}

func TestService_AcceptAndProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("Processing Then Completed", func(t *testing.T) {
		env := newTestEnv(1024)
		release := make(chan struct{})
		gatedFetch(env, "s3://bucket/f1.txt", []byte(threeParagraphs), release)

		acc, err := env.svc.Accept(ctx, RemoteRequest{S3URL: "s3://bucket/f1.txt", RoomID: "R1", FileID: "F1", DocumentType: "txt"})
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, acc.Status)

		rec, err := env.svc.Status(ctx, "F1")
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, rec.Status)
		assert.Nil(t, rec.ChunksCreated)
		assert.Nil(t, rec.ProcessedAt)

		close(release)
		require.NoError(t, env.svc.Wait(ctx))

		rec, err = env.svc.Status(ctx, "F1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, rec.Status)
		require.NotNil(t, rec.ChunksCreated)
		assert.Equal(t, 3, *rec.ChunksCreated)
		assert.NotNil(t, rec.ProcessedAt)
		assert.Nil(t, rec.Error)
		assert.Equal(t, 3, env.store.count("F1"))
	})

	t.Run("Download Failure", func(t *testing.T) {
		env := newTestEnv(1024)
		env.fetcher.On("Fetch", mock.Anything, "s3://bucket/missing.pdf").Return(nil, errors.New("object not found"))

		_, err := env.svc.Accept(ctx, RemoteRequest{S3URL: "s3://bucket/missing.pdf", RoomID: "R1", FileID: "F2", DocumentType: "pdf"})
		require.NoError(t, err)
		require.NoError(t, env.svc.Wait(ctx))

		rec, err := env.svc.Status(ctx, "F2")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rec.Status)
		require.NotNil(t, rec.Error)
		assert.Equal(t, "Failed to download document: object not found", *rec.Error)
		assert.Nil(t, rec.ChunksCreated)
		assert.NotNil(t, rec.ProcessedAt)
		assert.Zero(t, env.store.count("F2"))
	})

	t.Run("Zero Text Fails", func(t *testing.T) {
		env := newTestEnv(1024)
		env.fetcher.On("Fetch", mock.Anything, "s3://bucket/blank.txt").Return([]byte("  \n\n"), nil)

		_, err := env.svc.Accept(ctx, RemoteRequest{S3URL: "s3://bucket/blank.txt", RoomID: "R1", FileID: "F3", DocumentType: "txt"})
		require.NoError(t, err)
		require.NoError(t, env.svc.Wait(ctx))

		rec, _ := env.svc.Status(ctx, "F3")
		assert.Equal(t, StatusFailed, rec.Status)
		assert.Equal(t, "No text content could be extracted from the document", *rec.Error)
	})

	t.Run("Validation", func(t *testing.T) {
		env := newTestEnv(1024)
		_, err := env.svc.Accept(ctx, RemoteRequest{RoomID: "R1", FileID: "F1", DocumentType: "txt"})
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = env.svc.Accept(ctx, RemoteRequest{S3URL: "s3://b/k", RoomID: "R1", FileID: "F1", DocumentType: "epub"})
		assert.ErrorIs(t, err, ErrUnsupportedType)

		_, err = env.svc.Status(ctx, "F1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Dispatch Failure Recorded", func(t *testing.T) {
		env := newTestEnv(1024)
		env.svc.SetDispatcher(failingDispatcher{})

		_, err := env.svc.Accept(ctx, RemoteRequest{S3URL: "s3://b/k", RoomID: "R1", FileID: "F1", DocumentType: "txt"})
		require.Error(t, err)

		rec, err := env.svc.Status(ctx, "F1")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rec.Status)
		assert.Contains(t, *rec.Error, "nsqd unreachable")
	})
}

func TestService_ProcessRemote_TerminalStatus(t *testing.T) {
	fast := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	task := Task{FileID: "F1", RoomID: "R1", DocumentType: "txt", SourceURL: "s3://bucket/slow.txt"}

	t.Run("Recorded After Task Deadline", func(t *testing.T) {
		tracker := deadlineTracker{NewMemoryTracker()}
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, task.SourceURL).
			Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
			Return(nil, context.DeadlineExceeded)
		svc := NewService(extract.NewRegistry(), text.NewChunker(64, 10), &stubEmbedder{}, newMemStore(), tracker, fetcher, 1024, 1)
		svc.statusPolicy = fast
		require.NoError(t, tracker.Put(context.Background(), Processing("F1")))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.NoError(t, svc.ProcessRemote(ctx, task))

		rec, err := svc.Status(context.Background(), "F1")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rec.Status)
		require.NotNil(t, rec.Error)
		assert.Contains(t, *rec.Error, "deadline exceeded")
	})

	t.Run("Transient Write Retried", func(t *testing.T) {
		tracker := &flakyTracker{MemoryTracker: NewMemoryTracker(), failures: 1}
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, task.SourceURL).Return([]byte(threeParagraphs), nil)
		svc := NewService(extract.NewRegistry(), text.NewChunker(64, 10), &stubEmbedder{}, newMemStore(), tracker, fetcher, 1024, 1)
		svc.statusPolicy = fast

		require.NoError(t, svc.ProcessRemote(context.Background(), task))

		rec, err := svc.Status(context.Background(), "F1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.Equal(t, 2, tracker.puts)
	})

	t.Run("Write Exhausted", func(t *testing.T) {
		tracker := &flakyTracker{MemoryTracker: NewMemoryTracker(), failures: 5}
		fetcher := new(MockFetcher)
		fetcher.On("Fetch", mock.Anything, task.SourceURL).Return([]byte(threeParagraphs), nil)
		svc := NewService(extract.NewRegistry(), text.NewChunker(64, 10), &stubEmbedder{}, newMemStore(), tracker, fetcher, 1024, 1)
		svc.statusPolicy = fast

		err := svc.ProcessRemote(context.Background(), task)
		require.Error(t, err)
		assert.Equal(t, 3, tracker.puts)
	})
}

func TestService_Deletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(1 << 20)

	for i := 0; i < 3; i++ {
		_, err := env.svc.Ingest(ctx, Document{FileID: fmt.Sprintf("F%d", i), RoomID: "R1", DocumentType: "txt", Data: []byte(threeParagraphs)})
		require.NoError(t, err)
	}
	_, err := env.svc.Ingest(ctx, Document{FileID: "G1", RoomID: "R2", DocumentType: "txt", Data: []byte("Other room.")})
	require.NoError(t, err)

	n, err := env.svc.DeleteFile(ctx, "F0", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = env.svc.DeleteFile(ctx, "unknown", "")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.svc.DeleteFile(ctx, "F1", "R2")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.svc.DeleteRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 1, env.store.count("G1"))
}

func TestService_DeleteWaitsForIngest(t *testing.T) {
	env := newTestEnv(1024)
	unlock := env.svc.locks.Lock("F1")

	done := make(chan int)
	go func() {
		n, _ := env.svc.DeleteFile(context.Background(), "F1", "")
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("delete should wait for the file lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	assert.Equal(t, 0, <-done)
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: xlsx", ErrUnsupportedType), "Unsupported document type: xlsx. Supported: pdf, docx, pptx, txt"},
		{ErrPayloadTooLarge, "File exceeds maximum size of 10MB"},
		{ErrEmptyFile, "Empty file uploaded"},
		{ErrNoText, "No text content could be extracted from the document"},
		{ErrNoChunks, "Document produced no valid text chunks"},
		{fmt.Errorf("%w: open pdf: bad header", ErrExtractFailed), "Failed to process document: open pdf: bad header"},
		{errors.New("embedding failed: boom"), "Embedding failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureMessage(tt.err, 10*1024*1024))
		})
	}
}

func TestStatusRecord_Constructors(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	rec := Completed("F1", 4, at)
	assert.True(t, rec.Terminal())
	assert.Equal(t, time.UTC, rec.ProcessedAt.Location())

	rec = Failed("F1", "boom", at)
	assert.Equal(t, "boom", *rec.Error)
	assert.Nil(t, rec.ChunksCreated)

	assert.False(t, Processing("F1").Terminal())
}
