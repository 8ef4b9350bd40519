package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"studyrag/internal/extract"
	"studyrag/internal/text"
	"studyrag/internal/vector"
)

// memStore is an in-memory vector.Store keyed by file id.
type memStore struct {
	mu        sync.Mutex
	files     map[string][]vector.Chunk
	upsertErr error
	upserts   int
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]vector.Chunk)}
}

func (s *memStore) Upsert(_ context.Context, chunks []vector.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, c := range chunks {
		s.files[c.FileID] = append(s.files[c.FileID], c)
	}
	return nil
}

func (s *memStore) Search(_ context.Context, _ []float32, filter vector.SearchFilter, limit int) ([]vector.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make(map[string]bool)
	for _, r := range filter.RoomIDs {
		rooms[r] = true
	}
	var out []vector.SearchResult
	for _, chunks := range s.files {
		for _, c := range chunks {
			if !rooms[c.RoomID] || (filter.FileID != "" && c.FileID != filter.FileID) {
				continue
			}
			out = append(out, vector.SearchResult{FileID: c.FileID, RoomID: c.RoomID, ChunkIndex: c.ChunkIndex, Content: c.Content, Score: 1})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DeleteByFile(_ context.Context, fileID, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keep []vector.Chunk
	n := 0
	for _, c := range s.files[fileID] {
		if roomID != "" && c.RoomID != roomID {
			keep = append(keep, c)
			continue
		}
		n++
	}
	if len(keep) == 0 {
		delete(s.files, fileID)
	} else {
		s.files[fileID] = keep
	}
	return n, nil
}

func (s *memStore) DeleteByRoom(_ context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, chunks := range s.files {
		var keep []vector.Chunk
		for _, c := range chunks {
			if c.RoomID == roomID {
				n++
				continue
			}
			keep = append(keep, c)
		}
		if len(keep) == 0 {
			delete(s.files, id)
		} else {
			s.files[id] = keep
		}
	}
	return n, nil
}

func (s *memStore) count(fileID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files[fileID])
}

// stubEmbedder returns a fixed two-dimensional vector per text.
type stubEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (e *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(context.Context, Task) error {
	return errors.New("nsqd unreachable")
}

type testEnv struct {
	svc     *Service
	store   *memStore
	emb     *stubEmbedder
	tracker *MemoryTracker
	fetcher *MockFetcher
}

func newTestEnv(maxBytes int64) *testEnv {
	env := &testEnv{
		store:   newMemStore(),
		emb:     &stubEmbedder{},
		tracker: NewMemoryTracker(),
		fetcher: new(MockFetcher),
	}
	env.svc = NewService(extract.NewRegistry(), text.NewChunker(64, 10), env.emb, env.store, env.tracker, env.fetcher, maxBytes, 2)
	return env
}

// deadlineTracker refuses writes on a done context, the way a network-backed
// tracker would.
type deadlineTracker struct {
	*MemoryTracker
}

func (t deadlineTracker) Put(ctx context.Context, rec StatusRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.MemoryTracker.Put(ctx, rec)
}

// flakyTracker fails the first failures terminal writes.
type flakyTracker struct {
	*MemoryTracker
	mu       sync.Mutex
	failures int
	puts     int
}

func (t *flakyTracker) Put(ctx context.Context, rec StatusRecord) error {
	t.mu.Lock()
	t.puts++
	fail := rec.Terminal() && t.failures > 0
	if fail {
		t.failures--
	}
	t.mu.Unlock()
	if fail {
		return errors.New("redis: connection reset")
	}
	return t.MemoryTracker.Put(ctx, rec)
}
