package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrag/internal/adapter/qdrant"
	"studyrag/internal/vector"
)

func newStore(t *testing.T, handler http.HandlerFunc) (*qdrant.Store, *httptest.Server) {
	ts := httptest.NewServer(handler)
	store, err := qdrant.NewStore(qdrant.Options{
		Endpoint:        ts.URL,
		APIKey:          "secret",
		Collection:      "study_materials",
		VectorDimension: 2,
	})
	require.NoError(t, err)
	return store, ts
}

func ok(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
}

func TestNewStore_Validation(t *testing.T) {
	_, err := qdrant.NewStore(qdrant.Options{Collection: "c"})
	assert.Error(t, err)
	_, err = qdrant.NewStore(qdrant.Options{Endpoint: "http://q"})
	assert.Error(t, err)
}

func TestStore_EnsureSchema_CreatesCollection(t *testing.T) {
	var calls []string
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": "Not found"}})
			return
		}
		if r.URL.Path == "/collections/study_materials" {
			var body map[string]map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, float64(2), body["vectors"]["size"])
			assert.Equal(t, "Cosine", body["vectors"]["distance"])
		}
		ok(w, true)
	})
	defer ts.Close()

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.Equal(t, []string{
		"GET /collections/study_materials",
		"PUT /collections/study_materials",
		"PUT /collections/study_materials/index",
		"PUT /collections/study_materials/index",
	}, calls)
}

func TestStore_EnsureSchema_Exists(t *testing.T) {
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		ok(w, map[string]any{"status": "green"})
	})
	defer ts.Close()

	assert.NoError(t, store.EnsureSchema(context.Background()))
}

func TestStore_Upsert(t *testing.T) {
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/study_materials/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))

		var body struct {
			Points []struct {
				ID      string         `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Points, 1)
		assert.Equal(t, qdrant.PointID("f1", 0), body.Points[0].ID)
		assert.Equal(t, "r1", body.Points[0].Payload["room_id"])
		ok(w, map[string]any{"status": "completed"})
	})
	defer ts.Close()

	err := store.Upsert(context.Background(), []vector.Chunk{
		{FileID: "f1", RoomID: "r1", ChunkIndex: 0, Content: "x", Vector: []float32{0.1, 0.2}},
	})
	assert.NoError(t, err)
}

func TestStore_Upsert_DimensionMismatch(t *testing.T) {
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL.Path)
	})
	defer ts.Close()

	err := store.Upsert(context.Background(), []vector.Chunk{{FileID: "f1", Vector: []float32{0.1}}})
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestStore_Upsert_FailureRollsBack(t *testing.T) {
	var paths []string
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/collections/study_materials/points":
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": "disk full"}})
		case "/collections/study_materials/points/count":
			ok(w, map[string]any{"count": 1})
		default:
			ok(w, map[string]any{"status": "completed"})
		}
	})
	defer ts.Close()

	err := store.Upsert(context.Background(), []vector.Chunk{{FileID: "f1", RoomID: "r1", Vector: []float32{0.1, 0.2}}})
	require.Error(t, err)
	assert.Contains(t, paths, "/collections/study_materials/points/delete")
}

func TestStore_Search(t *testing.T) {
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/study_materials/points/search", r.URL.Path)
		var body struct {
			Limit  int `json:"limit"`
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string   `json:"value"`
						Any   []string `json:"any"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 3, body.Limit)
		require.Len(t, body.Filter.Must, 2)
		assert.Equal(t, []string{"r1", "r2"}, body.Filter.Must[0].Match.Any)
		assert.Equal(t, "f1", body.Filter.Must[1].Match.Value)

		ok(w, []map[string]any{
			{"id": "a", "score": 0.82, "payload": map[string]any{
				"file_id": "f1", "room_id": "r1", "chunk_index": 4, "content": "hit", "section_title": "Intro",
			}},
		})
	})
	defer ts.Close()

	res, err := store.Search(context.Background(), []float32{0.1, 0.2}, vector.SearchFilter{RoomIDs: []string{"r1", "r2"}, FileID: "f1"}, 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "f1", res[0].FileID)
	assert.Equal(t, 4, res[0].ChunkIndex)
	assert.Equal(t, "Intro", res[0].SectionTitle)
	assert.InDelta(t, 0.82, res[0].Score, 0.0001)
}

func TestStore_DeleteByRoom(t *testing.T) {
	deleted := false
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections/study_materials/points/count":
			ok(w, map[string]any{"count": 156})
		case "/collections/study_materials/points/delete":
			deleted = true
			ok(w, map[string]any{"status": "completed"})
		}
	})
	defer ts.Close()

	n, err := store.DeleteByRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 156, n)
	assert.True(t, deleted)
}

func TestStore_DeleteByFile_Unknown(t *testing.T) {
	store, ts := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/study_materials/points/count", r.URL.Path)
		ok(w, map[string]any{"count": 0})
	})
	defer ts.Close()

	n, err := store.DeleteByFile(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
