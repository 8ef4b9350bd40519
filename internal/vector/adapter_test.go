package vector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"studyrag/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) (*vector.WeaviateClientAdapter, *httptest.Server) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	assert.NoError(t, err)
	return vector.NewWeaviateClientAdapter(client), ts
}

func TestWeaviateClientAdapter_ClassExists(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		adapter, ts := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/schema/StudyMaterials", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(&models.Class{Class: "StudyMaterials"})
		})
		defer ts.Close()

		exists, err := adapter.ClassExists(context.Background(), "StudyMaterials")
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("NotFound", func(t *testing.T) {
		adapter, ts := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		defer ts.Close()

		exists, err := adapter.ClassExists(context.Background(), "StudyMaterials")
		assert.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestWeaviateClientAdapter_CreateClass(t *testing.T) {
	adapter, ts := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/schema", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var class models.Class
		json.NewDecoder(r.Body).Decode(&class)
		assert.Equal(t, "StudyMaterials", class.Class)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(class)
	})
	defer ts.Close()

	err := adapter.CreateClass(context.Background(), &models.Class{Class: "StudyMaterials"})
	assert.NoError(t, err)
}

func TestWeaviateClientAdapter_Ready(t *testing.T) {
	adapter, ts := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/.well-known/ready", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()

	assert.NoError(t, adapter.Ready(context.Background()))
}
