package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, nil }

func newChromaServer(t *testing.T, lookups *atomic.Int32, check func(chromaQueryRequest)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nanosecond heartbeat": 1}`))
	})
	mux.HandleFunc("/api/v1/collections/commands", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		_, _ = w.Write([]byte(`{"id":"c-123","name":"commands"}`))
	})
	mux.HandleFunc("/api/v1/collections/c-123/query", func(w http.ResponseWriter, r *http.Request) {
		var req chromaQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		_, _ = w.Write([]byte(`{
			"ids": [["d1","d2","d3"]],
			"documents": [["df -h shows disk usage", "", "dir lists files"]],
			"metadatas": [[{"platform":"linux","source":"tldr"}, {"platform":"common"}, {"platform":"windows"}]],
			"distances": [[0.12, 0.3, 0.4]]
		}`))
	})
	return httptest.NewServer(mux)
}

func TestChromaIndexSearchMapsArrays(t *testing.T) {
	var lookups atomic.Int32
	srv := newChromaServer(t, &lookups, func(req chromaQueryRequest) {
		assert.Equal(t, []string{"disk space"}, req.QueryTexts)
		assert.Equal(t, 5, req.NResults)
		assert.ElementsMatch(t, []string{"documents", "metadatas", "distances"}, req.Include)
	})
	defer srv.Close()

	idx, err := NewChromaIndex(srv.URL, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, idx.Heartbeat(context.Background()))

	got, err := idx.Search(context.Background(), "disk space", CommandsCollection, 5)
	require.NoError(t, err)
	require.Len(t, got, 2, "empty documents are dropped")
	assert.Equal(t, "d1", got[0].ID)
	assert.Equal(t, "linux", got[0].Metadata.Platform)
	assert.Equal(t, "tldr", got[0].Metadata.Source)
	assert.InDelta(t, 0.12, got[0].Score, 1e-9)
	assert.Equal(t, 0, got[0].Rank)
	assert.Equal(t, "d3", got[1].ID)
	assert.Equal(t, 1, got[1].Rank)

	_, err = idx.Search(context.Background(), "again", CommandsCollection, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, lookups.Load(), "collection id is cached")
}

func TestChromaIndexSendsEmbeddings(t *testing.T) {
	var lookups atomic.Int32
	srv := newChromaServer(t, &lookups, func(req chromaQueryRequest) {
		assert.Empty(t, req.QueryTexts)
		assert.Equal(t, [][]float32{{0.5, 0.25}}, req.QueryEmbeddings)
	})
	defer srv.Close()

	idx, err := NewChromaIndex(srv.URL, fixedEmbedder{vec: []float32{0.5, 0.25}}, time.Second)
	require.NoError(t, err)
	_, err = idx.Search(context.Background(), "disk", CommandsCollection, 3)
	require.NoError(t, err)
}

func TestChromaIndexMissingCollection(t *testing.T) {
	var lookups atomic.Int32
	srv := newChromaServer(t, &lookups, nil)
	defer srv.Close()

	idx, err := NewChromaIndex(srv.URL, nil, time.Second)
	require.NoError(t, err)
	_, err = idx.Search(context.Background(), "x", QuerySchemaCollection, 3)
	assert.Error(t, err)
}

func TestChromaQueryResponseRagged(t *testing.T) {
	r := chromaQueryResponse{
		IDs:       [][]string{{"a", "b"}},
		Documents: [][]string{{"only a"}},
	}
	got := r.documents()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
