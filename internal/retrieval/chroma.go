package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ChromaIndex queries a Chroma server over its REST API.
type ChromaIndex struct {
	client   *resty.Client
	embedder Embedder

	mu  sync.Mutex
	ids map[string]string
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaQueryRequest struct {
	QueryTexts      []string    `json:"query_texts,omitempty"`
	QueryEmbeddings [][]float32 `json:"query_embeddings,omitempty"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

// NewChromaIndex returns an index for baseURL. When embedder is nil the
// server embeds query text itself.
func NewChromaIndex(baseURL string, embedder Embedder, timeout time.Duration) (*ChromaIndex, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("chroma url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChromaIndex{
		client:   resty.New().SetBaseURL(baseURL).SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		embedder: embedder,
		ids:      make(map[string]string),
	}, nil
}

// Heartbeat checks that the server is reachable.
func (c *ChromaIndex) Heartbeat(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/api/v1/heartbeat")
	if err != nil {
		return fmt.Errorf("chroma heartbeat: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("chroma heartbeat returned %d", resp.StatusCode())
	}
	return nil
}

func (c *ChromaIndex) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.ids[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var col chromaCollection
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&col).
		Get("/api/v1/collections/" + url.PathEscape(name))
	if err != nil {
		return "", fmt.Errorf("chroma get collection %s: %w", name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("chroma get collection %s returned %d: %s", name, resp.StatusCode(), resp.String())
	}
	if col.ID == "" {
		return "", fmt.Errorf("chroma collection %s has no id", name)
	}

	c.mu.Lock()
	c.ids[name] = col.ID
	c.mu.Unlock()
	return col.ID, nil
}

func (c *ChromaIndex) Search(ctx context.Context, query, collection string, k int) ([]Document, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	id, err := c.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	req := chromaQueryRequest{
		NResults: k,
		Include:  []string{"documents", "metadatas", "distances"},
	}
	if c.embedder != nil {
		vec, err := c.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		req.QueryEmbeddings = [][]float32{vec}
	} else {
		req.QueryTexts = []string{query}
	}

	var out chromaQueryResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/v1/collections/" + url.PathEscape(id) + "/query")
	if err != nil {
		return nil, fmt.Errorf("chroma query: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("chroma query returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out.documents(), nil
}

// documents flattens the first result set. The parallel arrays may be
// ragged, so every index is bounds checked.
func (r chromaQueryResponse) documents() []Document {
	if len(r.IDs) == 0 {
		return nil
	}
	ids := r.IDs[0]
	docs := make([]Document, 0, len(ids))
	for i, id := range ids {
		d := Document{ID: id, Rank: i}
		if len(r.Documents) > 0 && i < len(r.Documents[0]) {
			d.Text = r.Documents[0][i]
		}
		if len(r.Metadatas) > 0 && i < len(r.Metadatas[0]) {
			d.Metadata = metadataFromMap(r.Metadatas[0][i])
		}
		if len(r.Distances) > 0 && i < len(r.Distances[0]) {
			d.Score = r.Distances[0][i]
		}
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		docs = append(docs, d)
	}
	assignRanks(docs)
	return docs
}

func metadataFromMap(m map[string]any) Metadata {
	str := func(key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}
	md := Metadata{Platform: str("platform"), Table: str("table"), Source: str("source")}
	if md.Table == "" {
		md.Table = str("table_name")
	}
	return md
}

func (c *ChromaIndex) Close() error { return nil }
