// Package retrieval looks up grounding documents for generation prompts.
package retrieval

import (
	"context"
	"sort"

	"github.com/ent0n29/lia/internal/hostos"
)

// Collection names.
const (
	CommandsCollection    = "commands"
	QuerySchemaCollection = "query-schema"
)

// Metadata describes where a document came from.
type Metadata struct {
	Platform string `json:"platform,omitempty"`
	Table    string `json:"table,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Document is one ranked search hit.
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	// Score is backend specific. Lower means closer for distance based
	// backends; Rank is the comparable ordering.
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Index searches a named collection.
type Index interface {
	Search(ctx context.Context, query, collection string, k int) ([]Document, error)
	Close() error
}

// Ingester is implemented by indexes that can be seeded locally.
type Ingester interface {
	Ingest(ctx context.Context, collection string, docs []Document) error
}

// RerankByPlatform stable-sorts docs so platforms preferred by family come
// first. Unknown platforms sort last. Ties keep their original rank.
func RerankByPlatform(docs []Document, family hostos.Family) []Document {
	priority := family.Platforms()
	score := func(d Document) int {
		p := d.Metadata.Platform
		if p == "" {
			p = "common"
		}
		for i, want := range priority {
			if p == want {
				return i
			}
		}
		return len(priority)
	}
	out := append([]Document(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(out[i]), score(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].Rank < out[j].Rank
	})
	return out
}

// Top returns at most n documents.
func Top(docs []Document, n int) []Document {
	if n < 0 {
		n = 0
	}
	if len(docs) <= n {
		return docs
	}
	return docs[:n]
}

func assignRanks(docs []Document) {
	for i := range docs {
		docs[i].Rank = i
	}
}
