// Package search provides clients for the hybrid search index and the
// candidate handling around it: per-variant retrieval, request-scoped
// embedding reuse, and deduplication of hits to unique answers.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/abenov/faq/internal/embedder"
)

// Hit is one scored search result. Score is the fused relevance score
// computed by the index backend; the pipeline treats it as opaque but
// monotonic (higher is better).
type Hit struct {
	AnswerID string
	Score    float64
}

// Index is the hybrid similarity-search capability. Implementations issue
// one backend call per Search invocation and return at most limit hits in
// descending score order. Errors propagate; implementations never return
// partial results silently.
type Index interface {
	Search(ctx context.Context, query string, embedding []float32, limit int) ([]Hit, error)
}

// SelectCandidates deduplicates hits by answer identity, keeping the
// maximum score observed per answer, ordered by score descending with ties
// broken by first-seen order. At most maxUnique hits are returned.
func SelectCandidates(hits []Hit, maxUnique int) []Hit {
	type entry struct {
		best  Hit
		order int
	}
	byID := make(map[string]*entry, len(hits))
	var ordered []*entry
	for i, h := range hits {
		if e, ok := byID[h.AnswerID]; ok {
			if h.Score > e.best.Score {
				e.best.Score = h.Score
			}
			continue
		}
		e := &entry{best: h, order: i}
		byID[h.AnswerID] = e
		ordered = append(ordered, e)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].best.Score != ordered[j].best.Score {
			return ordered[i].best.Score > ordered[j].best.Score
		}
		return ordered[i].order < ordered[j].order
	})

	if maxUnique > 0 && len(ordered) > maxUnique {
		ordered = ordered[:maxUnique]
	}
	out := make([]Hit, len(ordered))
	for i, e := range ordered {
		out[i] = e.best
	}
	return out
}

// EmbedCache memoizes embeddings by exact query text. It is request-scoped:
// a fresh cache is created per incoming question so the literal pass and a
// follow-up rewrite pass reuse variant embeddings without holding state
// across requests. Not safe for concurrent use; the pipeline is sequential
// within a request.
type EmbedCache struct {
	embedder embedder.Embedder
	vectors  map[string][]float32
}

// NewEmbedCache creates an empty cache over the given embedder.
func NewEmbedCache(e embedder.Embedder) *EmbedCache {
	return &EmbedCache{embedder: e, vectors: make(map[string][]float32)}
}

// Embed returns the embedding for text, calling the underlying embedder at
// most once per distinct text.
func (c *EmbedCache) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.vectors[text]; ok {
		return v, nil
	}
	v, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.vectors[text] = v
	return v, nil
}

// Result is the outcome of retrieving over a set of query variants.
type Result struct {
	// Query is the variant whose hit list won.
	Query string
	// Hits is the winning variant's full hit list, descending by score.
	Hits []Hit
	// TopScore is the fused score of the winning variant's best hit, or 0
	// when every variant came back empty.
	TopScore float64
}

// Retriever runs the search index over query variants and keeps the
// best-scoring variant's result set.
type Retriever struct {
	index Index
	topK  int
}

// NewRetriever creates a Retriever fetching up to topK hits per variant.
func NewRetriever(index Index, topK int) *Retriever {
	if topK <= 0 {
		topK = 20
	}
	return &Retriever{index: index, topK: topK}
}

// BestVariant embeds and searches each variant in order and returns the
// variant whose top hit scored highest. A retrieval failure on any variant
// aborts the whole pass; fallback policy belongs to the caller.
func (r *Retriever) BestVariant(ctx context.Context, cache *EmbedCache, variants []string) (Result, error) {
	if len(variants) == 0 {
		return Result{}, nil
	}
	best := Result{TopScore: -1}
	for _, q := range variants {
		vec, err := cache.Embed(ctx, q)
		if err != nil {
			return Result{}, fmt.Errorf("embedding variant %q: %w", q, err)
		}
		hits, err := r.index.Search(ctx, q, vec, r.topK)
		if err != nil {
			return Result{}, fmt.Errorf("searching variant %q: %w", q, err)
		}
		score := 0.0
		if len(hits) > 0 {
			score = hits[0].Score
		}
		if score > best.TopScore {
			best = Result{Query: q, Hits: hits, TopScore: score}
		}
	}
	return best, nil
}
