package rerank

import (
	"context"
	"fmt"

	"github.com/abenov/faq/internal/embedder"
	"github.com/abenov/faq/internal/ltr"
	"github.com/abenov/faq/internal/search"
)

// SignalSearcher provides the per-mode retrieval scores the learned model
// consumes as features. *search.PostgresIndex satisfies it.
type SignalSearcher interface {
	SearchVector(ctx context.Context, embedding []float32, limit int) ([]search.Hit, error)
	SearchTrigram(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// ModelArbitrator scores candidates with the learned ranking model instead
// of calling an LLM. Feature extraction reruns the vector and trigram modes
// for the query; the candidate's retrieval score supplies the hybrid
// feature.
type ModelArbitrator struct {
	model    *ltr.Model
	searcher SignalSearcher
	embedder embedder.Embedder
	topK     int
}

// NewModelArbitrator creates an arbitrator over a loaded model.
func NewModelArbitrator(model *ltr.Model, searcher SignalSearcher, emb embedder.Embedder, topK int) *ModelArbitrator {
	if topK <= 0 {
		topK = 20
	}
	return &ModelArbitrator{model: model, searcher: searcher, embedder: emb, topK: topK}
}

var _ Arbitrator = (*ModelArbitrator)(nil)

// Swap replaces the underlying model. Not safe for concurrent use with
// Pick; callers serialize reloads.
func (a *ModelArbitrator) Swap(model *ltr.Model) {
	a.model = model
}

// Pick returns the index of the candidate with the highest predicted
// relevance. Candidates absent from a retrieval mode get a zero for that
// feature.
func (a *ModelArbitrator) Pick(ctx context.Context, query string, cands []Candidate) (int, error) {
	emb, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("embedding query: %w", err)
	}
	vector, err := a.searcher.SearchVector(ctx, emb, a.topK)
	if err != nil {
		return 0, fmt.Errorf("vector signal: %w", err)
	}
	trigram, err := a.searcher.SearchTrigram(ctx, query, a.topK)
	if err != nil {
		return 0, fmt.Errorf("trigram signal: %w", err)
	}

	vectorSim := map[string]float64{}
	for _, h := range vector {
		if _, ok := vectorSim[h.AnswerID]; !ok {
			vectorSim[h.AnswerID] = h.Score
		}
	}
	trigramSim := map[string]float64{}
	for _, h := range trigram {
		if _, ok := trigramSim[h.AnswerID]; !ok {
			trigramSim[h.AnswerID] = h.Score
		}
	}

	best := 0
	bestScore := -1.0
	for i, c := range cands {
		p := a.model.Predict(ltr.FeatureVector{
			VectorSim:   vectorSim[c.AnswerID],
			TrigramSim:  trigramSim[c.AnswerID],
			HybridScore: c.Score,
		})
		if p > bestScore {
			best = i
			bestScore = p
		}
	}
	return best, nil
}
