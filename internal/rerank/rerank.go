// Package rerank chooses the final answer from a deduplicated candidate
// pool. A confident top-1 is accepted outright; otherwise an Arbitrator
// (an LLM judge or the learned ranking model) breaks the near-tie, with
// the top-scored candidate as the fallback when arbitration fails.
package rerank

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoCandidates is returned when Rerank is called with an empty pool.
var ErrNoCandidates = errors.New("rerank: no candidates")

// Candidate is one reranking input. Pools are ordered by descending
// retrieval score.
type Candidate struct {
	AnswerID string
	Score    float64
	Content  string
}

// Arbitrator picks the best candidate index from a near-tied pool.
type Arbitrator interface {
	Pick(ctx context.Context, query string, cands []Candidate) (int, error)
}

const (
	// DefaultMinTop is the top-1 score below which arbitration is consulted.
	DefaultMinTop = 0.55
	// DefaultMinGap is the top-1/top-2 margin below which arbitration is
	// consulted.
	DefaultMinGap = 0.03
)

// Reranker applies the confident-shortcut policy in front of an Arbitrator.
type Reranker struct {
	arb    Arbitrator
	minTop float64
	minGap float64
	logger *slog.Logger
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithThresholds overrides the shortcut thresholds.
func WithThresholds(minTop, minGap float64) Option {
	return func(r *Reranker) {
		r.minTop = minTop
		r.minGap = minGap
	}
}

// WithLogger sets the Reranker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reranker over the given arbitrator.
func New(arb Arbitrator, opts ...Option) *Reranker {
	r := &Reranker{
		arb:    arb,
		minTop: DefaultMinTop,
		minGap: DefaultMinGap,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank returns the index of the chosen candidate. The pool must be sorted
// by descending score. Arbitration runs only when the top candidate is not
// confidently ahead; any arbitration failure falls back to index 0.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []Candidate) (int, error) {
	if len(cands) == 0 {
		return 0, ErrNoCandidates
	}
	if len(cands) == 1 {
		return 0, nil
	}

	top := cands[0].Score
	gap := top - cands[1].Score
	if top >= r.minTop && gap >= r.minGap {
		return 0, nil
	}

	idx, err := r.arb.Pick(ctx, query, cands)
	if err != nil {
		r.logger.Warn("arbitration failed, keeping top candidate", "error", err)
		return 0, nil
	}
	if idx < 0 || idx >= len(cands) {
		r.logger.Warn("arbitration picked out-of-range index, keeping top candidate", "index", idx, "candidates", len(cands))
		return 0, nil
	}
	return idx, nil
}
