package ltr

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/abenov/faq/internal/embedder"
	"github.com/abenov/faq/internal/search"
)

// csvHeader is the dataset column order. ReadExamples rejects files that do
// not start with it.
var csvHeader = []string{"query", "gold_answer_id", "cand_answer_id", "vector_sim", "trigram_sim", "hybrid_score", "label"}

// FeatureSearcher exposes the three retrieval signals the feature vector is
// built from. *search.PostgresIndex satisfies it.
type FeatureSearcher interface {
	Search(ctx context.Context, query string, embedding []float32, limit int) ([]search.Hit, error)
	SearchVector(ctx context.Context, embedding []float32, limit int) ([]search.Hit, error)
	SearchTrigram(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// QueryGold is one labeled query from the evaluation log.
type QueryGold struct {
	Query        string
	GoldAnswerID string
}

// DatasetBuilder turns labeled queries into feature rows by running all
// three retrieval modes and outer-joining their hits by answer id.
type DatasetBuilder struct {
	searcher FeatureSearcher
	embedder embedder.Embedder
	topK     int
	workers  int
	logger   *slog.Logger
}

// BuilderOption configures a DatasetBuilder.
type BuilderOption func(*DatasetBuilder)

// WithTopK sets how many hits each retrieval mode contributes per query.
func WithTopK(k int) BuilderOption {
	return func(b *DatasetBuilder) {
		if k > 0 {
			b.topK = k
		}
	}
}

// WithWorkers sets how many queries are processed concurrently.
func WithWorkers(n int) BuilderOption {
	return func(b *DatasetBuilder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the builder's logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *DatasetBuilder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewDatasetBuilder creates a builder with topK 20 and 4 workers.
func NewDatasetBuilder(s FeatureSearcher, e embedder.Embedder, opts ...BuilderOption) *DatasetBuilder {
	b := &DatasetBuilder{
		searcher: s,
		embedder: e,
		topK:     20,
		workers:  4,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build extracts feature rows for every pair not already in done and
// appends them to w as CSV. Pairs that fail are logged and skipped so a
// long run survives transient retrieval errors; the done set (keyed by
// GroupKey) makes reruns resumable. writeHeader should be true when w is a
// fresh file.
func (b *DatasetBuilder) Build(ctx context.Context, pairs []QueryGold, w io.Writer, done map[string]struct{}, writeHeader bool) error {
	cw := csv.NewWriter(w)
	if writeHeader {
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("writing dataset header: %w", err)
		}
	}

	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	for _, pair := range pairs {
		key := pair.Query + "||" + pair.GoldAnswerID
		if _, ok := done[key]; ok {
			continue
		}
		pair := pair
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			rows, err := b.featureRows(ctx, pair)
			if err != nil {
				b.logger.Warn("skipping query", "query", pair.Query, "error", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, ex := range rows {
				if err := cw.Write(exampleRecord(ex)); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			cw.Flush()
		}); err != nil {
			wg.Done()
			return fmt.Errorf("submitting query to pool: %w", err)
		}
	}
	wg.Wait()

	cw.Flush()
	if firstErr != nil {
		return fmt.Errorf("writing dataset rows: %w", firstErr)
	}
	return cw.Error()
}

// featureRows runs the three retrieval modes for one query and joins them
// into labeled examples.
func (b *DatasetBuilder) featureRows(ctx context.Context, pair QueryGold) ([]Example, error) {
	emb, err := b.embedder.Embed(ctx, pair.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hybrid, err := b.searcher.Search(ctx, pair.Query, emb, b.topK)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	vector, err := b.searcher.SearchVector(ctx, emb, b.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	trigram, err := b.searcher.SearchTrigram(ctx, pair.Query, b.topK)
	if err != nil {
		return nil, fmt.Errorf("trigram search: %w", err)
	}

	features := map[string]*FeatureVector{}
	at := func(id string) *FeatureVector {
		f, ok := features[id]
		if !ok {
			f = &FeatureVector{}
			features[id] = f
		}
		return f
	}
	for _, h := range vector {
		at(h.AnswerID).VectorSim = h.Score
	}
	for _, h := range trigram {
		at(h.AnswerID).TrigramSim = h.Score
	}
	for _, h := range hybrid {
		at(h.AnswerID).HybridScore = h.Score
	}

	examples := make([]Example, 0, len(features))
	for id, f := range features {
		label := 0
		if id == pair.GoldAnswerID {
			label = 1
		}
		examples = append(examples, Example{
			Query:        pair.Query,
			GoldAnswerID: pair.GoldAnswerID,
			CandidateID:  id,
			Features:     *f,
			Label:        label,
		})
	}
	return examples, nil
}

func exampleRecord(ex Example) []string {
	return []string{
		ex.Query,
		ex.GoldAnswerID,
		ex.CandidateID,
		strconv.FormatFloat(ex.Features.VectorSim, 'g', -1, 64),
		strconv.FormatFloat(ex.Features.TrigramSim, 'g', -1, 64),
		strconv.FormatFloat(ex.Features.HybridScore, 'g', -1, 64),
		strconv.Itoa(ex.Label),
	}
}

// ReadExamples parses a dataset written by Build.
func ReadExamples(r io.Reader) ([]Example, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading dataset header: %w", err)
	}
	if len(header) != len(csvHeader) || header[0] != csvHeader[0] {
		return nil, fmt.Errorf("unexpected dataset header %v", header)
	}

	var examples []Example
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading dataset row: %w", err)
		}
		ex, err := parseRecord(rec)
		if err != nil {
			return nil, err
		}
		examples = append(examples, ex)
	}
	return examples, nil
}

// ProcessedGroups returns the GroupKeys already present in a dataset,
// letting an interrupted Build resume where it stopped.
func ProcessedGroups(r io.Reader) (map[string]struct{}, error) {
	examples, err := ReadExamples(r)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(examples))
	for _, ex := range examples {
		done[ex.GroupKey()] = struct{}{}
	}
	return done, nil
}

func parseRecord(rec []string) (Example, error) {
	if len(rec) != len(csvHeader) {
		return Example{}, fmt.Errorf("dataset row has %d fields, want %d", len(rec), len(csvHeader))
	}
	vs, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return Example{}, fmt.Errorf("parsing vector_sim: %w", err)
	}
	ts, err := strconv.ParseFloat(rec[4], 64)
	if err != nil {
		return Example{}, fmt.Errorf("parsing trigram_sim: %w", err)
	}
	hs, err := strconv.ParseFloat(rec[5], 64)
	if err != nil {
		return Example{}, fmt.Errorf("parsing hybrid_score: %w", err)
	}
	label, err := strconv.Atoi(rec[6])
	if err != nil {
		return Example{}, fmt.Errorf("parsing label: %w", err)
	}
	return Example{
		Query:        rec[0],
		GoldAnswerID: rec[1],
		CandidateID:  rec[2],
		Features:     FeatureVector{VectorSim: vs, TrigramSim: ts, HybridScore: hs},
		Label:        label,
	}, nil
}
