package ltr

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abenov/faq/internal/search"
)

func TestPredictMonotonicInWeights(t *testing.T) {
	m := &Model{Weights: [NumFeatures]float64{1, 1, 1}}

	low := m.Predict(FeatureVector{VectorSim: 0.1, TrigramSim: 0.1, HybridScore: 0.1})
	high := m.Predict(FeatureVector{VectorSim: 0.9, TrigramSim: 0.9, HybridScore: 0.9})

	if low >= high {
		t.Fatalf("expected higher features to score higher, got low=%f high=%f", low, high)
	}
	if low <= 0 || high >= 1 {
		t.Fatalf("predictions must stay in (0,1), got %f and %f", low, high)
	}
}

func TestTrainSeparable(t *testing.T) {
	var examples []Example
	for i := 0; i < 20; i++ {
		q := "query" + string(rune('a'+i))
		examples = append(examples,
			Example{Query: q, GoldAnswerID: "gold", CandidateID: "gold", Label: 1,
				Features: FeatureVector{VectorSim: 0.9, TrigramSim: 0.8, HybridScore: 0.9}},
			Example{Query: q, GoldAnswerID: "gold", CandidateID: "other", Label: 0,
				Features: FeatureVector{VectorSim: 0.2, TrigramSim: 0.1, HybridScore: 0.2}},
		)
	}

	m, report, err := Train(examples, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	pos := m.Predict(FeatureVector{VectorSim: 0.9, TrigramSim: 0.8, HybridScore: 0.9})
	neg := m.Predict(FeatureVector{VectorSim: 0.2, TrigramSim: 0.1, HybridScore: 0.2})
	if pos <= neg {
		t.Fatalf("trained model does not separate classes: pos=%f neg=%f", pos, neg)
	}
	if report.AUC != 1 {
		t.Fatalf("expected perfect AUC on separable held-out data, got %f", report.AUC)
	}
}

func TestSplitByGroupKeepsGroupsIntact(t *testing.T) {
	var examples []Example
	for i := 0; i < 10; i++ {
		q := "query" + string(rune('a'+i))
		for j := 0; j < 3; j++ {
			examples = append(examples, Example{
				Query:        q,
				GoldAnswerID: "gold",
				CandidateID:  "cand" + string(rune('0'+j)),
			})
		}
	}

	train, test := SplitByGroup(examples, 0.3, 7)
	if len(train)+len(test) != len(examples) {
		t.Fatalf("split lost examples: %d + %d != %d", len(train), len(test), len(examples))
	}
	if len(test) == 0 {
		t.Fatal("expected a non-empty test partition")
	}

	trainGroups := map[string]struct{}{}
	for _, ex := range train {
		trainGroups[ex.GroupKey()] = struct{}{}
	}
	for _, ex := range test {
		if _, ok := trainGroups[ex.GroupKey()]; ok {
			t.Fatalf("group %q appears in both partitions", ex.GroupKey())
		}
	}
}

func TestSplitByGroupDeterministic(t *testing.T) {
	var examples []Example
	for i := 0; i < 10; i++ {
		examples = append(examples, Example{Query: "q" + string(rune('a'+i)), GoldAnswerID: "g"})
	}

	_, test1 := SplitByGroup(examples, 0.3, 42)
	_, test2 := SplitByGroup(examples, 0.3, 42)
	if len(test1) != len(test2) {
		t.Fatalf("same seed produced different splits: %d vs %d", len(test1), len(test2))
	}
	for i := range test1 {
		if test1[i].GroupKey() != test2[i].GroupKey() {
			t.Fatal("same seed produced different test groups")
		}
	}
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name   string
		labels []int
		scores []float64
		want   float64
	}{
		{"perfect", []int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []int{0, 0, 1, 1}, []float64{0.9, 0.8, 0.2, 0.1}, 0},
		{"all ties", []int{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"single class", []int{1, 1}, []float64{0.3, 0.7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AUC(tt.labels, tt.scores)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("AUC = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestModelSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	m := &Model{Weights: [NumFeatures]float64{0.5, -0.2, 1.3}, Bias: -0.7, Trained: 42}

	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if *loaded != *m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", loaded, m)
	}

	f := FeatureVector{VectorSim: 0.4, TrigramSim: 0.6, HybridScore: 0.5}
	if loaded.Predict(f) != m.Predict(f) {
		t.Fatal("loaded model predicts differently")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected an error for a missing model file")
	}
}

type stubSearcher struct {
	hybrid  []search.Hit
	vector  []search.Hit
	trigram []search.Hit
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ []float32, _ int) ([]search.Hit, error) {
	return s.hybrid, nil
}

func (s *stubSearcher) SearchVector(_ context.Context, _ []float32, _ int) ([]search.Hit, error) {
	return s.vector, nil
}

func (s *stubSearcher) SearchTrigram(_ context.Context, _ string, _ int) ([]search.Hit, error) {
	return s.trigram, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fixedEmbedder) Dimension() int    { return 2 }
func (fixedEmbedder) ModelName() string { return "fixed" }

func TestBuildOuterJoinsRetrievalModes(t *testing.T) {
	searcher := &stubSearcher{
		hybrid:  []search.Hit{{AnswerID: "a", Score: 0.9}, {AnswerID: "b", Score: 0.5}},
		vector:  []search.Hit{{AnswerID: "a", Score: 0.8}},
		trigram: []search.Hit{{AnswerID: "c", Score: 0.4}},
	}
	b := NewDatasetBuilder(searcher, fixedEmbedder{}, WithWorkers(1))

	var buf bytes.Buffer
	pairs := []QueryGold{{Query: "dorm price", GoldAnswerID: "a"}}
	if err := b.Build(context.Background(), pairs, &buf, nil, true); err != nil {
		t.Fatalf("Build: %v", err)
	}

	examples, err := ReadExamples(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadExamples: %v", err)
	}
	if len(examples) != 3 {
		t.Fatalf("expected 3 joined candidates, got %d", len(examples))
	}

	byID := map[string]Example{}
	for _, ex := range examples {
		byID[ex.CandidateID] = ex
	}

	a := byID["a"]
	if a.Label != 1 {
		t.Fatalf("gold candidate labeled %d", a.Label)
	}
	if a.Features.VectorSim != 0.8 || a.Features.HybridScore != 0.9 || a.Features.TrigramSim != 0 {
		t.Fatalf("wrong features for a: %+v", a.Features)
	}

	c := byID["c"]
	if c.Label != 0 || c.Features.TrigramSim != 0.4 || c.Features.VectorSim != 0 {
		t.Fatalf("wrong row for trigram-only candidate: %+v", c)
	}
}

func TestBuildSkipsProcessedGroups(t *testing.T) {
	searcher := &stubSearcher{hybrid: []search.Hit{{AnswerID: "a", Score: 0.9}}}
	b := NewDatasetBuilder(searcher, fixedEmbedder{}, WithWorkers(1))

	done := map[string]struct{}{"dorm price||a": {}}
	var buf bytes.Buffer
	pairs := []QueryGold{{Query: "dorm price", GoldAnswerID: "a"}}
	if err := b.Build(context.Background(), pairs, &buf, done, true); err != nil {
		t.Fatalf("Build: %v", err)
	}

	examples, err := ReadExamples(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadExamples: %v", err)
	}
	if len(examples) != 0 {
		t.Fatalf("expected processed group to be skipped, got %d rows", len(examples))
	}
}
