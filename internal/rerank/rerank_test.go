package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/abenov/faq/internal/llm"
	"github.com/abenov/faq/internal/ltr"
	"github.com/abenov/faq/internal/search"
)

type recordingArbitrator struct {
	idx   int
	err   error
	calls int
}

func (a *recordingArbitrator) Pick(_ context.Context, _ string, _ []Candidate) (int, error) {
	a.calls++
	return a.idx, a.err
}

func TestRerankConfidentTopSkipsArbitration(t *testing.T) {
	arb := &recordingArbitrator{idx: 1}
	r := New(arb)

	cands := []Candidate{
		{AnswerID: "a", Score: 0.80},
		{AnswerID: "b", Score: 0.40},
	}
	idx, err := r.Rerank(context.Background(), "dorm price", cands)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected confident top candidate, got index %d", idx)
	}
	if arb.calls != 0 {
		t.Fatalf("arbitrator called %d times for a confident pool", arb.calls)
	}
}

func TestRerankNearTieConsultsArbitrator(t *testing.T) {
	arb := &recordingArbitrator{idx: 2}
	r := New(arb)

	cands := []Candidate{
		{AnswerID: "a", Score: 0.56},
		{AnswerID: "b", Score: 0.55},
		{AnswerID: "c", Score: 0.54},
	}
	idx, err := r.Rerank(context.Background(), "dorm price", cands)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if arb.calls != 1 {
		t.Fatalf("expected one arbitration call, got %d", arb.calls)
	}
	if idx != 2 {
		t.Fatalf("expected the arbitrator's pick, got index %d", idx)
	}
}

func TestRerankLowTopConsultsArbitrator(t *testing.T) {
	arb := &recordingArbitrator{idx: 1}
	r := New(arb)

	// Wide gap but the top score is below the confidence floor.
	cands := []Candidate{
		{AnswerID: "a", Score: 0.50},
		{AnswerID: "b", Score: 0.30},
	}
	idx, err := r.Rerank(context.Background(), "dorm price", cands)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if arb.calls != 1 {
		t.Fatal("expected arbitration for a low-confidence top candidate")
	}
	if idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
}

func TestRerankSingleCandidate(t *testing.T) {
	arb := &recordingArbitrator{idx: 0}
	r := New(arb)

	idx, err := r.Rerank(context.Background(), "q", []Candidate{{AnswerID: "a", Score: 0.10}})
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if idx != 0 || arb.calls != 0 {
		t.Fatalf("single candidate must win without arbitration, idx=%d calls=%d", idx, arb.calls)
	}
}

func TestRerankEmptyPool(t *testing.T) {
	r := New(&recordingArbitrator{})
	if _, err := r.Rerank(context.Background(), "q", nil); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestRerankArbitrationErrorFallsBackToTop(t *testing.T) {
	arb := &recordingArbitrator{err: errors.New("model unavailable")}
	r := New(arb)

	cands := []Candidate{
		{AnswerID: "a", Score: 0.50},
		{AnswerID: "b", Score: 0.49},
	}
	idx, err := r.Rerank(context.Background(), "q", cands)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected fallback to top candidate, got %d", idx)
	}
}

type scriptedLLM struct {
	reply  string
	prompt string
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	s.prompt = prompt
	return s.reply, nil
}

func TestLLMArbitratorParsesNumber(t *testing.T) {
	client := &scriptedLLM{reply: "The best answer is 2."}
	arb := NewLLMArbitrator(client, "gpt-4o-mini")

	cands := []Candidate{
		{AnswerID: "a", Content: "Dorm costs 30000 tenge per semester."},
		{AnswerID: "b", Content: "Dorm applications open in August."},
		{AnswerID: "c", Content: "The library is open until 22:00."},
	}
	idx, err := arb.Pick(context.Background(), "when do dorm applications open", cands)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
}

func TestLLMArbitratorOutOfRange(t *testing.T) {
	client := &scriptedLLM{reply: "7"}
	arb := NewLLMArbitrator(client, "gpt-4o-mini")

	cands := []Candidate{
		{AnswerID: "a", Content: "x"},
		{AnswerID: "b", Content: "y"},
		{AnswerID: "c", Content: "z"},
	}
	if _, err := arb.Pick(context.Background(), "q", cands); err == nil {
		t.Fatal("expected an error for an out-of-range pick")
	}
}

func TestLLMArbitratorUnparseableReply(t *testing.T) {
	client := &scriptedLLM{reply: "none of them"}
	arb := NewLLMArbitrator(client, "gpt-4o-mini")

	cands := []Candidate{{AnswerID: "a", Content: "x"}, {AnswerID: "b", Content: "y"}}
	if _, err := arb.Pick(context.Background(), "q", cands); err == nil {
		t.Fatal("expected an error for an unparseable reply")
	}
}

func TestLLMArbitratorTruncatesLongCandidates(t *testing.T) {
	client := &scriptedLLM{reply: "1"}
	arb := NewLLMArbitrator(client, "gpt-4o-mini")

	long := make([]rune, 2000)
	for i := range long {
		long[i] = 'щ'
	}
	cands := []Candidate{{AnswerID: "a", Content: string(long)}, {AnswerID: "b", Content: "short"}}
	if _, err := arb.Pick(context.Background(), "q", cands); err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got := len([]rune(client.prompt)); got > 1200 {
		t.Fatalf("prompt not truncated, %d runes", got)
	}
}

type signalStub struct {
	vector  []search.Hit
	trigram []search.Hit
}

func (s *signalStub) SearchVector(_ context.Context, _ []float32, _ int) ([]search.Hit, error) {
	return s.vector, nil
}

func (s *signalStub) SearchTrigram(_ context.Context, _ string, _ int) ([]search.Hit, error) {
	return s.trigram, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1}, nil }
func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}
func (unitEmbedder) Dimension() int    { return 1 }
func (unitEmbedder) ModelName() string { return "unit" }

func TestModelArbitratorPicksHighestPrediction(t *testing.T) {
	// Positive weights make prediction monotonic in every feature.
	model := &ltr.Model{Weights: [ltr.NumFeatures]float64{2, 1, 2}}
	searcher := &signalStub{
		vector:  []search.Hit{{AnswerID: "b", Score: 0.9}, {AnswerID: "a", Score: 0.3}},
		trigram: []search.Hit{{AnswerID: "b", Score: 0.7}},
	}
	arb := NewModelArbitrator(model, searcher, unitEmbedder{}, 20)

	cands := []Candidate{
		{AnswerID: "a", Score: 0.52},
		{AnswerID: "b", Score: 0.51},
	}
	idx, err := arb.Pick(context.Background(), "q", cands)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected the feature-dominant candidate, got %d", idx)
	}
}
