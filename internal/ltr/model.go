// Package ltr implements the learned ranking model: a binary classifier
// over three retrieval features (vector similarity, trigram similarity,
// fused hybrid score) trained offline on logged candidate pools and used
// online to arbitrate between near-tied candidates.
//
// The feature schema is a wire contract: the order [vector_sim,
// trigram_sim, hybrid_score] must be identical between the dataset export
// and online scoring.
package ltr

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
)

// NumFeatures is the size of the feature vector.
const NumFeatures = 3

// FeatureVector is the exact 3-feature candidate representation.
type FeatureVector struct {
	VectorSim   float64 `json:"vector_sim"`
	TrigramSim  float64 `json:"trigram_sim"`
	HybridScore float64 `json:"hybrid_score"`
}

func (f FeatureVector) values() [NumFeatures]float64 {
	return [NumFeatures]float64{f.VectorSim, f.TrigramSim, f.HybridScore}
}

// Example is one labeled training row: a candidate sampled for a query with
// a known gold answer.
type Example struct {
	Query        string
	GoldAnswerID string
	CandidateID  string
	Features     FeatureVector
	Label        int // 1 when CandidateID == GoldAnswerID
}

// GroupKey identifies the (query, gold answer) pool an example belongs to.
// Train/test splitting never separates a group, which would leak candidates
// of the same query across the partition boundary.
func (e Example) GroupKey() string {
	return e.Query + "||" + e.GoldAnswerID
}

// Model is a logistic regression over the 3-feature vector.
type Model struct {
	Weights [NumFeatures]float64 `json:"weights"`
	Bias    float64              `json:"bias"`

	// Trained records the dataset size the weights were fit on, for
	// operational visibility only.
	Trained int `json:"trained_examples,omitempty"`
}

// Predict returns the relevance probability in [0,1] for a candidate's
// feature vector. Deterministic and cheap: this runs on the serving path.
func (m *Model) Predict(f FeatureVector) float64 {
	z := m.Bias
	for i, v := range f.values() {
		z += m.Weights[i] * v
	}
	return sigmoid(z)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Save writes the model as JSON.
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing model file: %w", err)
	}
	return nil
}

// Load reads a model written by Save.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model file: %w", err)
	}
	return &m, nil
}

// TrainOptions configures offline training.
type TrainOptions struct {
	Epochs       int     // full passes over the training partition
	LearningRate float64 // gradient step size
	L2           float64 // ridge penalty on weights (not bias)
	TestFraction float64 // fraction of groups held out for evaluation
	Seed         int64   // shuffling seed, fixed for reproducible splits
}

// DefaultTrainOptions mirror the offline research setup.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Epochs:       2000,
		LearningRate: 0.1,
		L2:           1e-4,
		TestFraction: 0.2,
		Seed:         42,
	}
}

// Report summarizes a training run.
type Report struct {
	TrainExamples int
	TestExamples  int
	TestGroups    int
	AUC           float64
}

// Train fits a logistic regression with full-batch gradient descent on a
// group-split partition of the examples and evaluates ROC-AUC on the
// held-out groups.
func Train(examples []Example, opts TrainOptions) (*Model, Report, error) {
	if len(examples) == 0 {
		return nil, Report{}, fmt.Errorf("no training examples")
	}
	if opts.Epochs <= 0 || opts.LearningRate <= 0 {
		return nil, Report{}, fmt.Errorf("epochs and learning rate must be positive")
	}

	train, test := SplitByGroup(examples, opts.TestFraction, opts.Seed)
	if len(train) == 0 {
		return nil, Report{}, fmt.Errorf("group split left no training examples")
	}

	m := &Model{Trained: len(train)}
	n := float64(len(train))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		var gradW [NumFeatures]float64
		var gradB float64
		for _, ex := range train {
			p := m.Predict(ex.Features)
			diff := p - float64(ex.Label)
			for i, v := range ex.Features.values() {
				gradW[i] += diff * v
			}
			gradB += diff
		}
		for i := range m.Weights {
			m.Weights[i] -= opts.LearningRate * (gradW[i]/n + opts.L2*m.Weights[i])
		}
		m.Bias -= opts.LearningRate * gradB / n
	}

	report := Report{
		TrainExamples: len(train),
		TestExamples:  len(test),
	}
	if len(test) > 0 {
		groups := map[string]struct{}{}
		labels := make([]int, len(test))
		scores := make([]float64, len(test))
		for i, ex := range test {
			labels[i] = ex.Label
			scores[i] = m.Predict(ex.Features)
			groups[ex.GroupKey()] = struct{}{}
		}
		report.TestGroups = len(groups)
		report.AUC = AUC(labels, scores)
	}
	return m, report, nil
}

// SplitByGroup partitions examples so that no (query, gold answer) group
// appears on both sides. The group order is shuffled deterministically by
// seed before taking the test fraction.
func SplitByGroup(examples []Example, testFraction float64, seed int64) (train, test []Example) {
	if testFraction <= 0 {
		return examples, nil
	}

	var keys []string
	seen := map[string]struct{}{}
	for _, ex := range examples {
		k := ex.GroupKey()
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	nTest := int(float64(len(keys)) * testFraction)
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= len(keys) {
		nTest = len(keys) - 1
	}
	if nTest < 1 {
		return examples, nil
	}

	testKeys := make(map[string]struct{}, nTest)
	for _, k := range keys[:nTest] {
		testKeys[k] = struct{}{}
	}

	for _, ex := range examples {
		if _, ok := testKeys[ex.GroupKey()]; ok {
			test = append(test, ex)
		} else {
			train = append(train, ex)
		}
	}
	return train, test
}

// AUC computes the ROC-AUC of scores against binary labels using the
// rank-sum formulation, with average ranks for tied scores. Returns 0 when
// only one class is present.
func AUC(labels []int, scores []float64) float64 {
	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(labels))
	var pos, neg int
	for i := range labels {
		pairs[i] = pair{scores[i], labels[i]}
		if labels[i] == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Sum positive ranks, averaging ranks across tie runs.
	var rankSum float64
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].label == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}

	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}
