package rerank

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/abenov/faq/internal/llm"
)

const (
	// maxCandidateChars bounds how much of each answer goes into the
	// arbitration prompt.
	maxCandidateChars = 500

	arbitrationSystemPrompt = "You pick the single answer that best matches a user's question. Reply with a number only."
)

var numberRE = regexp.MustCompile(`\d+`)

// LLMArbitrator asks a chat model to choose between numbered candidates.
type LLMArbitrator struct {
	client llm.LLM
	opts   llm.GenerateOptions
}

// NewLLMArbitrator creates an arbitrator over the given client. The model
// runs at temperature 0 so repeated calls on the same pool agree.
func NewLLMArbitrator(client llm.LLM, model string) *LLMArbitrator {
	return &LLMArbitrator{
		client: client,
		opts: llm.GenerateOptions{
			Model:        model,
			SystemPrompt: arbitrationSystemPrompt,
			Temperature:  0,
			MaxTokens:    8,
		},
	}
}

var _ Arbitrator = (*LLMArbitrator)(nil)

// Pick returns the zero-based index of the candidate the model selects.
// Unparseable or out-of-range replies are errors; the caller decides the
// fallback.
func (a *LLMArbitrator) Pick(ctx context.Context, query string, cands []Candidate) (int, error) {
	reply, err := a.client.Generate(ctx, buildArbitrationPrompt(query, cands), a.opts)
	if err != nil {
		return 0, fmt.Errorf("arbitration request: %w", err)
	}

	match := numberRE.FindString(reply)
	if match == "" {
		return 0, fmt.Errorf("no candidate number in reply %q", reply)
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("parsing candidate number %q: %w", match, err)
	}
	if n < 1 || n > len(cands) {
		return 0, fmt.Errorf("candidate number %d out of range 1..%d", n, len(cands))
	}
	return n - 1, nil
}

func buildArbitrationPrompt(query string, cands []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nCandidate answers:\n", query)
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s\n", i+1, truncate(c.Content, maxCandidateChars))
	}
	fmt.Fprintf(&b, "\nWhich candidate answers the question best? Return ONLY the number (1..%d).", len(cands))
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
