// Package followup detects when a new message depends on the conversation
// so far ("what about them?", "а подробнее?") and rewrites it into a
// standalone question before retrieval runs again.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abenov/faq/internal/llm"
)

const (
	// DefaultMinScore is the retrieval score under which a message is
	// suspected of being a follow-up.
	DefaultMinScore = 0.55
	// DefaultMaxWords is the length under which short messages are
	// suspected of being follow-ups.
	DefaultMaxWords = 8

	classifierSystemPrompt = "You decide whether a chat message depends on earlier conversation context. Answer strictly YES or NO."
	rewriterSystemPrompt   = "You rewrite chat messages into standalone questions. Keep the user's language. Output only the rewritten question."
)

// cuePhrases mark messages that lean on prior context regardless of score
// or length. Lowercase; matched as substrings.
var cuePhrases = []string{
	// Russian
	"они", "это", "там", "про них", "про это", "а что", "а если", "подробнее", "еще раз", "ещё раз",
	// Kazakh
	"олар", "бұл", "сол", "ол туралы", "тағы", "толығырақ",
	// English
	"what about", "tell me more", "about it", "about them", "and then", "more details",
}

// Resolver classifies and rewrites follow-up messages.
type Resolver struct {
	client   llm.LLM
	model    string
	minScore float64
	maxWords int
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTriggers overrides the score floor and word-count ceiling that make a
// message a follow-up suspect.
func WithTriggers(minScore float64, maxWords int) Option {
	return func(r *Resolver) {
		r.minScore = minScore
		r.maxWords = maxWords
	}
}

// WithLogger sets the Resolver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver using the given chat model.
func NewResolver(client llm.LLM, model string, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		model:    model,
		minScore: DefaultMinScore,
		maxWords: DefaultMaxWords,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the query to retrieve with and whether it was rewritten.
// With no history the message cannot be a follow-up and comes back
// unchanged. Classifier or rewriter failures also fall back to the
// original message; a degraded answer beats no answer.
func (r *Resolver) Resolve(ctx context.Context, query string, topScore float64, historyText string) (string, bool) {
	if strings.TrimSpace(historyText) == "" {
		return query, false
	}
	if !r.suspect(query, topScore) {
		return query, false
	}

	dependent, err := r.classify(ctx, query, historyText)
	if err != nil {
		r.logger.Warn("follow-up classification failed", "error", err)
		return query, false
	}
	if !dependent {
		return query, false
	}

	rewritten, err := r.rewrite(ctx, query, historyText)
	if err != nil {
		r.logger.Warn("follow-up rewrite failed", "error", err)
		return query, false
	}
	if strings.TrimSpace(rewritten) == "" {
		return query, false
	}
	return strings.TrimSpace(rewritten), true
}

// suspect reports whether the message should be checked with the
// classifier at all. Cheap gates run first so confident full questions
// never cost an extra LLM round trip.
func (r *Resolver) suspect(query string, topScore float64) bool {
	if topScore < r.minScore {
		return true
	}
	if wordCount(query) <= r.maxWords {
		return true
	}
	lowered := strings.ToLower(query)
	for _, cue := range cuePhrases {
		if strings.Contains(lowered, cue) {
			return true
		}
	}
	return false
}

func (r *Resolver) classify(ctx context.Context, query, historyText string) (bool, error) {
	prompt := fmt.Sprintf(
		"Conversation so far:\n%s\n\nNew message: %s\n\nDoes the new message depend on the conversation above to be understood? Answer strictly YES or NO.",
		historyText, query,
	)
	verdict, err := r.client.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        r.model,
		SystemPrompt: classifierSystemPrompt,
		Temperature:  0,
		MaxTokens:    4,
	})
	if err != nil {
		return false, err
	}
	return isAffirmative(verdict), nil
}

func (r *Resolver) rewrite(ctx context.Context, query, historyText string) (string, error) {
	prompt := fmt.Sprintf(
		"Conversation so far:\n%s\n\nThe user's last message: %s\n\nRewrite the last message as a complete standalone question in the same language, filling in what it refers to. Output only the question.",
		historyText, query,
	)
	return r.client.Generate(ctx, prompt, llm.GenerateOptions{
		Model:        r.model,
		SystemPrompt: rewriterSystemPrompt,
		Temperature:  0,
		MaxTokens:    128,
	})
}

// isAffirmative accepts verdicts that start with an affirmative token in
// any of the supported languages.
func isAffirmative(verdict string) bool {
	v := strings.ToUpper(strings.TrimSpace(verdict))
	for _, prefix := range []string{"YES", "ДА", "ИӘ", "ИА"} {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
