// Package service orchestrates the full question-answering flow: query
// variant generation, retrieval, follow-up resolution, candidate
// selection, reranking, grounded generation and verification.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abenov/faq/internal/embedder"
	"github.com/abenov/faq/internal/followup"
	"github.com/abenov/faq/internal/history"
	"github.com/abenov/faq/internal/knowledge"
	"github.com/abenov/faq/internal/lang"
	"github.com/abenov/faq/internal/llm"
	"github.com/abenov/faq/internal/query"
	"github.com/abenov/faq/internal/rerank"
	"github.com/abenov/faq/internal/search"
)

const (
	// DefaultSimNoAnswer is the retrieval score under which the service
	// refuses instead of answering.
	DefaultSimNoAnswer = 0.38
	// DefaultMaxUnique is the candidate pool size after deduplication.
	DefaultMaxUnique = 6
)

// Request is one user question within an optional conversation.
type Request struct {
	ConversationID string
	Text           string
}

// Response is the final outcome of a question.
type Response struct {
	Answer   string
	AnswerID string
	Lang     lang.Language
	Score    float64
	// Rewritten is true when the question was resolved as a follow-up and
	// retrieval ran on the rewritten form.
	Rewritten bool
	// ResolvedQuery is the query retrieval actually used.
	ResolvedQuery string
}

// AskService wires the pipeline stages together.
type AskService struct {
	generator *query.Generator
	retriever *search.Retriever
	embedder  embedder.Embedder
	store     knowledge.Store
	reranker  *rerank.Reranker
	resolver  *followup.Resolver
	history   history.Store
	llm       llm.LLM
	chatModel string

	simNoAnswer float64
	maxUnique   int
	logger      *slog.Logger
}

// Option configures an AskService.
type Option func(*AskService)

// WithRefusalThreshold overrides the minimum retrieval score for answering.
func WithRefusalThreshold(v float64) Option {
	return func(s *AskService) { s.simNoAnswer = v }
}

// WithMaxUnique overrides the candidate pool size.
func WithMaxUnique(n int) Option {
	return func(s *AskService) {
		if n > 0 {
			s.maxUnique = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *AskService) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an AskService.
func New(
	generator *query.Generator,
	retriever *search.Retriever,
	emb embedder.Embedder,
	store knowledge.Store,
	reranker *rerank.Reranker,
	resolver *followup.Resolver,
	hist history.Store,
	client llm.LLM,
	chatModel string,
	opts ...Option,
) *AskService {
	s := &AskService{
		generator:   generator,
		retriever:   retriever,
		embedder:    emb,
		store:       store,
		reranker:    reranker,
		resolver:    resolver,
		history:     hist,
		llm:         client,
		chatModel:   chatModel,
		simNoAnswer: DefaultSimNoAnswer,
		maxUnique:   DefaultMaxUnique,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask answers one question. Retrieval and storage failures are returned as
// errors; LLM failures degrade to the best retrieved answer so a model
// outage never blanks the service.
func (s *AskService) Ask(ctx context.Context, req Request) (Response, error) {
	language := lang.Detect(req.Text)
	resp := Response{Lang: language, ResolvedQuery: req.Text}

	// One embedding per distinct text per request.
	cache := search.NewEmbedCache(s.embedder)

	variants := s.generator.Candidates(req.Text)
	result, err := s.retriever.BestVariant(ctx, cache, variants)
	if err != nil {
		return resp, fmt.Errorf("retrieving: %w", err)
	}

	historyText, err := s.historyText(ctx, req.ConversationID)
	if err != nil {
		s.logger.Warn("reading history", "error", err)
		historyText = ""
	}

	if resolved, rewritten := s.resolver.Resolve(ctx, req.Text, result.TopScore, historyText); rewritten {
		rewrittenResult, err := s.retriever.BestVariant(ctx, cache, s.generator.Candidates(resolved))
		if err != nil {
			return resp, fmt.Errorf("retrieving rewritten query: %w", err)
		}
		// Keep whichever interpretation retrieved better.
		if rewrittenResult.TopScore > result.TopScore {
			result = rewrittenResult
			resp.Rewritten = true
			resp.ResolvedQuery = resolved
		}
	}
	resp.Score = result.TopScore

	// Refusals are not recorded: an empty conversation stays empty until
	// an exchange actually answers something.
	if len(result.Hits) == 0 || result.TopScore < s.simNoAnswer {
		resp.Answer = lang.NotFound(language)
		return resp, nil
	}

	selected := search.SelectCandidates(result.Hits, s.maxUnique)
	candidates, err := s.loadCandidates(ctx, selected)
	if err != nil {
		return resp, err
	}
	if len(candidates) == 0 {
		resp.Answer = lang.NotFound(language)
		return resp, nil
	}

	// Arbitration and generation see the question as the user asked it;
	// only retrieval runs on the rewritten form.
	chosen, err := s.reranker.Rerank(ctx, req.Text, candidates)
	if err != nil {
		return resp, fmt.Errorf("reranking: %w", err)
	}
	resp.AnswerID = candidates[chosen].AnswerID
	resp.Score = candidates[chosen].Score

	resp.Answer = s.compose(ctx, req.Text, historyText, language, candidates, chosen)
	s.remember(ctx, req, resp.Answer)
	return resp, nil
}

// ClearConversation forgets a conversation's transcript.
func (s *AskService) ClearConversation(ctx context.Context, conversationID string) error {
	return s.history.Clear(ctx, conversationID)
}

// loadCandidates resolves selected hits into rerank candidates, dropping
// hits whose answers are no longer in the knowledge base.
func (s *AskService) loadCandidates(ctx context.Context, hits []search.Hit) ([]rerank.Candidate, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.AnswerID
	}
	answers, err := s.store.FetchAnswers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching answers: %w", err)
	}

	candidates := make([]rerank.Candidate, 0, len(hits))
	for _, h := range hits {
		a, ok := answers[h.AnswerID]
		if !ok {
			s.logger.Warn("hit without a stored answer", "answer_id", h.AnswerID)
			continue
		}
		candidates = append(candidates, rerank.Candidate{
			AnswerID: h.AnswerID,
			Score:    h.Score,
			Content:  a.Content(),
		})
	}
	return candidates, nil
}

// compose generates a grounded answer and verifies it against the
// candidate pool. Generation failure or a failed verification falls back
// to the chosen answer verbatim.
func (s *AskService) compose(ctx context.Context, q, historyText string, language lang.Language, candidates []rerank.Candidate, chosen int) string {
	// The chosen answer leads the knowledge section.
	blocks := make([]string, 0, len(candidates))
	blocks = append(blocks, candidates[chosen].Content)
	for i, c := range candidates {
		if i != chosen {
			blocks = append(blocks, c.Content)
		}
	}

	generated, err := s.llm.Generate(ctx, buildAnswerPrompt(q, historyText, blocks), llm.GenerateOptions{
		Model:        s.chatModel,
		SystemPrompt: answerSystemPrompt(language),
		Temperature:  0.2,
		MaxTokens:    512,
	})
	if err != nil {
		s.logger.Warn("answer generation failed, serving retrieved answer", "error", err)
		return candidates[chosen].Content
	}
	// A generated refusal is trivially supported.
	if strings.TrimSpace(generated) == lang.NotFound(language) {
		return generated
	}

	verdict, err := s.llm.Generate(ctx, buildVerifierPrompt(generated, blocks), llm.GenerateOptions{
		Model:        s.chatModel,
		SystemPrompt: verifierSystemPrompt,
		Temperature:  0,
		MaxTokens:    4,
	})
	if err != nil {
		s.logger.Warn("verification failed, keeping generated answer", "error", err)
		return generated
	}
	if !isSupported(verdict) {
		s.logger.Info("generated answer rejected by verifier", "query", q)
		return candidates[chosen].Content
	}
	return generated
}

func (s *AskService) historyText(ctx context.Context, conversationID string) (string, error) {
	if conversationID == "" {
		return "", nil
	}
	msgs, err := s.history.Messages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return history.FormatForPrompt(msgs), nil
}

func (s *AskService) remember(ctx context.Context, req Request, answer string) {
	if req.ConversationID == "" {
		return
	}
	if err := s.history.Append(ctx, req.ConversationID, req.Text, answer); err != nil {
		s.logger.Warn("appending history", "error", err)
	}
}
