// Package knowledge defines the knowledge base domain model: canonical
// answers and the search entries pointing at them, both content-addressed
// so re-ingestion updates instead of duplicating.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/abenov/faq/internal/lang"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Answer is one canonical piece of knowledge content. Answers are created
// and updated by ingestion; the serving path only reads them.
type Answer struct {
	// ID is the stable content-addressed identity (see AnswerID).
	ID string

	Lang lang.Language

	// Text is the raw answer as ingested.
	Text string

	// CleanText is the optional normalized rendering preferred for
	// prompting and display.
	CleanText string

	// Metadata carries provenance, confidence, topical keys.
	Metadata map[string]string
}

// Content returns the cleaned text when present, otherwise the raw text.
func (a Answer) Content() string {
	if s := strings.TrimSpace(a.CleanText); s != "" {
		return s
	}
	return strings.TrimSpace(a.Text)
}

// SearchEntry is a query form (paraphrase, alias, canonical phrasing)
// pointing at one answer, with its precomputed embedding.
type SearchEntry struct {
	// ID is the content-addressed identity (see SearchEntryID).
	ID string

	AnswerID   string
	Lang       lang.Language
	SearchText string
	Weight     float64
	Embedding  []float32
}

// AnswerID derives the stable identity for answer content: a SHA-256 over
// the language tag and the canonicalized text. Identical normalized content
// in the same language always maps to the same identity.
func AnswerID(l lang.Language, text string) string {
	return hashFields(string(l), canonical(text))
}

// SearchEntryID derives the identity of a search entry from its target
// answer and its canonicalized query text, so re-ingesting the same pair
// updates rather than duplicates.
func SearchEntryID(answerID, searchText string) string {
	return hashFields(answerID, canonical(searchText))
}

// canonical lowercases and collapses all whitespace so formatting noise
// does not change identities.
func canonical(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func hashFields(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store is the knowledge base access interface. FetchAnswers omits missing
// identities from the result rather than failing; the upserts are used by
// ingestion tooling only.
type Store interface {
	FetchAnswers(ctx context.Context, ids []string) (map[string]Answer, error)
	UpsertAnswer(ctx context.Context, a Answer) error
	UpsertSearchEntry(ctx context.Context, e SearchEntry) error
}
