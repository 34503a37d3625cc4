package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/abenov/faq/internal/auth"
	"github.com/abenov/faq/internal/knowledge"
)

type memStore struct {
	answers map[string]knowledge.Answer
	entries map[string]knowledge.SearchEntry
}

func newMemStore() *memStore {
	return &memStore{
		answers: map[string]knowledge.Answer{},
		entries: map[string]knowledge.SearchEntry{},
	}
}

func (s *memStore) FetchAnswers(_ context.Context, ids []string) (map[string]knowledge.Answer, error) {
	out := map[string]knowledge.Answer{}
	for _, id := range ids {
		if a, ok := s.answers[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (s *memStore) UpsertAnswer(_ context.Context, a knowledge.Answer) error {
	s.answers[a.ID] = a
	return nil
}

func (s *memStore) UpsertSearchEntry(_ context.Context, e knowledge.SearchEntry) error {
	s.entries[e.ID] = e
	return nil
}

var _ knowledge.Store = (*memStore)(nil)

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

func TestSeedStoresAnswersAndEntries(t *testing.T) {
	csvData := "ru,Сколько стоит общежитие?,Общежитие стоит 30000 тенге в семестр.\n" +
		"kk,Кітапхана қашан жабылады?,Кітапхана 22:00-ге дейін жұмыс істейді.,Кітапхана 22:00-ге дейін ашық.\n"

	store := newMemStore()
	n, err := seed(context.Background(), strings.NewReader(csvData), store, fixedEmbedder{}, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("seeded %d rows, want 2", n)
	}
	if len(store.answers) != 2 || len(store.entries) != 2 {
		t.Fatalf("stored %d answers and %d entries, want 2 each", len(store.answers), len(store.entries))
	}

	answerID := knowledge.AnswerID("ru", "Общежитие стоит 30000 тенге в семестр.")
	a, ok := store.answers[answerID]
	if !ok {
		t.Fatal("answer not stored under its content identity")
	}
	if a.Lang != "ru" {
		t.Fatalf("answer lang %q", a.Lang)
	}

	entryID := knowledge.SearchEntryID(answerID, "Сколько стоит общежитие?")
	e, ok := store.entries[entryID]
	if !ok {
		t.Fatal("search entry not stored under its pair identity")
	}
	if e.AnswerID != answerID {
		t.Fatalf("entry points at %q, want %q", e.AnswerID, answerID)
	}
	if len(e.Embedding) != 2 {
		t.Fatalf("entry embedding has %d dims, want 2", len(e.Embedding))
	}
}

func TestSeedRejectsShortRows(t *testing.T) {
	store := newMemStore()
	_, err := seed(context.Background(), strings.NewReader("ru,only two\n"), store, fixedEmbedder{}, nil)
	if err == nil {
		t.Fatal("expected an error for a row with fewer than 3 fields")
	}
}

func TestTokenCommandMintsValidAdminToken(t *testing.T) {
	var out bytes.Buffer
	app := &cli.App{Writer: &out, Commands: []*cli.Command{tokenCommand()}}

	err := app.Run([]string{"faqctl", "token", "--secret", "test-secret", "--subject", "ops", "--role", "admin"})
	if err != nil {
		t.Fatalf("token command: %v", err)
	}

	token := strings.TrimSpace(out.String())
	if token == "" {
		t.Fatal("no token printed")
	}
	claims, err := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret")).ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != "admin" {
		t.Fatalf("claims subject %q role %q", claims.Subject, claims.Role)
	}
}
