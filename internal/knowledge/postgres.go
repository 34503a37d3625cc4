package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abenov/faq/internal/lang"
)

// PostgresStore implements Store on the answers / search_entries tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// FetchAnswers resolves answer identities to their content. Identities not
// present in the knowledge base are simply absent from the result.
func (s *PostgresStore) FetchAnswers(ctx context.Context, ids []string) (map[string]Answer, error) {
	if len(ids) == 0 {
		return map[string]Answer{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT answer_id, lang, answer, answer_clean, metadata
		FROM qa_answers
		WHERE answer_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching answers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Answer, len(ids))
	for rows.Next() {
		var a Answer
		var langTag string
		var metadataJSON []byte
		if err := rows.Scan(&a.ID, &langTag, &a.Text, &a.CleanText, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		a.Lang = lang.Language(langTag)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling answer metadata: %w", err)
			}
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}
	return out, nil
}

// UpsertAnswer inserts or updates an answer keyed by its content identity.
func (s *PostgresStore) UpsertAnswer(ctx context.Context, a Answer) error {
	if a.ID == "" {
		a.ID = AnswerID(a.Lang, a.Text)
	}
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling answer metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO qa_answers (answer_id, lang, answer, answer_clean, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (answer_id) DO UPDATE
		SET lang = EXCLUDED.lang,
		    answer = EXCLUDED.answer,
		    answer_clean = EXCLUDED.answer_clean,
		    metadata = EXCLUDED.metadata,
		    updated_at = NOW()
	`, a.ID, string(a.Lang), a.Text, a.CleanText, metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting answer: %w", err)
	}
	return nil
}

// UpsertSearchEntry inserts or updates a search entry keyed by its
// (answer, query text) identity.
func (s *PostgresStore) UpsertSearchEntry(ctx context.Context, e SearchEntry) error {
	if e.ID == "" {
		e.ID = SearchEntryID(e.AnswerID, e.SearchText)
	}
	if e.Weight == 0 {
		e.Weight = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO search_entries (entry_id, answer_id, lang, search_text, weight, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, NOW(), NOW())
		ON CONFLICT (entry_id) DO UPDATE
		SET lang = EXCLUDED.lang,
		    search_text = EXCLUDED.search_text,
		    weight = EXCLUDED.weight,
		    embedding = EXCLUDED.embedding,
		    updated_at = NOW()
	`, e.ID, e.AnswerID, string(e.Lang), e.SearchText, e.Weight, embeddingLiteral(e.Embedding))
	if err != nil {
		return fmt.Errorf("upserting search entry: %w", err)
	}
	return nil
}

func embeddingLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
