package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresIndex queries the hybrid search SQL functions installed alongside
// the search_entries table. Score fusion (cosine similarity blended with
// trigram overlap) happens inside the database; this client only chooses
// what to send and reads back (answer_id, score) rows.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex creates an index client over an existing pool.
func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

// Search performs one hybrid search call and returns at most limit hits,
// descending by fused score.
func (p *PostgresIndex) Search(ctx context.Context, query string, embedding []float32, limit int) ([]Hit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT answer_id, score FROM match_qa_hybrid($1, $2::vector, $3)`,
		query, vectorLiteral(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return scanHits(rows)
}

// SearchVector performs a dense-vector-only search. Used by the learned
// ranker's feature extraction, not by the serving path.
func (p *PostgresIndex) SearchVector(ctx context.Context, embedding []float32, limit int) ([]Hit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT answer_id, similarity FROM match_qa_vector($1::vector, $2)`,
		vectorLiteral(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return scanHits(rows)
}

// SearchTrigram performs a lexical trigram-only search. Used by the learned
// ranker's feature extraction, not by the serving path.
func (p *PostgresIndex) SearchTrigram(ctx context.Context, query string, limit int) ([]Hit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT answer_id, trigram FROM match_qa_trigram($1, $2)`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("trigram search: %w", err)
	}
	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]Hit, error) {
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.AnswerID, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading hits: %w", err)
	}
	return hits, nil
}

// vectorLiteral renders an embedding as a pgvector input literal.
func vectorLiteral(v []float32) string {
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

// Ensure PostgresIndex implements Index.
var _ Index = (*PostgresIndex)(nil)
