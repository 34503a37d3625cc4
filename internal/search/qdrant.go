package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
	"unicode"

	"github.com/qdrant/go-client/qdrant"
)

const (
	collectionName   = "qa_index"
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
	answerIDPayload  = "answer_id"
)

// QdrantIndex is an alternative search index backed by Qdrant, fusing a
// dense query vector with a sparse lexical vector via RRF. Deployments
// without the Postgres hybrid functions (local development, evaluations)
// can point the service here instead.
type QdrantIndex struct {
	client *qdrant.Client
}

// NewQdrantIndex connects to Qdrant at addr ("host:port", gRPC).
func NewQdrantIndex(addr string) (*QdrantIndex, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant addr: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	return &QdrantIndex{client: client}, nil
}

// Close closes the underlying connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the hybrid collection if it does not exist yet.
func (s *QdrantIndex) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	return nil
}

// Upsert writes search entries into the collection. pointID must be a UUID;
// the answer identity travels in the payload.
func (s *QdrantIndex) Upsert(ctx context.Context, pointID, answerID, searchText string, embedding []float32) error {
	sparse := sparseTermVector(searchText)
	point := &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(pointID),
		Payload: map[string]*qdrant.Value{
			answerIDPayload: qdrant.NewValueString(answerID),
			"search_text":   qdrant.NewValueString(searchText),
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{
					Vectors: map[string]*qdrant.Vector{
						denseVectorName: {Data: embedding},
						sparseVectorName: {
							Indices: &qdrant.SparseIndices{Data: sparse.Indices},
							Data:    sparse.Values,
						},
					},
				},
			},
		},
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upserting point: %w", err)
	}
	return nil
}

// Search fuses dense and sparse retrieval with RRF and returns at most
// limit hits, descending by fused score.
func (s *QdrantIndex) Search(ctx context.Context, query string, embedding []float32, limit int) ([]Hit, error) {
	prefetchLimit := uint64(limit * 2)

	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(embedding),
			Using: qdrant.PtrOf(denseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		},
	}
	if sparse := sparseTermVector(query); len(sparse.Indices) > 0 {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query: qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
			Using: qdrant.PtrOf(sparseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		})
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant hybrid search: %w", err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		h := Hit{Score: float64(point.Score)}
		if payload := point.Payload; payload != nil {
			if id, ok := payload[answerIDPayload]; ok {
				h.AnswerID = id.GetStringValue()
			}
		}
		if h.AnswerID == "" {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

type sparseVector struct {
	Indices []uint32
	Values  []float32
}

// sparseTermVector hashes lowercase word tokens into a bag-of-words sparse
// vector. The same function is used at indexing and query time, so exact
// token overlap is what the sparse side of the fusion rewards.
func sparseTermVector(text string) sparseVector {
	counts := make(map[uint32]float32)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(tok) < 2 {
			continue
		}
		counts[fnv32(tok)]++
	}

	sv := sparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx, n := range counts {
		sv.Indices = append(sv.Indices, idx)
		sv.Values = append(sv.Values, n)
	}
	return sv
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Ensure QdrantIndex implements Index.
var _ Index = (*QdrantIndex)(nil)
