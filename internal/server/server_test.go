package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abenov/faq/internal/auth"
	"github.com/abenov/faq/internal/followup"
	"github.com/abenov/faq/internal/history"
	"github.com/abenov/faq/internal/knowledge"
	"github.com/abenov/faq/internal/llm"
	"github.com/abenov/faq/internal/query"
	"github.com/abenov/faq/internal/rerank"
	"github.com/abenov/faq/internal/search"
	"github.com/abenov/faq/internal/service"
)

type fakeIndex struct {
	hits map[string][]search.Hit
	err  error
}

func (f *fakeIndex) Search(_ context.Context, q string, _ []float32, _ int) ([]search.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits[q], nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1}, nil }
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}
func (fakeEmbedder) Dimension() int    { return 1 }
func (fakeEmbedder) ModelName() string { return "fake" }

type fakeStore struct {
	answers map[string]knowledge.Answer
}

func (f *fakeStore) FetchAnswers(_ context.Context, ids []string) (map[string]knowledge.Answer, error) {
	out := map[string]knowledge.Answer{}
	for _, id := range ids {
		if a, ok := f.answers[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}
func (f *fakeStore) UpsertAnswer(context.Context, knowledge.Answer) error           { return nil }
func (f *fakeStore) UpsertSearchEntry(context.Context, knowledge.SearchEntry) error { return nil }

type echoLLM struct{}

func (echoLLM) Generate(_ context.Context, _ string, opts llm.GenerateOptions) (string, error) {
	switch {
	case strings.Contains(opts.SystemPrompt, "YES or NO"):
		return "NO", nil
	case strings.Contains(opts.SystemPrompt, "SUPPORTED"):
		return "SUPPORTED", nil
	default:
		return "Dorm costs 30000 tenge per semester.", nil
	}
}

type topArbitrator struct{}

func (topArbitrator) Pick(_ context.Context, _ string, _ []rerank.Candidate) (int, error) {
	return 0, nil
}

func newTestServer(t *testing.T, index *fakeIndex, cfg HTTPServerConfig) *HTTPServer {
	t.Helper()
	hist := history.NewMemoryStore()
	t.Cleanup(hist.Close)

	store := &fakeStore{answers: map[string]knowledge.Answer{
		"dorm": {ID: "dorm", Lang: "en", Text: "Dorm costs 30000 tenge per semester."},
	}}
	svc := service.New(
		query.NewGenerator(query.DefaultRules()),
		search.NewRetriever(index, 20),
		fakeEmbedder{},
		store,
		rerank.New(topArbitrator{}),
		followup.NewResolver(echoLLM{}, "test-model"),
		hist,
		echoLLM{},
		"test-model",
	)
	if cfg.JWTManager == nil {
		cfg.JWTManager = auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	}
	return NewHTTPServer(svc, cfg)
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAskEndpoint(t *testing.T) {
	index := &fakeIndex{hits: map[string][]search.Hit{
		"how much is the dorm": {{AnswerID: "dorm", Score: 0.81}},
	}}
	srv := newTestServer(t, index, HTTPServerConfig{})

	rec := postJSON(t, srv.Router(), "/v1/ask", askRequest{Question: "how much is the dorm"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "Dorm costs 30000 tenge per semester." {
		t.Fatalf("answer %q", resp.Answer)
	}
	if resp.Language != "en" || resp.AnswerID != "dorm" {
		t.Fatalf("lang %q answer_id %q", resp.Language, resp.AnswerID)
	}
}

func TestAskEmptyTextRejected(t *testing.T) {
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{})

	rec := postJSON(t, srv.Router(), "/v1/ask", askRequest{Question: "   "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestAskInvalidBodyRejected(t *testing.T) {
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestAskPipelineFailureAnswersWithApology(t *testing.T) {
	index := &fakeIndex{err: errors.New("db down")}
	srv := newTestServer(t, index, HTTPServerConfig{})

	rec := postJSON(t, srv.Router(), "/v1/ask", askRequest{Question: "how much is the dorm"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer == "" || resp.AnswerID != "" {
		t.Fatalf("expected an apology without an answer id, got %+v", resp)
	}
}

func TestAskRequiresAPIKeyWhenConfigured(t *testing.T) {
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{APIKey: "secret"})

	rec := postJSON(t, srv.Router(), "/v1/ask", askRequest{Question: "hello"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}

	rec = postJSON(t, srv.Router(), "/v1/ask", askRequest{Question: "hello"}, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
}

func TestClearConversationEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/conversations/c1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestModelReloadRequiresJWT(t *testing.T) {
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{
		ReloadModel: func() error { return nil },
	})

	rec := postJSON(t, srv.Router(), "/v1/admin/model/reload", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestModelReload(t *testing.T) {
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	reloaded := false
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{
		JWTManager:  manager,
		ReloadModel: func() error { reloaded = true; return nil },
	})

	token, err := manager.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	rec := postJSON(t, srv.Router(), "/v1/admin/model/reload", nil, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !reloaded {
		t.Fatal("reload hook not invoked")
	}
}

func TestModelReloadWithoutModelArbitrator(t *testing.T) {
	manager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{JWTManager: manager})

	token, err := manager.GenerateToken("admin", "admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	rec := postJSON(t, srv.Router(), "/v1/admin/model/reload", nil, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeIndex{}, HTTPServerConfig{APIKey: "secret"})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status %d", path, rec.Code)
		}
	}
}
