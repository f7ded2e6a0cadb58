package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/DPamK/MemoryLoom/memory"
	"github.com/DPamK/MemoryLoom/migrations"
	"github.com/DPamK/MemoryLoom/pipeline"
	"github.com/DPamK/MemoryLoom/retrieval"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

type fixedOracle struct {
	err error
}

func (o fixedOracle) Score(ctx context.Context, query string, docs []string) ([]retrieval.DocScore, error) {
	if o.err != nil {
		return nil, o.err
	}
	scores := make([]retrieval.DocScore, len(docs))
	for i := range docs {
		scores[i] = retrieval.DocScore{Index: i, Score: 1.0}
	}
	return scores, nil
}

func newTestServer(t *testing.T, oracle retrieval.Oracle) (*Server, *memory.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := migrations.RunMigrations(db, filepath.Join(cwd, "..", "migrations"), zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// nil record agent: ingestion stores raw content, no generation backend
	// needed in handler tests.
	ingestor := pipeline.NewIngestor(store, nil, zerolog.Nop())
	fuser := retrieval.NewFuser(store, oracle, retrieval.DefaultOptions(), zerolog.Nop())
	return New("localhost:0", store, ingestor, fuser, zerolog.Nop()), store
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServerUserLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, fixedOracle{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/users/alice/exists", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("exists status = %d", rec.Code)
	}
	var exists bool
	if err := json.Unmarshal(rec.Body.Bytes(), &exists); err != nil {
		t.Fatalf("decode exists: %v", err)
	}
	if exists {
		t.Error("alice should not exist yet")
	}

	rec = postJSON(t, handler, "/users/", map[string]string{"username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create user status = %d, body %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/users/alice/exists", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &exists); err != nil {
		t.Fatalf("decode exists: %v", err)
	}
	if !exists {
		t.Error("alice should exist after creation")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestServerRecord(t *testing.T) {
	srv, store := newTestServer(t, fixedOracle{})
	handler := srv.Handler()

	// Unknown user fails with 404.
	rec := postJSON(t, handler, "/record", map[string]string{"context": "hello", "username": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("record for unknown user: status = %d, want 404", rec.Code)
	}

	rec = postJSON(t, handler, "/users/", map[string]string{"username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create user status = %d", rec.Code)
	}
	rec = postJSON(t, handler, "/record", map[string]string{"context": "walked the dog", "username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("record status = %d, body %s", rec.Code, rec.Body)
	}

	records, err := store.FetchUnconsumedRecords(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("FetchUnconsumedRecords: %v", err)
	}
	if len(records) != 1 || records[0].Content != "walked the dog" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestServerRecordValidation(t *testing.T) {
	srv, _ := newTestServer(t, fixedOracle{})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/record", map[string]string{"context": "", "username": "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty context: status = %d, want 400", rec.Code)
	}
	rec = postJSON(t, handler, "/users/", map[string]string{"username": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty username: status = %d, want 400", rec.Code)
	}
}

func TestServerLongTerm(t *testing.T) {
	srv, store := newTestServer(t, fixedOracle{})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/users/", map[string]string{"username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create user status = %d", rec.Code)
	}
	rec = postJSON(t, handler, "/longterm", map[string]string{"memory_text": "allergic to peanuts", "username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("longterm status = %d, body %s", rec.Code, rec.Body)
	}

	facts, err := store.LatestFacts(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("LatestFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "allergic to peanuts" {
		t.Fatalf("unexpected facts: %+v", facts)
	}
}

func TestServerRetrieve(t *testing.T) {
	srv, store := newTestServer(t, fixedOracle{})
	handler := srv.Handler()

	rec := postJSON(t, handler, "/retrieve", map[string]any{"query": "dog", "topk": 5, "username": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("retrieve for unknown user: status = %d, want 404", rec.Code)
	}

	ctx := context.Background()
	if _, err := store.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.AppendRecord(ctx, "alice", "walked the dog"); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if _, err := store.AppendLongTermFact(ctx, "alice", "owns a dog"); err != nil {
		t.Fatalf("AppendLongTermFact: %v", err)
	}

	rec = postJSON(t, handler, "/retrieve", map[string]any{"query": "dog", "topk": 5, "username": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve status = %d, body %s", rec.Code, rec.Body)
	}
	var resp retrieval.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0] != "walked the dog" {
		t.Errorf("records = %v", resp.Records)
	}
	if len(resp.LongTerm) != 1 || resp.LongTerm[0] != "owns a dog" {
		t.Errorf("longterm = %v", resp.LongTerm)
	}
}

func TestServerRetrieveOracleFailure(t *testing.T) {
	srv, store := newTestServer(t, fixedOracle{err: context.DeadlineExceeded})
	handler := srv.Handler()

	ctx := context.Background()
	if _, err := store.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.AppendRecord(ctx, "alice", "something"); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}

	rec := postJSON(t, handler, "/retrieve", map[string]any{"query": "q", "topk": 5, "username": "alice"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("retrieve with dead oracle: status = %d, want 502", rec.Code)
	}
}
