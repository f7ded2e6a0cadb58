package pipeline

import (
	"context"
	"testing"

	"github.com/DPamK/MemoryLoom/agent"
	"github.com/DPamK/MemoryLoom/llm"
	"github.com/DPamK/MemoryLoom/memory"
	"github.com/DPamK/MemoryLoom/prompt"
	"github.com/rs/zerolog"
)

func newRecordAgent(t *testing.T, client llm.Client) *agent.Agent[agent.RecordResult] {
	t.Helper()
	a, err := agent.NewRecordAgent(client, prompt.NewSeededRegistry(), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRecordAgent: %v", err)
	}
	return a
}

func TestIngestorCondensesInput(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	client := llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		return `{"think": "", "record": ["met Bob for coffee", "agreed to review his PR"]}`, nil
	})
	ing := NewIngestor(store, newRecordAgent(t, client), zerolog.Nop())

	ids, err := ing.IngestRecord(ctx, "alice", "long rambling chat transcript about coffee with Bob")
	if err != nil {
		t.Fatalf("IngestRecord: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 condensed records, got %d", len(ids))
	}

	records, err := store.FetchUnconsumedRecords(ctx, "alice", "")
	if err != nil {
		t.Fatalf("FetchUnconsumedRecords: %v", err)
	}
	if len(records) != 2 || records[0].Content != "met Bob for coffee" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestIngestorFallsBackToRawContent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Backend never produces usable output; the raw text must be stored so
	// ingestion does not depend on generation being healthy.
	garbage := llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		return "no json here", nil
	})
	ing := NewIngestor(store, newRecordAgent(t, garbage), zerolog.Nop())

	ids, err := ing.IngestRecord(ctx, "alice", "raw content")
	if err != nil {
		t.Fatalf("IngestRecord: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 raw record, got %d", len(ids))
	}
	records, err := store.FetchUnconsumedRecords(ctx, "alice", "")
	if err != nil {
		t.Fatalf("FetchUnconsumedRecords: %v", err)
	}
	if len(records) != 1 || records[0].Content != "raw content" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestIngestorEmptyRecordListStoresNothing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if _, err := store.CreateUser(ctx, "alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	client := llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		return `{"think": "nothing worth keeping", "record": []}`, nil
	})
	ing := NewIngestor(store, newRecordAgent(t, client), zerolog.Nop())

	ids, err := ing.IngestRecord(ctx, "alice", "uh huh ok")
	if err != nil {
		t.Fatalf("IngestRecord: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no records for empty agent output, got %d", len(ids))
	}
}

func TestIngestorUnknownUser(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store, err := memory.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ing := NewIngestor(store, nil, zerolog.Nop())
	if _, err := ing.IngestRecord(context.Background(), "ghost", "content"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}
