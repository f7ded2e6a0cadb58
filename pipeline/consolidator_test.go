package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DPamK/MemoryLoom/llm"
	"github.com/DPamK/MemoryLoom/memory"
	"github.com/DPamK/MemoryLoom/migrations"
	"github.com/DPamK/MemoryLoom/prompt"
	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory database and runs migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	migrationsPath := filepath.Join(cwd, "..", "migrations")

	if err := migrations.RunMigrations(db, migrationsPath, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// stageClient answers every stage prompt with a payload that satisfies all
// three result schemas.
func stageClient() llm.Client {
	return llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		return `{"think": "t", "summary": "the summary", "facts": ["knows Go"], "streamline": "the gist"}`, nil
	})
}

func newTestConsolidator(t *testing.T, store *memory.Store, client llm.Client) *Consolidator {
	t.Helper()
	agents, err := NewAgents(client, prompt.NewSeededRegistry(), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAgents: %v", err)
	}
	c, err := NewConsolidator(store, agents, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConsolidator: %v", err)
	}
	return c
}

// insertRecordAt backdates a short-term record; the store only appends at the
// current wall clock.
func insertRecordAt(t *testing.T, db *sql.DB, userID, content string, at time.Time) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO short_memory (user_id, content, created_at, consumed) VALUES (?, ?, ?, 0)`,
		userID, content, at.Unix())
	if err != nil {
		t.Fatalf("insert backdated record: %v", err)
	}
}

func pinClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := clockNow
	clockNow = func() time.Time { return at }
	t.Cleanup(func() { clockNow = prev })
}

func TestConsolidatorRunPassCascades(t *testing.T) {
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
	day := time.Date(2021, time.August, 16, 0, 0, 0, 0, time.UTC)
	insertRecordAt(t, db, "alice", "morning standup", day.Add(9*time.Hour))
	insertRecordAt(t, db, "alice", "shipped the release", day.Add(15*time.Hour))
	insertRecordAt(t, db, "alice", "evening run", day.Add(19*time.Hour))

	// Far enough in the future that day, week, month, and year are all closed.
	pinClock(t, time.Date(2023, time.March, 1, 12, 0, 0, 0, time.UTC))

	c := newTestConsolidator(t, store, stageClient())
	if err := c.RunPass(ctx, "alice"); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	// Records all consumed into one day summary.
	records, err := store.FetchUnconsumedRecords(ctx, "alice", "")
	if err != nil {
		t.Fatalf("FetchUnconsumedRecords: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected all records consumed, %d remain", len(records))
	}

	// The day summary rolls up through week and month within the same pass.
	for _, tc := range []struct {
		tier   memory.Tier
		period string
	}{
		{memory.TierDay, "2021-08-16"},
		{memory.TierWeek, "2021-W33"},
		{memory.TierMonth, "2021-08"},
		{memory.TierYear, "2021"},
	} {
		summaries, err := store.LatestSummaries(ctx, "alice", tc.tier, 10)
		if err != nil {
			t.Fatalf("LatestSummaries(%s): %v", tc.tier, err)
		}
		if len(summaries) != 1 {
			t.Fatalf("expected 1 %s summary, got %d", tc.tier, len(summaries))
		}
		if summaries[0].Period != tc.period {
			t.Errorf("%s period = %q, want %q", tc.tier, summaries[0].Period, tc.period)
		}
	}

	// Facts extracted at the day stage landed in long-term memory.
	facts, err := store.LatestFacts(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("LatestFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "knows Go" {
		t.Fatalf("unexpected facts: %+v", facts)
	}
}

func TestConsolidatorSkipsOpenPeriods(t *testing.T) {
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
	now := time.Date(2021, time.August, 16, 12, 0, 0, 0, time.UTC)
	insertRecordAt(t, db, "alice", "lunch meeting", now.Add(-time.Hour))
	pinClock(t, now)

	calls := 0
	client := llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		calls++
		return `{"think": "", "summary": "s", "facts": [], "streamline": "x"}`, nil
	})
	c := newTestConsolidator(t, store, client)
	if err := c.RunPass(ctx, "alice"); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	if calls != 0 {
		t.Errorf("agent invoked %d times for an open period, want 0", calls)
	}
	records, err := store.FetchUnconsumedRecords(ctx, "alice", "")
	if err != nil {
		t.Fatalf("FetchUnconsumedRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the open-period record to stay unconsumed, got %d", len(records))
	}
}

func TestConsolidatorLeavesInputsOnNoResult(t *testing.T) {
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
	insertRecordAt(t, db, "alice", "old record",
		time.Date(2021, time.August, 16, 10, 0, 0, 0, time.UTC))
	pinClock(t, time.Date(2021, time.September, 1, 0, 0, 0, 0, time.UTC))

	// The backend never yields valid output: the pass completes without error
	// and the inputs stay unconsumed for the next pass.
	garbage := llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		return "not json", nil
	})
	c := newTestConsolidator(t, store, garbage)
	if err := c.RunPass(ctx, "alice"); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	records, err := store.FetchUnconsumedRecords(ctx, "alice", "")
	if err != nil {
		t.Fatalf("FetchUnconsumedRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected record to stay unconsumed, got %d", len(records))
	}
	summaries, err := store.LatestSummaries(ctx, "alice", memory.TierDay, 10)
	if err != nil {
		t.Fatalf("LatestSummaries: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no day summary, got %d", len(summaries))
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("10m"); err != nil {
		t.Errorf("duration schedule: %v", err)
	}
	if _, err := ParseSchedule("*/15 * * * *"); err != nil {
		t.Errorf("cron schedule: %v", err)
	}
	if _, err := ParseSchedule("@hourly"); err != nil {
		t.Errorf("descriptor schedule: %v", err)
	}
	if _, err := ParseSchedule("not a schedule"); err == nil {
		t.Error("expected error for garbage schedule")
	}
	if _, err := ParseSchedule(""); err == nil {
		t.Error("expected error for empty schedule")
	}

	sched, err := ParseSchedule("30m")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	base := time.Date(2021, time.August, 16, 12, 0, 0, 0, time.UTC)
	if next := sched.Next(base); next.Sub(base) != 30*time.Minute {
		t.Errorf("next fire %s, want 30m after base", next)
	}
}
