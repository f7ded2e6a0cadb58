package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store manages all tiered memory persistence. It is the only shared mutable
// resource in the pipeline; all cross-tier consumption goes through
// CommitConsolidation, which is transactional.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "memory_store").Logger()
	logger.Info().Msg("Initializing tiered memory store")
	return &Store{db: db, logger: logger}, nil
}

func now() int64 { return time.Now().Unix() }

// CreateUser registers a user. Creation is idempotent: registering an
// existing user returns the stored row unchanged.
func (s *Store) CreateUser(ctx context.Context, userID string) (User, error) {
	s.logger.Debug().
		Str("method", "CreateUser").
		Str("user_id", userID).
		Msg("called")
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is empty")
	}

	if existing, err := s.getUser(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrUnknownUser) {
		return User{}, err
	}

	nowUnix := now()
	query := StatementBuilder().
		Insert("users").
		Columns("user_id", "status", "created_at").
		Values(userID, string(UserStatusInactive), nowUnix)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build insert query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "CreateUser").Err(err).Msg("Failed to insert user")
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}

	s.logger.Info().Str("method", "CreateUser").Str("user_id", userID).Int64("id", id).Msg("User created")
	return User{
		ID:        id,
		UserID:    userID,
		Status:    UserStatusInactive,
		CreatedAt: time.Unix(nowUnix, 0),
	}, nil
}

// UserExists reports whether a user has been registered.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := s.getUser(ctx, userID)
	if errors.Is(err, ErrUnknownUser) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ActiveUsers returns the ids of all users with active status, for the
// consolidation scheduler.
func (s *Store) ActiveUsers(ctx context.Context) ([]string, error) {
	query := StatementBuilder().
		Select("user_id").
		From("users").
		Where(sq.Eq{"status": string(UserStatusActive)}).
		OrderBy("user_id ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (s *Store) getUser(ctx context.Context, userID string) (User, error) {
	query := StatementBuilder().
		Select("id", "user_id", "status", "created_at").
		From("users").
		Where(sq.Eq{"user_id": userID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build select query: %w", err)
	}

	var (
		u         User
		status    string
		createdAt int64
	)
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(&u.ID, &u.UserID, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", userID, ErrUnknownUser)
	}
	if err != nil {
		return User{}, err
	}
	u.Status = UserStatus(status)
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, nil
}

// AppendRecord appends a raw short-term record for a user. The first record
// flips an inactive user to active so the scheduler starts consolidating
// them. Fails with ErrUnknownUser when the user is not registered.
func (s *Store) AppendRecord(ctx context.Context, userID, content string) (int64, error) {
	s.logger.Debug().
		Str("method", "AppendRecord").
		Str("user_id", userID).
		Str("content", truncateString(content, 40)).
		Msg("called")
	if strings.TrimSpace(content) == "" {
		return 0, errors.New("content is empty")
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return 0, err
	}

	nowUnix := now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	queryStr, args, err := StatementBuilder().
		Insert("short_memory").
		Columns("user_id", "content", "created_at", "consumed").
		Values(userID, content, nowUnix, 0).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert query: %w", err)
	}

	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "AppendRecord").Err(err).Msg("Failed to insert record")
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET status = ? WHERE user_id = ? AND status = ?`,
		string(UserStatusActive), userID, string(UserStatusInactive)); err != nil {
		return 0, fmt.Errorf("activate user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("method", "AppendRecord").
		Str("user_id", userID).
		Int64("id", id).
		Msg("Record appended")
	return id, nil
}

// FetchUnconsumedRecords returns a user's unconsumed short-term records in
// creation order. When period is non-empty only records falling inside that
// day bucket are returned. An empty result is not an error; it means there is
// nothing to consolidate yet.
func (s *Store) FetchUnconsumedRecords(ctx context.Context, userID, period string) ([]Record, error) {
	query := StatementBuilder().
		Select("id", "user_id", "content", "created_at", "consumed").
		From("short_memory").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"consumed": 0}).
		OrderBy("created_at ASC", "id ASC")

	if period != "" {
		start, err := PeriodStart(TierDay, period)
		if err != nil {
			return nil, err
		}
		end, err := PeriodEnd(TierDay, period)
		if err != nil {
			return nil, err
		}
		query = query.
			Where(sq.GtOrEq{"created_at": start.Unix()}).
			Where(sq.Lt{"created_at": end.Unix()})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var records []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			consumed  int
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &createdAt, &consumed); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		r.Consumed = consumed != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// FetchUnconsumedSummaries returns a user's unconsumed summaries for one tier
// in period order. The caller groups them by parent period.
func (s *Store) FetchUnconsumedSummaries(ctx context.Context, userID string, tier Tier) ([]TierSummary, error) {
	table := tableForTier(tier)
	if table == "" || tier == TierShort || tier == TierLong {
		return nil, fmt.Errorf("tier %q holds no summaries", tier)
	}

	query := s.summarySelect(tier).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"consumed": 0}).
		OrderBy("period ASC", "id ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	return s.querySummaries(ctx, tier, queryStr, args)
}

// CommitConsolidation persists a new summary for (user, tier, period) and
// marks the listed input rows consumed in a single transaction. Either both
// effects land or neither does. A pre-existing summary for the bucket fails
// the whole call with ErrConflict, which makes re-running a consolidation
// pass safe.
func (s *Store) CommitConsolidation(
	ctx context.Context,
	userID string,
	tier Tier,
	period string,
	summary string,
	streamline string,
	inputIDs []int64,
) (int64, error) {
	s.logger.Debug().
		Str("method", "CommitConsolidation").
		Str("user_id", userID).
		Str("tier", string(tier)).
		Str("period", period).
		Int("inputs", len(inputIDs)).
		Msg("called")

	table := tableForTier(tier)
	inputTier := inputTierFor(tier)
	if table == "" || inputTier == "" {
		return 0, fmt.Errorf("tier %q is not a consolidation target", tier)
	}
	if strings.TrimSpace(summary) == "" {
		return 0, errors.New("summary is empty")
	}
	if len(inputIDs) == 0 {
		return 0, errors.New("no input ids")
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotent re-run protection: one summary row per (user, tier, period).
	var existing int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE user_id = ? AND period = ?`, table),
		userID, period).Scan(&existing)
	if err == nil {
		return 0, fmt.Errorf("%s %s/%s: %w", tier, userID, period, ErrConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	nowUnix := now()
	insert := StatementBuilder().Insert(table)
	if tier == TierDay {
		insert = insert.
			Columns("user_id", "content", "period", "consumed", "created_at").
			Values(userID, summary, period, 0, nowUnix)
	} else {
		insert = insert.
			Columns("user_id", "content", "streamline", "period", "consumed", "created_at").
			Values(userID, summary, streamline, period, 0, nowUnix)
	}

	queryStr, args, err := insert.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert query: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		// A concurrent commit can slip past the pre-check and land on the
		// UNIQUE(user_id, period) constraint; that race is the same benign
		// conflict as the pre-check catching it.
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s %s/%s: %w", tier, userID, period, ErrConflict)
		}
		s.logger.Error().Str("method", "CommitConsolidation").Err(err).Msg("Failed to insert summary")
		return 0, fmt.Errorf("insert summary: %w", err)
	}
	summaryID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	consume, args, err := StatementBuilder().
		Update(tableForTier(inputTier)).
		Set("consumed", 1).
		Where(sq.Eq{"id": inputIDs}).
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"consumed": 0}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update query: %w", err)
	}
	updRes, err := tx.ExecContext(ctx, consume, args...)
	if err != nil {
		return 0, fmt.Errorf("mark inputs consumed: %w", err)
	}
	affected, err := updRes.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected != int64(len(inputIDs)) {
		// Some input row vanished or was consumed concurrently. Roll the
		// whole commit back rather than leave a summary without its inputs.
		s.logger.Error().
			Str("method", "CommitConsolidation").
			Int64("affected", affected).
			Int("expected", len(inputIDs)).
			Msg("Input rows out of sync, rolling back")
		return 0, fmt.Errorf("marked %d of %d inputs: %w", affected, len(inputIDs), ErrIntegrity)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("method", "CommitConsolidation").
		Str("user_id", userID).
		Str("tier", string(tier)).
		Str("period", period).
		Int64("id", summaryID).
		Int("consumed", len(inputIDs)).
		Msg("Consolidation committed")
	return summaryID, nil
}

// AppendLongTermFact appends a durable fact for a user. Facts have no
// consumption semantics.
func (s *Store) AppendLongTermFact(ctx context.Context, userID, content string) (int64, error) {
	s.logger.Debug().
		Str("method", "AppendLongTermFact").
		Str("user_id", userID).
		Str("content", truncateString(content, 40)).
		Msg("called")
	if strings.TrimSpace(content) == "" {
		return 0, errors.New("content is empty")
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		return 0, err
	}

	queryStr, args, err := StatementBuilder().
		Insert("long_memory").
		Columns("user_id", "content", "created_at").
		Values(userID, content, now()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, fmt.Errorf("insert long-term fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("method", "AppendLongTermFact").
		Str("user_id", userID).
		Int64("id", id).
		Msg("Long-term fact appended")
	return id, nil
}

// LatestSummaries returns up to n most recent summaries for a tier, newest
// period first.
func (s *Store) LatestSummaries(ctx context.Context, userID string, tier Tier, n int) ([]TierSummary, error) {
	if tableForTier(tier) == "" || tier == TierShort || tier == TierLong {
		return nil, fmt.Errorf("tier %q holds no summaries", tier)
	}

	query := s.summarySelect(tier).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("period DESC", "id DESC").
		Limit(uint64(n)) //nolint:gosec // bounded by caller

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}
	return s.querySummaries(ctx, tier, queryStr, args)
}

// LatestFacts returns up to n most recent long-term facts, newest first.
func (s *Store) LatestFacts(ctx context.Context, userID string, n int) ([]LongTermFact, error) {
	queryStr, args, err := StatementBuilder().
		Select("id", "user_id", "content", "created_at").
		From("long_memory").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(n)). //nolint:gosec // bounded by caller
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var facts []LongTermFact
	for rows.Next() {
		var (
			f         LongTermFact
			createdAt int64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt = time.Unix(createdAt, 0)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// LatestRecords returns up to n most recent short-term records, newest first.
// Consumed records are included; they remain historical evidence.
func (s *Store) LatestRecords(ctx context.Context, userID string, n int) ([]Record, error) {
	queryStr, args, err := StatementBuilder().
		Select("id", "user_id", "content", "created_at", "consumed").
		From("short_memory").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(n)). //nolint:gosec // bounded by caller
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var records []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			consumed  int
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &createdAt, &consumed); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		r.Consumed = consumed != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// summarySelect builds the column list for a summary tier; the day tier has
// no streamline column.
func (s *Store) summarySelect(tier Tier) sq.SelectBuilder {
	if tier == TierDay {
		return StatementBuilder().
			Select("id", "user_id", "content", "''", "period", "consumed", "created_at").
			From(tableForTier(tier))
	}
	return StatementBuilder().
		Select("id", "user_id", "content", "streamline", "period", "consumed", "created_at").
		From(tableForTier(tier))
}

func (s *Store) querySummaries(ctx context.Context, tier Tier, queryStr string, args []interface{}) ([]TierSummary, error) {
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var summaries []TierSummary
	for rows.Next() {
		var (
			ts        TierSummary
			createdAt int64
			consumed  int
		)
		if err := rows.Scan(&ts.ID, &ts.UserID, &ts.Content, &ts.Streamline, &ts.Period, &consumed, &createdAt); err != nil {
			return nil, err
		}
		ts.Tier = tier
		ts.Consumed = consumed != 0
		ts.CreatedAt = time.Unix(createdAt, 0)
		summaries = append(summaries, ts)
	}
	return summaries, rows.Err()
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Helper function to safely truncate strings (for log safety).
func truncateString(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
