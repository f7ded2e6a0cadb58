package memory

import (
	"errors"
	"time"
)

// Tier is one level of the consolidation hierarchy. Records enter at the
// short tier and roll up day → week → month → year; long-term facts branch
// off at the daily stage and are terminal.
type Tier string

const (
	TierShort Tier = "short"
	TierDay   Tier = "day"
	TierWeek  Tier = "week"
	TierMonth Tier = "month"
	TierYear  Tier = "year"
	TierLong  Tier = "long"
)

// NextTier returns the tier a given tier consolidates into, or "" for the
// top. Consolidation never skips a tier.
func NextTier(t Tier) Tier {
	switch t {
	case TierShort:
		return TierDay
	case TierDay:
		return TierWeek
	case TierWeek:
		return TierMonth
	case TierMonth:
		return TierYear
	default:
		return ""
	}
}

// SummaryTiers lists the tiers that hold TierSummary rows, bottom-up.
var SummaryTiers = []Tier{TierDay, TierWeek, TierMonth, TierYear}

// UserStatus is the activation state of a user.
type UserStatus string

const (
	UserStatusInactive UserStatus = "inactive"
	UserStatusActive   UserStatus = "active"
)

// User is a registered memory owner.
type User struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Record is a raw short-term memory entry. Records are append-only and are
// never deleted; Consumed marks that the record has been folded into a day
// summary.
type Record struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Consumed  bool      `json:"consumed"`
}

// TierSummary is the canonical summary for one (user, tier, period) bucket.
// Streamline is empty for the day tier and carries the condensed variant for
// week/month/year.
type TierSummary struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Tier       Tier      `json:"tier"`
	Content    string    `json:"content"`
	Streamline string    `json:"streamline,omitempty"`
	Period     string    `json:"period"`
	Consumed   bool      `json:"consumed"`
	CreatedAt  time.Time `json:"created_at"`
}

// LongTermFact is a durable fact extracted during daily consolidation.
// Facts are append-only and never consolidated further.
type LongTermFact struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Sentinel errors surfaced by the store.
var (
	// ErrUnknownUser is returned when an operation references a user that
	// has not been created.
	ErrUnknownUser = errors.New("unknown user")

	// ErrConflict is returned when a consolidation commit targets a
	// (user, tier, period) bucket that already has a summary.
	ErrConflict = errors.New("summary already exists for period")

	// ErrIntegrity is returned when a consolidation commit could not mark
	// every input row consumed; the transaction is rolled back.
	ErrIntegrity = errors.New("consolidation inputs out of sync")
)
