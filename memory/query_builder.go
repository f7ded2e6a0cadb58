package memory

import (
	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// tableForTier maps a tier to its backing relation.
func tableForTier(t Tier) string {
	switch t {
	case TierShort:
		return "short_memory"
	case TierDay:
		return "day_memory"
	case TierWeek:
		return "week_memory"
	case TierMonth:
		return "month_memory"
	case TierYear:
		return "year_memory"
	case TierLong:
		return "long_memory"
	default:
		return ""
	}
}

// inputTierFor maps a summary tier to the tier it consumes.
func inputTierFor(t Tier) Tier {
	switch t {
	case TierDay:
		return TierShort
	case TierWeek:
		return TierDay
	case TierMonth:
		return TierWeek
	case TierYear:
		return TierMonth
	default:
		return ""
	}
}
