package memory

import (
	"fmt"
	"time"
)

// Period keys are derived in UTC so that recomputation from the same
// timestamps always yields the same key regardless of server locale:
//
//	day   2006-01-02
//	week  ISO 8601 year-week, e.g. 2021-W33
//	month 2006-01
//	year  2006

// PeriodOf returns the period key containing t for the given tier.
func PeriodOf(tier Tier, t time.Time) string {
	t = t.UTC()
	switch tier {
	case TierDay:
		return t.Format("2006-01-02")
	case TierWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case TierMonth:
		return t.Format("2006-01")
	case TierYear:
		return t.Format("2006")
	default:
		return ""
	}
}

// PeriodStart returns the instant a period begins (UTC).
func PeriodStart(tier Tier, period string) (time.Time, error) {
	switch tier {
	case TierDay:
		return time.ParseInLocation("2006-01-02", period, time.UTC)
	case TierWeek:
		var year, week int
		if _, err := fmt.Sscanf(period, "%d-W%d", &year, &week); err != nil {
			return time.Time{}, fmt.Errorf("parse week period %q: %w", period, err)
		}
		return isoWeekStart(year, week), nil
	case TierMonth:
		return time.ParseInLocation("2006-01", period, time.UTC)
	case TierYear:
		return time.ParseInLocation("2006", period, time.UTC)
	default:
		return time.Time{}, fmt.Errorf("tier %q has no period", tier)
	}
}

// PeriodEnd returns the first instant after the period (the start of the next
// period). A period is closed once the wall clock reaches its end.
func PeriodEnd(tier Tier, period string) (time.Time, error) {
	start, err := PeriodStart(tier, period)
	if err != nil {
		return time.Time{}, err
	}
	switch tier {
	case TierDay:
		return start.AddDate(0, 0, 1), nil
	case TierWeek:
		return start.AddDate(0, 0, 7), nil
	case TierMonth:
		return start.AddDate(0, 1, 0), nil
	case TierYear:
		return start.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("tier %q has no period", tier)
	}
}

// PeriodClosed reports whether the period has fully elapsed at the given
// wall-clock time. Open periods are still accumulating and must not be
// consolidated.
func PeriodClosed(tier Tier, period string, now time.Time) bool {
	end, err := PeriodEnd(tier, period)
	if err != nil {
		return false
	}
	return !now.UTC().Before(end)
}

// isoWeekStart returns the Monday starting ISO week `week` of ISO year
// `year`. January 4th is always in week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}
