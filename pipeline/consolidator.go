// Package pipeline drives tiered memory consolidation: a periodic scheduler
// walks every active user bottom-up through the tier hierarchy, invoking the
// structured agents on closed periods and committing their output through the
// store's transactional entry point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DPamK/MemoryLoom/agent"
	"github.com/DPamK/MemoryLoom/llm"
	"github.com/DPamK/MemoryLoom/memory"
	"github.com/DPamK/MemoryLoom/prompt"
	"github.com/rs/zerolog"
)

// Agents bundles the per-stage structured agents the consolidator invokes.
type Agents struct {
	Day   *agent.Agent[agent.DayResult]
	Week  *agent.Agent[agent.RollupResult]
	Month *agent.Agent[agent.RollupResult]
	Year  *agent.Agent[agent.RollupResult]
}

// Consolidator rolls unconsumed lower-tier items up into closed-period
// summaries for one user at a time.
type Consolidator struct {
	store  *memory.Store
	agents Agents
	logger zerolog.Logger
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(store *memory.Store, agents Agents, logger zerolog.Logger) (*Consolidator, error) {
	if agents.Day == nil || agents.Week == nil || agents.Month == nil || agents.Year == nil {
		return nil, fmt.Errorf("all stage agents are required")
	}
	return &Consolidator{
		store:  store,
		agents: agents,
		logger: logger.With().Str("component", "consolidator").Logger(),
	}, nil
}

// RunPass performs one full bottom-up consolidation pass for a user:
// short→day first, then day→week, week→month, month→year, so each tier sees
// every lower-tier summary already committed within the same pass.
//
// Agent no-results and commit conflicts are not errors: the bucket's inputs
// stay unconsumed and the next pass retries them.
func (c *Consolidator) RunPass(ctx context.Context, userID string) error {
	if err := c.consolidateDays(ctx, userID); err != nil {
		return err
	}
	for _, tier := range []memory.Tier{memory.TierWeek, memory.TierMonth, memory.TierYear} {
		if err := c.consolidateRollup(ctx, userID, tier); err != nil {
			return err
		}
	}
	return nil
}

// consolidateDays folds unconsumed short-term records into day summaries and
// appends any extracted long-term facts.
func (c *Consolidator) consolidateDays(ctx context.Context, userID string) error {
	records, err := c.store.FetchUnconsumedRecords(ctx, userID, "")
	if err != nil {
		return fmt.Errorf("fetch unconsumed records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	buckets := make(map[string][]memory.Record)
	for _, r := range records {
		period := memory.PeriodOf(memory.TierDay, r.CreatedAt)
		buckets[period] = append(buckets[period], r)
	}

	for _, period := range sortedPeriods(buckets) {
		if !memory.PeriodClosed(memory.TierDay, period, c.now()) {
			c.logger.Debug().
				Str("user_id", userID).
				Str("period", period).
				Msg("Day period still open, skipping")
			continue
		}
		items := buckets[period]

		var history strings.Builder
		ids := make([]int64, 0, len(items))
		for _, r := range items {
			fmt.Fprintf(&history, "[%s] %s\n", r.CreatedAt.UTC().Format("15:04"), r.Content)
			ids = append(ids, r.ID)
		}

		result, ok, err := c.agents.Day.Invoke(ctx, map[string]string{
			"user":          userID,
			"period":        period,
			"input_history": history.String(),
		})
		if err != nil {
			return fmt.Errorf("day agent for %s/%s: %w", userID, period, err)
		}
		if !ok {
			c.logger.Warn().
				Str("user_id", userID).
				Str("period", period).
				Msg("Day agent produced no result, leaving inputs unconsumed")
			continue
		}

		if _, err := c.store.CommitConsolidation(ctx, userID, memory.TierDay, period, result.Summary, "", ids); err != nil {
			if errors.Is(err, memory.ErrConflict) {
				c.logger.Debug().
					Str("user_id", userID).
					Str("period", period).
					Msg("Day summary already committed by another pass")
				continue
			}
			c.logger.Error().
				Str("user_id", userID).
				Str("period", period).
				Err(err).
				Msg("Day commit failed, bucket will be retried")
			continue
		}

		// Fact appends are best-effort: a failure here must not undo the
		// committed day summary.
		for _, fact := range result.Facts {
			if strings.TrimSpace(fact) == "" {
				continue
			}
			if _, err := c.store.AppendLongTermFact(ctx, userID, fact); err != nil {
				c.logger.Warn().
					Str("user_id", userID).
					Str("period", period).
					Err(err).
					Msg("Failed to append extracted long-term fact")
			}
		}
	}
	return nil
}

// consolidateRollup folds unconsumed summaries of the input tier into closed
// parent-tier periods. Week/month/year all share this shape.
func (c *Consolidator) consolidateRollup(ctx context.Context, userID string, tier memory.Tier) error {
	inputTier := inputTierOf(tier)
	stageAgent := c.rollupAgent(tier)

	inputs, err := c.store.FetchUnconsumedSummaries(ctx, userID, inputTier)
	if err != nil {
		return fmt.Errorf("fetch unconsumed %s summaries: %w", inputTier, err)
	}
	if len(inputs) == 0 {
		return nil
	}

	buckets := make(map[string][]memory.TierSummary)
	for _, in := range inputs {
		start, err := memory.PeriodStart(inputTier, in.Period)
		if err != nil {
			c.logger.Error().
				Str("user_id", userID).
				Str("period", in.Period).
				Err(err).
				Msg("Unparseable period key, skipping row")
			continue
		}
		parent := memory.PeriodOf(tier, start)
		buckets[parent] = append(buckets[parent], in)
	}

	for _, period := range sortedPeriods(buckets) {
		if !memory.PeriodClosed(tier, period, c.now()) {
			continue
		}
		items := buckets[period]

		var history strings.Builder
		ids := make([]int64, 0, len(items))
		for _, in := range items {
			// The streamline variant feeds the next tier when present; day
			// summaries have none and contribute their full content.
			text := in.Streamline
			if text == "" {
				text = in.Content
			}
			fmt.Fprintf(&history, "[%s] %s\n", in.Period, text)
			ids = append(ids, in.ID)
		}

		result, ok, err := stageAgent.Invoke(ctx, map[string]string{
			"user":          userID,
			"period":        period,
			"input_history": history.String(),
		})
		if err != nil {
			return fmt.Errorf("%s agent for %s/%s: %w", tier, userID, period, err)
		}
		if !ok {
			c.logger.Warn().
				Str("user_id", userID).
				Str("tier", string(tier)).
				Str("period", period).
				Msg("Agent produced no result, leaving inputs unconsumed")
			continue
		}

		if _, err := c.store.CommitConsolidation(ctx, userID, tier, period, result.Summary, result.Streamline, ids); err != nil {
			if errors.Is(err, memory.ErrConflict) {
				c.logger.Debug().
					Str("user_id", userID).
					Str("tier", string(tier)).
					Str("period", period).
					Msg("Summary already committed by another pass")
				continue
			}
			c.logger.Error().
				Str("user_id", userID).
				Str("tier", string(tier)).
				Str("period", period).
				Err(err).
				Msg("Commit failed, bucket will be retried")
			continue
		}
	}
	return nil
}

func (c *Consolidator) rollupAgent(tier memory.Tier) *agent.Agent[agent.RollupResult] {
	switch tier {
	case memory.TierWeek:
		return c.agents.Week
	case memory.TierMonth:
		return c.agents.Month
	default:
		return c.agents.Year
	}
}

// clockNow is split out so tests can pin the wall clock.
var clockNow = time.Now

func (c *Consolidator) now() time.Time { return clockNow() }

func inputTierOf(tier memory.Tier) memory.Tier {
	switch tier {
	case memory.TierWeek:
		return memory.TierDay
	case memory.TierMonth:
		return memory.TierWeek
	default:
		return memory.TierMonth
	}
}

func sortedPeriods[T any](buckets map[string][]T) []string {
	periods := make([]string, 0, len(buckets))
	for p := range buckets {
		periods = append(periods, p)
	}
	sort.Strings(periods)
	return periods
}

// NewAgents constructs the full agent set from shared dependencies.
// maxAttempts <= 0 falls back to the agent package default.
func NewAgents(client llm.Client, registry prompt.Registry, maxAttempts int, logger zerolog.Logger) (Agents, error) {
	day, err := agent.NewDayAgent(client, registry, maxAttempts, logger)
	if err != nil {
		return Agents{}, err
	}
	week, err := agent.NewRollupAgent(prompt.StageWeek, client, registry, maxAttempts, logger)
	if err != nil {
		return Agents{}, err
	}
	month, err := agent.NewRollupAgent(prompt.StageMonth, client, registry, maxAttempts, logger)
	if err != nil {
		return Agents{}, err
	}
	year, err := agent.NewRollupAgent(prompt.StageYear, client, registry, maxAttempts, logger)
	if err != nil {
		return Agents{}, err
	}
	return Agents{Day: day, Week: week, Month: month, Year: year}, nil
}
