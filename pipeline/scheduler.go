package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs periodic consolidation passes over all active users.
// Different users are consolidated in parallel (bounded by workers); tiers
// for a single user always run bottom-up inside Consolidator.RunPass.
type Scheduler struct {
	consolidator *Consolidator
	users        UserSource
	schedule     ScheduleParser
	passTimeout  time.Duration
	workers      int
	logger       zerolog.Logger
}

// UserSource yields the users eligible for consolidation.
type UserSource interface {
	ActiveUsers(ctx context.Context) ([]string, error)
}

// NewScheduler creates a scheduler that fires per the given schedule string
// (cron expression or duration).
func NewScheduler(consolidator *Consolidator, users UserSource, schedule string, passTimeout time.Duration, workers int, logger zerolog.Logger) (*Scheduler, error) {
	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		consolidator: consolidator,
		users:        users,
		schedule:     parsed,
		passTimeout:  passTimeout,
		workers:      workers,
		logger:       logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start begins the scheduler loop. It performs an initial pass immediately,
// then fires on the configured schedule until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Int("workers", s.workers).Msg("Starting consolidation scheduler")

	s.runPass(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Scheduler stopped: context cancelled")
			return
		case <-timer.C:
			s.runPass(ctx)
		}
	}
}

// runPass consolidates every active user once. A pass abandoned mid-flight
// (shutdown) leaves no partial state because all commits are transactional.
func (s *Scheduler) runPass(ctx context.Context) {
	userIDs, err := s.users.ActiveUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active users")
		return
	}
	if len(userIDs) == 0 {
		return
	}

	s.logger.Info().Int("numUsers", len(userIDs)).Msg("Starting consolidation pass")

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.consolidateUser(ctx, userID)
		}(userID)
	}
	wg.Wait()

	s.logger.Info().Msg("Consolidation pass complete")
}

func (s *Scheduler) consolidateUser(ctx context.Context, userID string) {
	passCtx := ctx
	if s.passTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, s.passTimeout)
		defer cancel()
	}

	if err := s.consolidator.RunPass(passCtx, userID); err != nil {
		s.logger.Error().Str("userID", userID).Err(err).Msg("Consolidation pass failed for user")
		return
	}
	s.logger.Debug().Str("userID", userID).Msg("Consolidation pass finished for user")
}
