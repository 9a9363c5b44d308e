// Package ingest drives the periodic side of the goal engine: a daily sweep
// that unlocks expired cycles, and — when a metric source is configured — a
// polling job that feeds fresh readings into snapshot ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rankcycle/backend/internal/goals"
	"github.com/rankcycle/backend/internal/metrics"
)

var (
	errMissingGoalsService = errors.New("goals service is required")
	errMissingCronSpec     = errors.New("cron spec is required")
)

// SchedulerConfig describes the scheduler's dependencies. Source is
// optional: without one, only the cycle-expiry sweep runs.
type SchedulerConfig struct {
	Goals    *goals.Service
	Source   metrics.Source
	CronSpec string
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Scheduler owns the cron loop. Operation-level cancellation belongs to the
// jobs themselves; Stop only waits for in-flight runs to finish.
type Scheduler struct {
	goals    *goals.Service
	source   metrics.Source
	cronSpec string
	cron     *cron.Cron
	logger   *zap.Logger
	clock    func() time.Time
}

// NewScheduler constructs the scheduler without starting it.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Goals == nil {
		return nil, errMissingGoalsService
	}
	if cfg.CronSpec == "" {
		return nil, errMissingCronSpec
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		goals:    cfg.Goals,
		source:   cfg.Source,
		cronSpec: cfg.CronSpec,
		cron:     cron.New(),
		logger:   logger,
		clock:    clock,
	}, nil
}

// Start registers the cron jobs and begins the loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cronSpec, func() { s.RunSweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	if s.source != nil {
		if _, err := s.cron.AddFunc(s.cronSpec, func() { s.RunPoll(context.Background()) }); err != nil {
			return fmt.Errorf("schedule poll: %w", err)
		}
	}
	s.cron.Start()
	s.logger.Info("ingest scheduler started",
		zap.String("cron", s.cronSpec),
		zap.Bool("polling", s.source != nil))
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("ingest scheduler stopped")
}

// RunSweep unlocks every goal whose 90-day cycle has ended.
func (s *Scheduler) RunSweep(ctx context.Context) {
	expired, err := s.goals.ExpireCycles(ctx)
	if err != nil {
		s.logger.Error("cycle expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.logger.Info("cycle expiry sweep completed", zap.Int64("expired", expired))
	}
}

// RunPoll fetches today's reading for every locked goal and ingests it.
// Per-goal failures are logged and skipped; one broken source must not stall
// the other goals.
func (s *Scheduler) RunPoll(ctx context.Context) {
	if s.source == nil {
		return
	}
	locked, err := s.goals.ListLockedGoals(ctx)
	if err != nil {
		s.logger.Error("locked goal listing failed", zap.Error(err))
		return
	}

	now := s.clock().UTC()
	date := goals.CivilDateOf(now)
	ingested := 0
	for _, goal := range locked {
		value, err := s.source.Fetch(ctx, goal, now)
		if err != nil {
			s.logger.Warn("metric fetch failed",
				zap.String("goal_id", goal.GoalID),
				zap.String("goal_type", string(goal.GoalType)),
				zap.Error(err))
			continue
		}
		goalID, err := goals.NewGoalID(goal.GoalID)
		if err != nil {
			continue
		}
		if _, err := s.goals.IngestSnapshot(ctx, goalID, date, value); err != nil {
			s.logger.Warn("snapshot ingestion failed",
				zap.String("goal_id", goal.GoalID),
				zap.String("goal_type", string(goal.GoalType)),
				zap.Error(err))
			continue
		}
		ingested++
	}
	s.logger.Info("metric poll completed",
		zap.Int("goals", len(locked)),
		zap.Int("ingested", ingested),
		zap.String("date", date.String()))
}
