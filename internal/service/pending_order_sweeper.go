package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultSweepSchedule = "@every 5m"

type pendingExpirer interface {
	ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// PendingOrderSweeper fails pending enrollments whose order outlived the TTL
// so the next enroll call opens a fresh order.
type PendingOrderSweeper struct {
	store    pendingExpirer
	orderTTL time.Duration
	schedule string
	now      func() time.Time
	metrics  *MetricsService
	logger   *zap.Logger
	cron     *cron.Cron
}

// NewPendingOrderSweeper constructs the sweeper. An empty schedule runs every five minutes.
func NewPendingOrderSweeper(store pendingExpirer, orderTTL time.Duration, schedule string, metrics *MetricsService, logger *zap.Logger) *PendingOrderSweeper {
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingOrderSweeper{
		store:    store,
		orderTTL: orderTTL,
		schedule: schedule,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// Sweep expires stale pending enrollments once.
func (s *PendingOrderSweeper) Sweep(ctx context.Context) (int64, error) {
	if s.orderTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().UTC().Add(-s.orderTTL)
	expired, err := s.store.ExpireStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.AddPendingExpired(expired)
	if expired > 0 {
		s.logger.Info("expired stale pending enrollments", zap.Int64("count", expired), zap.Time("cutoff", cutoff))
	}
	return expired, nil
}

// Start schedules Sweep on the configured cron expression.
func (s *PendingOrderSweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("pending order sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule pending order sweep %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("pending order sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *PendingOrderSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
