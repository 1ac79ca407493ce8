package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/xaenox/sparkgen/internal/storage"
	"go.uber.org/zap"
)

const DefaultSchedule = "@every 1h"

// Sweeper evicts expired cache entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Optimizer compacts the content store.
type Optimizer interface {
	Optimize(ctx context.Context, retention storage.Retention) (*storage.OptimizeReport, error)
}

type Report struct {
	SweptEntries int
	Store        *storage.OptimizeReport
	Duration     time.Duration
}

// Service runs cache sweeps and store compaction on a cron schedule. Either
// dependency may be nil.
type Service struct {
	schedule  string
	retention storage.Retention
	cache     Sweeper
	store     Optimizer
	logger    *zap.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	cancel  context.CancelFunc
	running sync.Mutex
}

func NewService(schedule string, retention storage.Retention, cache Sweeper, store Optimizer, logger *zap.Logger) *Service {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		schedule:  schedule,
		retention: retention,
		cache:     cache,
		store:     store,
		logger:    logger,
	}
}

// Start schedules the maintenance job. It stops on its own when ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("maintenance already started")
	}

	c := rcron.New()
	runCtx, cancel := context.WithCancel(ctx)
	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("Maintenance run failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("Maintenance scheduled", zap.String("schedule", s.schedule))

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
	return nil
}

// Stop cancels a running job and waits up to five seconds for it to return.
func (s *Service) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("Timed out waiting for maintenance job")
	}
	s.logger.Info("Maintenance stopped")
}

// RunOnce sweeps the cache and optimizes the store. Overlapping runs are
// serialized. Failures from both steps are joined.
func (s *Service) RunOnce(ctx context.Context) (*Report, error) {
	s.running.Lock()
	defer s.running.Unlock()

	start := time.Now()
	report := &Report{}
	var errs []error

	if s.cache != nil {
		n, err := s.cache.Sweep(ctx)
		report.SweptEntries = n
		if err != nil {
			errs = append(errs, fmt.Errorf("cache sweep: %w", err))
		}
	}
	if s.store != nil {
		r, err := s.store.Optimize(ctx, s.retention)
		if err != nil {
			errs = append(errs, fmt.Errorf("store optimize: %w", err))
		}
		report.Store = r
	}
	report.Duration = time.Since(start)

	fields := []zap.Field{
		zap.Int("swept", report.SweptEntries),
		zap.Duration("duration", report.Duration),
	}
	if report.Store != nil {
		fields = append(fields,
			zap.Int("orphaned_favorites", report.Store.OrphanedFavorites),
			zap.Int("expired", report.Store.ExpiredMessages),
			zap.Int("trimmed", report.Store.TrimmedMessages))
	}
	s.logger.Info("Maintenance finished", fields...)
	return report, errors.Join(errs...)
}
