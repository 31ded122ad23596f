package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peerprep/proctoring/internal/models"
	"peerprep/proctoring/internal/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const staleReason = "idle timeout"

// SessionTerminator is the slice of the engine the reaper needs.
type SessionTerminator interface {
	ListStale(ctx context.Context, idleFor time.Duration) ([]models.Session, error)
	TerminateSession(ctx context.Context, sessionID string, endedAt time.Time, reason string) (services.FinalizeResult, error)
}

// ReaperConfig controls the stale session sweep.
type ReaperConfig struct {
	Schedule  string        // cron schedule, e.g. "@every 1m"
	IdleAfter time.Duration // sessions quiet for this long are terminated
	Enabled   bool
	// RunTimeout bounds one sweep; zero means one minute.
	RunTimeout time.Duration
}

// StaleSessionReaper terminates sessions whose client vanished without
// calling finalize, so they do not stay active forever.
type StaleSessionReaper struct {
	engine SessionTerminator
	config ReaperConfig
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewStaleSessionReaper(engine SessionTerminator, config ReaperConfig, logger *zap.Logger) *StaleSessionReaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = time.Minute
	}
	return &StaleSessionReaper{
		engine: engine,
		config: config,
		logger: logger,
		cron:   cron.New(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep. It is a no-op when the reaper is disabled.
func (r *StaleSessionReaper) Start() error {
	if !r.config.Enabled {
		r.logger.Info("stale session reaper disabled")
		return nil
	}
	if r.config.IdleAfter <= 0 {
		return errors.New("stale session reaper needs a positive idle timeout")
	}

	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.RunTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("stale session sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule stale session reaper: %w", err)
	}

	r.cron.Start()
	r.logger.Info("stale session reaper started",
		zap.String("schedule", r.config.Schedule),
		zap.Duration("idleAfter", r.config.IdleAfter))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *StaleSessionReaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// RunOnce performs a single sweep and returns how many sessions it ended.
// A session finalized concurrently by its client is skipped, not an error.
func (r *StaleSessionReaper) RunOnce(ctx context.Context) (int, error) {
	stale, err := r.engine.ListStale(ctx, r.config.IdleAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	terminated := 0
	for _, s := range stale {
		endedAt := s.LastActivity()
		if now := r.now(); now.After(endedAt) {
			endedAt = now
		}
		_, err := r.engine.TerminateSession(ctx, s.ID, endedAt, staleReason)
		switch {
		case err == nil:
			terminated++
			r.logger.Info("terminated stale session",
				zap.String("sessionId", s.ID),
				zap.Time("lastActivity", s.LastActivity()))
		case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrNotFound):
			continue
		case errors.Is(err, models.ErrUnavailable):
			return terminated, err
		default:
			r.logger.Warn("failed to terminate stale session", zap.String("sessionId", s.ID), zap.Error(err))
		}
	}
	return terminated, nil
}
