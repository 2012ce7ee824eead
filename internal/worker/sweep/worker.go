// Package sweep schedules the daily escalation pass across all configured
// guilds.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/wardenlabs/timewarden/internal/database"
	"github.com/wardenlabs/timewarden/internal/escalation"
	"go.uber.org/zap"
)

// maxConcurrentGuilds bounds how many guild sweeps run at once.
const maxConcurrentGuilds = 4

// Worker triggers the escalation sweep once per day at a configured UTC
// hour. Guilds are swept concurrently; a failing guild is logged and does
// not block the others.
type Worker struct {
	db        database.Client
	engine    *escalation.Engine
	logger    *zap.Logger
	sweepHour int
	clock     func() time.Time
}

// New creates a sweep worker.
func New(db database.Client, engine *escalation.Engine, sweepHour int, logger *zap.Logger) *Worker {
	return &Worker{
		db:        db,
		engine:    engine,
		logger:    logger.Named("sweep"),
		sweepHour: sweepHour,
		clock:     time.Now,
	}
}

// Start begins the worker's main loop. It blocks until the context is
// canceled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Sweep worker started", zap.Int("sweepHour", w.sweepHour))

	for {
		next := w.nextRun()

		w.logger.Info("Scheduled next sweep", zap.Time("at", next))

		select {
		case <-ctx.Done():
			w.logger.Info("Sweep worker stopped")
			return
		case <-time.After(next.Sub(w.clock())):
		}

		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Sweep run failed", zap.Error(err))
		}
	}
}

// RunOnce sweeps every configured guild immediately. Exposed for the
// manual trigger in the administration surface.
func (w *Worker) RunOnce(ctx context.Context) error {
	guilds, err := w.db.Model().GuildSetting().ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("failed to list guilds for sweep: %w", err)
	}

	started := w.clock()

	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxConcurrentGuilds)

	for _, guildID := range guilds {
		p.Go(func(ctx context.Context) error {
			if err := w.engine.Sweep(ctx, guildID); err != nil {
				// Contain per-guild failures so one guild cannot abort
				// the rest of the run.
				w.logger.Error("Guild sweep failed",
					zap.Uint64("guildID", guildID),
					zap.Error(err))
			}

			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return fmt.Errorf("sweep pool failed: %w", err)
	}

	w.logger.Info("Sweep completed",
		zap.Int("guilds", len(guilds)),
		zap.Duration("took", w.clock().Sub(started)))

	return nil
}

// nextRun returns the next occurrence of the configured UTC hour.
func (w *Worker) nextRun() time.Time {
	now := w.clock().UTC()

	next := time.Date(now.Year(), now.Month(), now.Day(), w.sweepHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
