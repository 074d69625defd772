package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Cleaner deletes expired ledger rows. *Service implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Sweeper runs CleanupExpired on a cron schedule. Sweeping only ever removes
// rows that can no longer authorize anything.
type Sweeper struct {
	cleaner  Cleaner
	schedule string
	timeout  time.Duration
	log      *slog.Logger
}

// NewSweeper validates schedule (robfig/cron syntax, including "@every 1h").
func NewSweeper(cleaner Cleaner, schedule string, log *slog.Logger) (*Sweeper, error) {
	if cleaner == nil {
		return nil, fmt.Errorf("%w: sweeper needs a cleaner", ErrConfig)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w: sweep schedule %q: %v", ErrConfig, schedule, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{cleaner: cleaner, schedule: schedule, timeout: time.Minute, log: log}, nil
}

// RunOnce performs a single sweep.
func (w *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	n, err := w.cleaner.CleanupExpired(ctx)
	if err != nil {
		w.log.Error("sweeper.run.fail", "err", err)
		return 0, err
	}
	w.log.Info("sweeper.run",
		slog.Int64("deleted", n),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return n, nil
}

// Run schedules sweeps until ctx is done, then waits for a running sweep to finish.
func (w *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, func() { _, _ = w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("%w: sweep schedule %q: %v", ErrConfig, w.schedule, err)
	}

	c.Start()
	w.log.Info("sweeper.start", slog.String("schedule", w.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info("sweeper.stop")
	return nil
}
