package engine

import (
	"context"
	"errors"
	"time"

	"github.com/tinyland-inc/wingman/pkg/logger"
)

// Run polls on a fixed interval until ctx is cancelled. Cycles never
// overlap and each is bounded by the cycle timeout. On cancellation Run
// returns after the current cycle finishes. A store failure stops the loop
// and is returned.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.PollEvery()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoCF("engine", "Scheduler started", map[string]any{
		"interval": interval.String(),
	})
	for {
		if err := e.tick(ctx); err != nil {
			logger.ErrorCF("engine", "Scheduler stopped on fatal error", map[string]any{
				"error": err.Error(),
			})
			return err
		}

		select {
		case <-ctx.Done():
			logger.InfoC("engine", "Scheduler stopped")
			return nil
		case <-ticker.C:
		case <-e.wake:
			ticker.Reset(interval)
		}
	}
}

func (e *Engine) tick(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	timeout := e.cfg.CycleTimeoutDuration()
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	_, err := e.PollCycle(cctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && cctx.Err() != nil {
		logger.WarnCF("engine", "Poll cycle timed out", map[string]any{
			"timeout": timeout.String(),
		})
		return nil
	}
	return err
}
