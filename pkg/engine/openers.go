package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
)

// OpenerReport summarizes a SendOpeners run.
type OpenerReport struct {
	Considered       int    `json:"considered"`
	Sent             int    `json:"sent"`
	Failed           int    `json:"failed"`
	RateLimited      int    `json:"rate_limited"`
	GenerationErrors int    `json:"generation_errors"`
	SendsPaused      string `json:"sends_paused,omitempty"`
}

// SendOpeners writes first messages to up to limit active matches that have
// no messages yet. It takes the cycle lock and obeys the same rate budget,
// quiet hours and backoff as replies. A limit <= 0 uses the configured
// default.
func (e *Engine) SendOpeners(ctx context.Context, limit int) (OpenerReport, error) {
	if !e.state.Enabled() {
		return OpenerReport{}, ErrDisabled
	}
	if limit <= 0 {
		limit = e.cfg.OpenerLimit
	}

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	now := e.now()
	if err := e.rate.Advance(now); err != nil {
		return OpenerReport{}, fmt.Errorf("failed to advance rate windows: %w", err)
	}

	matches, err := e.store.MatchesWithoutMessages(ctx, limit)
	if err != nil {
		return OpenerReport{}, storeErr("list matches without messages", err)
	}
	out := OpenerReport{Considered: len(matches)}
	if len(matches) == 0 {
		return out, nil
	}
	if paused := e.sendsPaused(now); paused != "" {
		out.SendsPaused = paused
		return out, nil
	}

	report := CycleReport{}
	t := &tally{r: &report}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, m := range matches {
		res, err := e.rate.Reserve(m.ID, now)
		if err != nil {
			out.RateLimited++
			continue
		}
		g.Go(func() error {
			return e.open(gctx, m, res, t)
		})
	}
	err = g.Wait()

	out.Sent = report.Sent
	out.Failed = report.Failed
	out.GenerationErrors = report.GenerationErrors
	if saveErr := e.rate.Save(context.WithoutCancel(ctx), e.store); saveErr != nil && err == nil {
		err = storeErr("save rate budget", saveErr)
	}
	logger.InfoCF("engine", "Openers sent", map[string]any{
		"considered":   out.Considered,
		"sent":         out.Sent,
		"failed":       out.Failed,
		"rate_limited": out.RateLimited,
	})
	return out, err
}

func (e *Engine) open(ctx context.Context, m session.Match, res *ratelimit.Reservation, t *tally) error {
	if ctx.Err() != nil {
		e.rate.Release(res)
		return nil
	}
	text, err := e.gen.GenerateOpener(ctx, m)
	if err != nil {
		e.rate.Release(res)
		e.generationFailed(m.ID, err, t)
		return nil
	}
	return e.deliver(ctx, m, text, res, bus.EventOpenerSent, t)
}
