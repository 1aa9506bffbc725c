package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/transport"
)

// Reasons sends are held back for a whole cycle.
const (
	PausedQuietHours = "quiet_hours"
	PausedBackoff    = "backoff"
	// PausedAuth skips the whole cycle: the platform rejected the session.
	PausedAuth = "auth_rejected"
)

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	StartedAt        time.Time     `json:"started_at,omitzero"`
	Duration         time.Duration `json:"duration_ns"`
	Skipped          bool          `json:"skipped,omitempty"`
	SendsPaused      string        `json:"sends_paused,omitempty"`
	NewMatches       int           `json:"new_matches"`
	Inbound          int           `json:"inbound"`
	Candidates       int           `json:"candidates"`
	RateLimited      int           `json:"rate_limited"`
	Sent             int           `json:"sent"`
	Failed           int           `json:"failed"`
	GenerationErrors int           `json:"generation_errors"`
	FetchErrors      int           `json:"fetch_errors"`
	Blocked          int           `json:"blocked"`
}

// tally lets workers update a report concurrently.
type tally struct {
	mu sync.Mutex
	r  *CycleReport
}

func (t *tally) add(fn func(r *CycleReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.r)
}

// StoreError marks a session store failure. It is fatal to the scheduler.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// PollCycle runs one cycle: discover matches, ingest inbound messages, and
// reply to outstanding matches oldest first within the rate budget. Only
// store failures are returned; per-match failures are recorded and skipped.
func (e *Engine) PollCycle(ctx context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.now()
	report := CycleReport{StartedAt: start}
	if !e.state.Enabled() {
		e.state.RecordPoll(start)
		report.Skipped = true
		return report, nil
	}

	e.publish(bus.Event{Type: bus.EventCycleStarted})
	err := e.runCycle(ctx, &report)
	report.Duration = e.now().Sub(start)
	if err != nil {
		e.state.RecordMatchError("", ErrKindStore, err, e.now())
		e.state.SetUnhealthy()
		return report, err
	}

	e.state.RecordCycle(report)
	e.publish(bus.Event{
		Type: bus.EventCycleCompleted,
		Data: map[string]any{
			"sent":         report.Sent,
			"failed":       report.Failed,
			"inbound":      report.Inbound,
			"rate_limited": report.RateLimited,
			"duration_ms":  report.Duration.Milliseconds(),
		},
	})
	logger.InfoCF("engine", "Poll cycle completed", map[string]any{
		"new_matches":  report.NewMatches,
		"inbound":      report.Inbound,
		"candidates":   report.Candidates,
		"sent":         report.Sent,
		"failed":       report.Failed,
		"rate_limited": report.RateLimited,
		"paused":       report.SendsPaused,
		"duration_ms":  report.Duration.Milliseconds(),
	})
	return report, nil
}

func (e *Engine) runCycle(ctx context.Context, report *CycleReport) error {
	if err := e.rate.Advance(report.StartedAt); err != nil {
		return fmt.Errorf("failed to advance rate windows: %w", err)
	}
	t := &tally{r: report}

	rejected, err := e.discover(ctx, t)
	if err != nil {
		return err
	}
	if rejected {
		report.SendsPaused = PausedAuth
	} else {
		if err := e.ingest(ctx, t); err != nil {
			return err
		}
		if err := e.replyAll(ctx, t); err != nil {
			return err
		}
	}

	if err := e.rate.Save(context.WithoutCancel(ctx), e.store); err != nil {
		return storeErr("save rate budget", err)
	}
	return nil
}

// discover upserts matches the transport reports. New matches start active;
// known ones keep their status. It reports whether the platform rejected the
// session, in which case the rest of the cycle is skipped rather than
// blocking every match one by one.
func (e *Engine) discover(ctx context.Context, t *tally) (bool, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeoutDuration())
	matches, err := e.tr.FetchNewMatches(fctx)
	cancel()
	if err != nil {
		t.add(func(r *CycleReport) { r.FetchErrors++ })
		if transport.IsAuth(err) {
			e.authFailed(err)
			return true, nil
		}
		e.transportFailed("", err)
		return false, nil
	}
	e.state.TransportSucceeded(e.now())

	for _, m := range matches {
		created, err := e.store.UpsertMatch(ctx, session.Match{
			ID:        m.ID,
			Name:      m.Name,
			MatchedAt: m.MatchedAt,
			Status:    session.MatchActive,
		})
		if err != nil {
			return false, storeErr("upsert match", err)
		}
		if created {
			t.add(func(r *CycleReport) { r.NewMatches++ })
			e.publish(bus.Event{Type: bus.EventMatchDiscovered, MatchID: m.ID, Text: m.Name})
		}
	}
	return false, nil
}

// ingest fetches and records inbound messages for every active match.
func (e *Engine) ingest(ctx context.Context, t *tally) error {
	active, err := e.store.ListMatches(ctx, session.MatchActive)
	if err != nil {
		return storeErr("list active matches", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, m := range active {
		g.Go(func() error {
			return e.ingestMatch(gctx, m, t)
		})
	}
	return g.Wait()
}

func (e *Engine) ingestMatch(ctx context.Context, m session.Match, t *tally) error {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeoutDuration())
	msgs, err := e.tr.FetchNewMessages(fctx, m.ID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		t.add(func(r *CycleReport) { r.FetchErrors++ })
		switch {
		case transport.IsAuth(err):
			e.authFailed(err)
			return nil
		case transport.IsPermanent(err):
			return e.blockMatch(ctx, m.ID, err, t)
		}
		e.transportFailed(m.ID, err)
		return nil
	}
	e.state.TransportSucceeded(e.now())

	for _, msg := range msgs {
		stored, err := e.store.RecordInbound(ctx, m.ID, msg.Text, msg.Timestamp)
		if errors.Is(err, session.ErrDuplicateMessage) {
			continue
		}
		if err != nil {
			return storeErr("record inbound", err)
		}
		t.add(func(r *CycleReport) { r.Inbound++ })
		e.publish(bus.Event{Type: bus.EventMessageReceived, MatchID: m.ID, Text: stored.Text})
	}
	return nil
}

// replyAll picks outstanding matches oldest first, reserves rate slots in
// that order, then generates and sends in parallel.
func (e *Engine) replyAll(ctx context.Context, t *tally) error {
	candidates, err := e.store.OutstandingMatches(ctx)
	if err != nil {
		return storeErr("list outstanding matches", err)
	}
	t.add(func(r *CycleReport) { r.Candidates = len(candidates) })
	if len(candidates) == 0 {
		return nil
	}

	now := e.now()
	if paused := e.sendsPaused(now); paused != "" {
		t.add(func(r *CycleReport) { r.SendsPaused = paused })
		logger.DebugCF("engine", "Sends paused this cycle", map[string]any{
			"reason":     paused,
			"candidates": len(candidates),
		})
		return nil
	}

	type job struct {
		match session.Match
		res   *ratelimit.Reservation
	}
	var jobs []job
	for _, m := range candidates {
		res, err := e.rate.Reserve(m.ID, now)
		if err != nil {
			t.add(func(r *CycleReport) { r.RateLimited++ })
			logger.DebugCF("engine", "Match rate limited", map[string]any{
				"match_id": m.ID,
				"reason":   err.Error(),
			})
			continue
		}
		jobs = append(jobs, job{match: m, res: res})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				e.rate.Release(j.res)
				return nil
			}
			return e.reply(gctx, j.match, j.res, t)
		})
	}
	return g.Wait()
}

func (e *Engine) sendsPaused(now time.Time) string {
	if e.quiet.Active(now) {
		return PausedQuietHours
	}
	if e.state.InBackoff(now) {
		return PausedBackoff
	}
	return ""
}

// reply generates and delivers one reply. A generation failure leaves the
// store untouched so the match is retried next cycle.
func (e *Engine) reply(ctx context.Context, m session.Match, res *ratelimit.Reservation, t *tally) error {
	fetch := e.historyLimit * 2
	if fetch <= 0 {
		fetch = 20
	}
	history, err := e.store.Conversation(ctx, m.ID, fetch)
	if err != nil {
		e.rate.Release(res)
		return storeErr("load history", err)
	}

	text, err := e.gen.GenerateReply(ctx, m, history)
	if err != nil {
		e.rate.Release(res)
		e.generationFailed(m.ID, err, t)
		return nil
	}
	return e.deliver(ctx, m, text, res, bus.EventMessageSent, t)
}
