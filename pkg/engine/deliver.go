package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/generator"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/transport"
)

// deliver records a pending attempt, sends it, and settles both the message
// and the reservation. The send and the settling writes are detached from
// ctx so shutdown never strands a pending row.
func (e *Engine) deliver(ctx context.Context, m session.Match, text string, res *ratelimit.Reservation, sentEvent bus.EventType, t *tally) error {
	msg, err := e.store.RecordOutboundAttempt(ctx, m.ID, text)
	if errors.Is(err, session.ErrPendingExists) {
		e.rate.Release(res)
		logger.WarnCF("engine", "Skipping match with a pending message", map[string]any{
			"match_id": m.ID,
		})
		return nil
	}
	if err != nil {
		e.rate.Release(res)
		return storeErr("record outbound attempt", err)
	}

	detached := context.WithoutCancel(ctx)
	sctx, cancel := context.WithTimeout(detached, e.cfg.SendTimeoutDuration())
	result := e.tr.SendMessage(sctx, m.ID, text)
	cancel()

	if result.OK() {
		sent, err := e.store.MarkSent(detached, msg.ID)
		if err != nil {
			e.rate.Release(res)
			return storeErr("mark sent", err)
		}
		e.rate.Commit(res, sent.SentAt)
		e.state.TransportSucceeded(e.now())
		e.state.ClearMatchError(m.ID)
		t.add(func(r *CycleReport) { r.Sent++ })
		e.publish(bus.Event{Type: sentEvent, MatchID: m.ID, Text: text})
		logger.InfoCF("engine", "Message sent", map[string]any{
			"match_id": m.ID,
			"length":   len(text),
		})
		return nil
	}

	e.rate.Release(res)
	sendErr := result.Err
	if sendErr == nil {
		sendErr = fmt.Errorf("send returned %s", result.Kind)
	}
	if _, err := e.store.MarkFailed(detached, msg.ID, sendErr.Error()); err != nil {
		return storeErr("mark failed", err)
	}
	t.add(func(r *CycleReport) { r.Failed++ })
	e.publish(bus.Event{
		Type:    bus.EventMessageFailed,
		MatchID: m.ID,
		Text:    sendErr.Error(),
		Data:    map[string]any{"kind": string(result.Kind)},
	})

	if transport.IsAuth(sendErr) {
		e.authFailed(sendErr)
		return nil
	}
	if result.Kind == transport.ResultPermanent {
		return e.blockMatch(detached, m.ID, sendErr, t)
	}
	e.transportFailed(m.ID, sendErr)
	return nil
}

// blockMatch stops all activity for a match after a permanent transport
// error. An unmatch closes it instead.
func (e *Engine) blockMatch(ctx context.Context, matchID string, cause error, t *tally) error {
	status := session.MatchBlocked
	typ := bus.EventMatchBlocked
	if transport.IsUnmatched(cause) {
		status = session.MatchClosed
		typ = bus.EventMatchClosed
	}
	if err := e.store.SetMatchStatus(ctx, matchID, status, cause.Error()); err != nil {
		return storeErr("set match status", err)
	}
	e.state.RecordMatchError(matchID, ErrKindPermanent, cause, e.now())
	t.add(func(r *CycleReport) { r.Blocked++ })
	e.publish(bus.Event{Type: typ, MatchID: matchID, Text: cause.Error()})
	logger.WarnCF("engine", "Match stopped after permanent transport error", map[string]any{
		"match_id": matchID,
		"status":   string(status),
		"error":    cause.Error(),
	})
	return nil
}

// transportFailed records a transient failure and starts a backoff after
// too many in a row.
func (e *Engine) transportFailed(matchID string, err error) {
	now := e.now()
	kind := ErrKindTransient
	if transport.IsPermanent(err) {
		kind = ErrKindPermanent
	}
	e.state.RecordMatchError(matchID, kind, err, now)
	logger.WarnCF("engine", "Transport error", map[string]any{
		"match_id": matchID,
		"error":    err.Error(),
	})
	if e.state.TransportFailed(now, e.cfg.MaxConsecutiveErrors, e.cfg.ErrorCooldownDuration()) {
		until := now.Add(e.cfg.ErrorCooldownDuration())
		e.publish(bus.Event{
			Type: bus.EventBackoff,
			Text: err.Error(),
			Data: map[string]any{"until": until},
		})
		logger.ErrorCF("engine", "Too many consecutive transport errors, pausing sends", map[string]any{
			"until": until.Format("15:04:05"),
		})
	}
}

// authFailed pauses sends for the error cooldown and drops the health flag
// when the platform rejects the account's session.
func (e *Engine) authFailed(err error) {
	now := e.now()
	e.state.RecordMatchError("", ErrKindAuth, err, now)
	if !e.state.AuthFailed(now, e.cfg.ErrorCooldownDuration()) {
		return
	}
	until := now.Add(e.cfg.ErrorCooldownDuration())
	e.publish(bus.Event{
		Type: bus.EventBackoff,
		Text: err.Error(),
		Data: map[string]any{"until": until, "auth": true},
	})
	logger.ErrorCF("engine", "Platform rejected the session, pausing", map[string]any{
		"until": until.Format("15:04:05"),
		"error": err.Error(),
	})
}

func (e *Engine) generationFailed(matchID string, err error, t *tally) {
	e.state.RecordMatchError(matchID, ErrKindGeneration, err, e.now())
	t.add(func(r *CycleReport) { r.GenerationErrors++ })
	reason := generator.ReasonOf(err)
	e.publish(bus.Event{
		Type:    bus.EventGenerationFailed,
		MatchID: matchID,
		Text:    err.Error(),
		Data:    map[string]any{"reason": string(reason)},
	})
	logger.WarnCF("engine", "Generation failed, match retried next cycle", map[string]any{
		"match_id": matchID,
		"reason":   string(reason),
	})
}
