// Package ratelimit decides when the bot may send.
//
// Two constraints apply to every send: a per-match cooldown (jittered so the
// cadence is not periodic) and one or more global windows with a cap each.
// Window boundaries are cron expressions; counters reset only when Advance is
// called, which the engine does once at the start of each poll cycle.
package ratelimit

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// ErrRateLimited matches every *LimitError via errors.Is.
var ErrRateLimited = errors.New("rate limited")

// Limit reasons.
const (
	ReasonCooldown = "cooldown"
	ReasonInFlight = "in_flight"
	ReasonWindow   = "window"
)

// LimitError explains why a match may not send now.
type LimitError struct {
	MatchID string
	Reason  string
	Window  string
	RetryAt time.Time
}

func (e *LimitError) Error() string {
	if e.Window != "" {
		return fmt.Sprintf("match %s: rate limited: %s %q full until %s",
			e.MatchID, e.Reason, e.Window, e.RetryAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("match %s: rate limited: %s", e.MatchID, e.Reason)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Window is a global send cap that resets on every tick of Schedule.
type Window struct {
	Name     string
	Schedule string
	Cap      int
}

type Options struct {
	Cooldown time.Duration
	Jitter   time.Duration
	// Windows with Cap <= 0 are ignored.
	Windows []Window
	// MatchWindow is the schedule on which per-match send counts reset. It
	// applies even when no window with that schedule caps sends. Empty means
	// the counts never reset.
	MatchWindow string
	Location    *time.Location
	// JitterFunc returns a value in [0, limit). Defaults to a uniform random draw.
	JitterFunc func(limit time.Duration) time.Duration
}

type windowState struct {
	Window
	count    int
	inflight int
	resetAt  time.Time
}

type matchState struct {
	nextEligible time.Time
	count        int
	lastSent     time.Time
	reserved     bool
}

// Controller owns the rate budget. It is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	cooldown time.Duration
	jitter   time.Duration
	loc      *time.Location
	jitterFn func(time.Duration) time.Duration
	windows  []*windowState
	matches  map[string]*matchState

	matchWindow  string
	matchResetAt time.Time
}

func New(opts Options) (*Controller, error) {
	if opts.Cooldown < 0 || opts.Jitter < 0 {
		return nil, errors.New("cooldown and jitter must not be negative")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	jitterFn := opts.JitterFunc
	if jitterFn == nil {
		jitterFn = uniformJitter
	}

	gron := gronx.New()
	c := &Controller{
		cooldown: opts.Cooldown,
		jitter:   opts.Jitter,
		loc:      loc,
		jitterFn: jitterFn,
		matches:  make(map[string]*matchState),

		matchWindow: opts.MatchWindow,
	}
	if opts.MatchWindow != "" && !gron.IsValid(opts.MatchWindow) {
		return nil, fmt.Errorf("invalid match window schedule %q", opts.MatchWindow)
	}
	seen := make(map[string]bool)
	for _, w := range opts.Windows {
		if w.Cap <= 0 {
			continue
		}
		if w.Name == "" {
			return nil, errors.New("window name is required")
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("duplicate window %q", w.Name)
		}
		if !gron.IsValid(w.Schedule) {
			return nil, fmt.Errorf("window %q: invalid schedule %q", w.Name, w.Schedule)
		}
		seen[w.Name] = true
		c.windows = append(c.windows, &windowState{Window: w})
	}
	return c, nil
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

func (c *Controller) match(matchID string) *matchState {
	m, ok := c.matches[matchID]
	if !ok {
		m = &matchState{}
		c.matches[matchID] = m
	}
	return m
}

// check returns nil when matchID may send at now. Caller holds mu.
func (c *Controller) check(matchID string, now time.Time) error {
	if m, ok := c.matches[matchID]; ok {
		if m.reserved {
			return &LimitError{MatchID: matchID, Reason: ReasonInFlight}
		}
		if now.Before(m.nextEligible) {
			return &LimitError{MatchID: matchID, Reason: ReasonCooldown, RetryAt: m.nextEligible}
		}
	}
	for _, w := range c.windows {
		if w.count+w.inflight >= w.Cap {
			return &LimitError{MatchID: matchID, Reason: ReasonWindow, Window: w.Name, RetryAt: w.resetAt}
		}
	}
	return nil
}

// Eligible reports whether the match's cooldown has elapsed and every window
// is below its cap.
func (c *Controller) Eligible(matchID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.check(matchID, now) == nil
}

// Check is Eligible with the reason attached.
func (c *Controller) Check(matchID string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.check(matchID, now)
}

// RecordSend charges a completed send against the budget.
func (c *Controller) RecordSend(matchID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		w.count++
	}
	c.charge(c.match(matchID), now)
}

func (c *Controller) charge(m *matchState, sentAt time.Time) {
	m.count++
	m.lastSent = sentAt
	m.nextEligible = sentAt.Add(c.cooldown + c.jitterFn(c.jitter))
}

// Reservation holds one slot in every window while a send is in flight.
type Reservation struct {
	MatchID string
	done    bool
}

// Reserve checks eligibility and, if allowed, takes a slot in every window so
// concurrent workers cannot overshoot a cap. The caller must Commit or Release.
func (c *Controller) Reserve(matchID string, now time.Time) (*Reservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(matchID, now); err != nil {
		return nil, err
	}
	for _, w := range c.windows {
		w.inflight++
	}
	c.match(matchID).reserved = true
	return &Reservation{MatchID: matchID}, nil
}

// Commit converts a reservation into a recorded send at sentAt.
func (c *Controller) Commit(r *Reservation, sentAt time.Time) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	for _, w := range c.windows {
		if w.inflight > 0 {
			w.inflight--
		}
		w.count++
	}
	m := c.match(r.MatchID)
	m.reserved = false
	c.charge(m, sentAt)
}

// Release returns a reservation's slots without charging the budget.
func (c *Controller) Release(r *Reservation) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	for _, w := range c.windows {
		if w.inflight > 0 {
			w.inflight--
		}
	}
	c.match(r.MatchID).reserved = false
}

// Advance rolls over every window whose boundary is at or before now,
// including the match window.
func (c *Controller) Advance(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		if !w.resetAt.IsZero() && now.Before(w.resetAt) {
			continue
		}
		next, err := gronx.NextTickAfter(w.Schedule, now.In(c.loc), false)
		if err != nil {
			return fmt.Errorf("window %q: next boundary: %w", w.Name, err)
		}
		if !w.resetAt.IsZero() {
			w.count = 0
		}
		w.resetAt = next
	}

	if c.matchWindow == "" || (!c.matchResetAt.IsZero() && now.Before(c.matchResetAt)) {
		return nil
	}
	next, err := gronx.NextTickAfter(c.matchWindow, now.In(c.loc), false)
	if err != nil {
		return fmt.Errorf("match window: next boundary: %w", err)
	}
	if !c.matchResetAt.IsZero() {
		for _, m := range c.matches {
			m.count = 0
		}
	}
	c.matchResetAt = next
	return nil
}

// NextEligible returns when the match may next send, ignoring windows.
func (c *Controller) NextEligible(matchID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.matches[matchID]; ok {
		return m.nextEligible
	}
	return time.Time{}
}

// WindowUsage describes one window for status output.
type WindowUsage struct {
	Name     string    `json:"name"`
	Count    int       `json:"count"`
	InFlight int       `json:"in_flight"`
	Cap      int       `json:"cap"`
	ResetAt  time.Time `json:"reset_at"`
}

func (c *Controller) Usage() []WindowUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WindowUsage, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, WindowUsage{
			Name:     w.Name,
			Count:    w.count,
			InFlight: w.inflight,
			Cap:      w.Cap,
			ResetAt:  w.resetAt,
		})
	}
	return out
}
