package engine

import (
	"maps"
	"sync"
	"time"
)

// Error kinds counted in RunState.
const (
	ErrKindTransient  = "transient"
	ErrKindPermanent  = "permanent"
	ErrKindGeneration = "generation"
	ErrKindStore      = "store"
	ErrKindAuth       = "auth"
)

// RunState is the engine's in-memory state. All access goes through its
// methods, so control handlers can read it while a cycle runs.
type RunState struct {
	mu                sync.RWMutex
	enabled           bool
	lastPollAt        time.Time
	lastCycleDuration time.Duration
	cycles            int64
	errorCounts       map[string]int64
	matchErrors       map[string]MatchError
	healthy           bool
	consecutiveErrors int
	backoffUntil      time.Time
	lastReport        CycleReport
}

// MatchError is the most recent failure seen for a match.
type MatchError struct {
	Kind  string    `json:"kind"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// StateSnapshot is a copy of RunState safe to hand out.
type StateSnapshot struct {
	Enabled           bool                  `json:"enabled"`
	Healthy           bool                  `json:"healthy"`
	LastPollAt        time.Time             `json:"last_poll_at,omitzero"`
	LastCycleDuration time.Duration         `json:"last_cycle_duration_ns"`
	Cycles            int64                 `json:"cycles"`
	ErrorCounts       map[string]int64      `json:"error_counts"`
	MatchErrors       map[string]MatchError `json:"match_errors"`
	ConsecutiveErrors int                   `json:"consecutive_errors"`
	BackoffUntil      time.Time             `json:"backoff_until,omitzero"`
	LastCycle         CycleReport           `json:"last_cycle"`
}

func NewRunState(enabled bool) *RunState {
	return &RunState{
		enabled:     enabled,
		healthy:     true,
		errorCounts: make(map[string]int64),
		matchErrors: make(map[string]MatchError),
	}
}

func (s *RunState) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled reports whether the value changed.
func (s *RunState) SetEnabled(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.enabled != v
	s.enabled = v
	return changed
}

func (s *RunState) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = !s.enabled
	return s.enabled
}

func (s *RunState) RecordPoll(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPollAt = at
}

func (s *RunState) RecordCycle(r CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPollAt = r.StartedAt
	s.lastCycleDuration = r.Duration
	s.cycles++
	s.lastReport = r
}

// RecordMatchError counts err under kind and remembers it for matchID.
func (s *RunState) RecordMatchError(matchID, kind string, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCounts[kind]++
	if matchID != "" {
		s.matchErrors[matchID] = MatchError{Kind: kind, Error: err.Error(), At: at}
	}
}

func (s *RunState) ClearMatchError(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matchErrors, matchID)
}

// TransportFailed counts a failed transport call. Once limit failures happen
// in a row, sends pause until now+cooldown and the health flag drops. It
// reports whether this call started a backoff.
func (s *RunState) TransportFailed(now time.Time, limit int, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrors++
	if limit <= 0 || s.consecutiveErrors < limit || now.Before(s.backoffUntil) {
		return false
	}
	s.backoffUntil = now.Add(cooldown)
	s.consecutiveErrors = 0
	s.healthy = false
	return true
}

// TransportSucceeded ends the failure streak after any successful transport
// call and restores health once no backoff is running.
func (s *RunState) TransportSucceeded(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrors = 0
	if !now.Before(s.backoffUntil) {
		s.healthy = true
	}
}

// AuthFailed starts a backoff at once: the platform rejected the account,
// so every call would fail the same way.
func (s *RunState) AuthFailed(now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = false
	s.consecutiveErrors = 0
	if now.Before(s.backoffUntil) {
		return false
	}
	s.backoffUntil = now.Add(cooldown)
	return true
}

func (s *RunState) SetUnhealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = false
}

func (s *RunState) InBackoff(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Before(s.backoffUntil)
}

func (s *RunState) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *RunState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Enabled:           s.enabled,
		Healthy:           s.healthy,
		LastPollAt:        s.lastPollAt,
		LastCycleDuration: s.lastCycleDuration,
		Cycles:            s.cycles,
		ErrorCounts:       maps.Clone(s.errorCounts),
		MatchErrors:       maps.Clone(s.matchErrors),
		ConsecutiveErrors: s.consecutiveErrors,
		BackoffUntil:      s.backoffUntil,
		LastCycle:         s.lastReport,
	}
}
