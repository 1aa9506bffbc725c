package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/tinyland-inc/wingman/pkg/config"
)

func TestRunState_Backoff(t *testing.T) {
	s := NewRunState(true)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if s.TransportFailed(now, 3, time.Minute) || s.TransportFailed(now, 3, time.Minute) {
		t.Fatal("backoff started too early")
	}
	if !s.TransportFailed(now, 3, time.Minute) {
		t.Fatal("third failure should start backoff")
	}
	if s.Healthy() {
		t.Error("state should be unhealthy during backoff")
	}
	if !s.InBackoff(now.Add(59 * time.Second)) {
		t.Error("expected backoff before cooldown elapses")
	}
	if s.InBackoff(now.Add(time.Minute)) {
		t.Error("backoff should end after cooldown")
	}

	s.TransportSucceeded(now.Add(30 * time.Second))
	if s.Healthy() {
		t.Error("success during backoff should not restore health")
	}
	s.TransportSucceeded(now.Add(time.Minute))
	if !s.Healthy() {
		t.Error("success after backoff should restore health")
	}
	if got := s.Snapshot().ConsecutiveErrors; got != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", got)
	}
}

func TestRunState_SuccessEndsStreak(t *testing.T) {
	s := NewRunState(true)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for range 5 {
		if s.TransportFailed(now, 2, time.Minute) {
			t.Fatal("isolated failure started a backoff")
		}
		s.TransportSucceeded(now)
	}
	if !s.Healthy() || s.InBackoff(now) {
		t.Error("isolated failures should leave the state healthy")
	}
}

func TestRunState_AuthFailed(t *testing.T) {
	s := NewRunState(true)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !s.AuthFailed(now, time.Minute) {
		t.Fatal("first auth failure should start a backoff")
	}
	if s.AuthFailed(now.Add(time.Second), time.Minute) {
		t.Error("auth failure during backoff should not restart it")
	}
	if s.Healthy() || !s.InBackoff(now.Add(59*time.Second)) {
		t.Error("expected unhealthy backoff")
	}
}

func TestRunState_BackoffDisabled(t *testing.T) {
	s := NewRunState(true)
	now := time.Now()
	for range 10 {
		if s.TransportFailed(now, 0, time.Minute) {
			t.Fatal("limit 0 must never start a backoff")
		}
	}
}

func TestRunState_SnapshotIsCopy(t *testing.T) {
	s := NewRunState(false)
	s.RecordMatchError("m1", ErrKindGeneration, errors.New("empty"), time.Now())
	snap := s.Snapshot()
	snap.ErrorCounts[ErrKindGeneration] = 99
	delete(snap.MatchErrors, "m1")

	again := s.Snapshot()
	if again.ErrorCounts[ErrKindGeneration] != 1 {
		t.Errorf("ErrorCounts mutated through snapshot: %v", again.ErrorCounts)
	}
	if _, ok := again.MatchErrors["m1"]; !ok {
		t.Error("MatchErrors mutated through snapshot")
	}
}

func TestQuietHours(t *testing.T) {
	q, err := NewQuietHours(config.QuietHoursConfig{Enabled: true, Schedule: "* 1-5 * * *", Timezone: "Europe/London"})
	if err != nil {
		t.Fatalf("NewQuietHours() error: %v", err)
	}
	// 02:30 London in winter is 02:30 UTC.
	if !q.Active(time.Date(2026, 1, 15, 2, 30, 15, 0, time.UTC)) {
		t.Error("expected quiet at 02:30 London")
	}
	// 00:30 UTC in summer is 01:30 London.
	if !q.Active(time.Date(2026, 7, 15, 0, 30, 0, 0, time.UTC)) {
		t.Error("expected quiet at 01:30 BST")
	}
	if q.Active(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)) {
		t.Error("noon should not be quiet")
	}

	var none *QuietHours
	if none.Active(time.Now()) {
		t.Error("nil quiet hours should never be active")
	}
	if q, err := NewQuietHours(config.QuietHoursConfig{}); err != nil || q != nil {
		t.Errorf("disabled config should give nil, got %v %v", q, err)
	}
	if _, err := NewQuietHours(config.QuietHoursConfig{Enabled: true, Schedule: "not cron"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
