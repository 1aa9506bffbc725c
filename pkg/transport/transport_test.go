package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tinyland-inc/wingman/pkg/config"
)

func TestResultFromError(t *testing.T) {
	if r := ResultFromError(nil); !r.OK() {
		t.Errorf("nil error should be ok, got %s", r.Kind)
	}
	if r := ResultFromError(errors.New("boom")); r.Kind != ResultTransient {
		t.Errorf("plain error should be transient, got %s", r.Kind)
	}
	wrapped := fmt.Errorf("outer: %w", Permanent("send", "m1", errors.New("gone")))
	if r := ResultFromError(wrapped); r.Kind != ResultPermanent {
		t.Errorf("wrapped permanent should stay permanent, got %s", r.Kind)
	}
	if !IsPermanent(wrapped) {
		t.Error("IsPermanent should see through wrapping")
	}
}

func TestNew_UnknownTransport(t *testing.T) {
	cfg := config.DefaultConfig().Platform
	cfg.Transport = "carrier-pigeon"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestNew_Browser(t *testing.T) {
	cfg := config.DefaultConfig().Platform
	cfg.Transport = config.TransportBrowser
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tr.Name() != config.TransportBrowser {
		t.Errorf("Name() = %q", tr.Name())
	}
	if tr.IsRunning() {
		t.Error("transport should not be running before Start")
	}
}

func TestFilterNew(t *testing.T) {
	b := NewBaseTransport("test", nil)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []InboundMessage{
		{Text: "a", Timestamp: t0},
		{Text: "b", Timestamp: t0.Add(time.Minute)},
	}
	if got := b.FilterNew("m1", msgs); len(got) != 2 {
		t.Fatalf("first pass len = %d, want 2", len(got))
	}
	msgs = append(msgs, InboundMessage{Text: "c", Timestamp: t0.Add(2 * time.Minute)})
	got := b.FilterNew("m1", msgs)
	if len(got) != 1 || got[0].Text != "c" {
		t.Errorf("second pass = %+v, want only c", got)
	}
	if got := b.FilterNew("m2", msgs); len(got) != 3 {
		t.Errorf("other match len = %d, want 3", len(got))
	}
}

func TestLocalAddr(t *testing.T) {
	cfg := config.PlatformConfig{SourceIP: "10.0.0.7"}
	addr, err := localAddr(cfg)
	if err != nil {
		t.Fatalf("localAddr() error: %v", err)
	}
	if addr.IP.String() != "10.0.0.7" {
		t.Errorf("addr = %v", addr)
	}

	if _, err := localAddr(config.PlatformConfig{SourceIP: "not-an-ip"}); err == nil {
		t.Error("expected error for invalid source ip")
	}
	if _, err := localAddr(config.PlatformConfig{BindInterface: "does-not-exist0"}); err == nil {
		t.Error("expected error for missing interface")
	}
	if addr, err := localAddr(config.PlatformConfig{}); err != nil || addr != nil {
		t.Errorf("no binding should give nil addr, got %v %v", addr, err)
	}
}

func TestIsWallURL(t *testing.T) {
	for _, u := range []string{"https://tinder.com/app/login", "https://x/verify/sms", "https://x/captcha"} {
		if !isWallURL(u) {
			t.Errorf("isWallURL(%q) = false", u)
		}
	}
	if isWallURL("https://tinder.com/app/matches") {
		t.Error("matches page is not a wall")
	}
}

func TestBrowserOutcome(t *testing.T) {
	tests := []struct {
		name string
		st   browserState
		err  error
		want ResultKind
		auth bool
	}{
		{"ok", browserState{Started: true}, nil, ResultOK, false},
		{"element not found", browserState{Started: true}, errors.New("could not find node"), ResultTransient, false},
		{"timeout", browserState{Started: true}, context.DeadlineExceeded, ResultTransient, false},
		{"login wall", browserState{Started: true, Walled: true, Location: "https://x/app/login"}, nil, ResultPermanent, true},
		{"wall after failed action", browserState{Started: true, Walled: true}, errors.New("could not find node"), ResultPermanent, true},
		{"not started", browserState{}, nil, ResultPermanent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResultFromError(browserOutcome("send message", "m1", tt.st, tt.err))
			if res.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", res.Kind, tt.want)
			}
			if IsAuth(res.Err) != tt.auth {
				t.Errorf("IsAuth = %v, want %v", IsAuth(res.Err), tt.auth)
			}
			if tt.want != ResultOK && !strings.Contains(res.Err.Error(), "m1") {
				t.Errorf("error %q should name the match", res.Err)
			}
		})
	}
}

func newTestBrowser(t *testing.T) *BrowserTransport {
	t.Helper()
	cfg := config.DefaultConfig().Platform
	cfg.Transport = config.TransportBrowser
	tr, err := NewBrowserTransport(cfg)
	if err != nil {
		t.Fatalf("NewBrowserTransport() error: %v", err)
	}
	return tr
}

func TestBrowserTransport_NotStartedIsPermanent(t *testing.T) {
	tr := newTestBrowser(t)
	_, err := tr.FetchNewMessages(context.Background(), "m1")
	if !IsPermanent(err) {
		t.Fatalf("FetchNewMessages before Start = %v, want permanent", err)
	}
	if tr.MaxConcurrency() != 1 {
		t.Errorf("MaxConcurrency() = %d, want 1", tr.MaxConcurrency())
	}
}

// A caller queued behind a busy tab gives up when its context ends instead
// of running with an expired deadline.
func TestBrowserTransport_TabWaitHonorsContext(t *testing.T) {
	tr := newTestBrowser(t)
	if err := tr.tab.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer tr.tab.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := tr.FetchNewMessages(ctx, "m1")
	if IsPermanent(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("FetchNewMessages while busy = %v, want transient deadline error", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("waited %v for a 20ms context", waited)
	}

	res := tr.SendMessage(ctx, "m1", "hey")
	if res.Kind != ResultTransient {
		t.Errorf("SendMessage while busy = %s, want transient", res.Kind)
	}
}

func TestStamper_StableAndAfterOurReply(t *testing.T) {
	s := newStamper()
	scraped := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	first := s.inbound("m1", []browserMessage{{Text: "hi"}}, scraped)
	if len(first) != 1 || first[0].Timestamp.After(scraped) {
		t.Fatalf("first scrape = %+v", first)
	}

	// Our reply went out a minute later; the next message arrives after it.
	replied := scraped.Add(time.Minute)
	second := s.inbound("m1", []browserMessage{
		{Text: "hi"},
		{Text: "hey!", Own: true},
		{Text: "how are you?"},
	}, scraped.Add(2*time.Minute))
	if len(second) != 2 {
		t.Fatalf("second scrape len = %d, want 2", len(second))
	}
	if !second[0].Timestamp.Equal(first[0].Timestamp) {
		t.Errorf("rescraped message restamped: %v != %v", second[0].Timestamp, first[0].Timestamp)
	}
	if !second[1].Timestamp.After(replied) {
		t.Errorf("new message stamped %v, before our reply at %v", second[1].Timestamp, replied)
	}
}

func TestStamper_NeverMovesBackwards(t *testing.T) {
	s := newStamper()
	scraped := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	a := s.inbound("m1", []browserMessage{{Text: "a"}}, scraped)
	b := s.inbound("m1", []browserMessage{{Text: "a"}, {Text: "b"}}, scraped.Add(-time.Hour))
	if len(b) != 2 || !b[1].Timestamp.After(a[0].Timestamp) {
		t.Fatalf("stamps went backwards: %+v after %+v", b, a)
	}
}

func TestStamper_FirstScrapeSkipsAnsweredHistory(t *testing.T) {
	s := newStamper()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	got := s.inbound("m1", []browserMessage{
		{Text: "hi"},
		{Text: "hey!", Own: true},
		{Text: "how are you?"},
	}, now)
	if len(got) != 1 || got[0].Text != "how are you?" {
		t.Fatalf("first scrape = %+v, want only the unanswered message", got)
	}

	got = s.inbound("m2", []browserMessage{{Text: "hi"}, {Text: "hey!", Own: true}}, now)
	if len(got) != 0 {
		t.Errorf("answered conversation returned %+v", got)
	}
}

func TestStamper_DatetimeAttribute(t *testing.T) {
	s := newStamper()
	got := s.inbound("m1", []browserMessage{{Text: "hi", Datetime: "2026-03-04T05:06:07Z"}}, time.Now())
	if len(got) != 1 || !got[0].Timestamp.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Fatalf("got %+v", got)
	}
}
