package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/generator"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/transport"
)

var t0 = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	MatchID string
	Text    string
}

type fakeTransport struct {
	mu         sync.Mutex
	matches    []transport.MatchInfo
	inbound    map[string][]transport.InboundMessage
	sent       []sentMessage
	fetchCalls map[string]int
	fetchErr   map[string]error
	matchesErr error
	// onSend decides the result; nil means ok.
	onSend func(matchID, text string) transport.Result
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:    make(map[string][]transport.InboundMessage),
		fetchCalls: make(map[string]int),
		fetchErr:   make(map[string]error),
	}
}

func (f *fakeTransport) Name() string { return "fake" }
func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop(ctx context.Context) error { return nil }
func (f *fakeTransport) IsRunning() bool { return true }

func (f *fakeTransport) FetchNewMatches(ctx context.Context) ([]transport.MatchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matchesErr != nil {
		return nil, f.matchesErr
	}
	return append([]transport.MatchInfo(nil), f.matches...), nil
}

func (f *fakeTransport) FetchNewMessages(ctx context.Context, matchID string) ([]transport.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[matchID]++
	if err := f.fetchErr[matchID]; err != nil {
		return nil, err
	}
	return append([]transport.InboundMessage(nil), f.inbound[matchID]...), nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, matchID, text string) transport.Result {
	f.mu.Lock()
	onSend := f.onSend
	f.mu.Unlock()

	res := transport.Delivered("p-" + matchID)
	if onSend != nil {
		res = onSend(matchID, text)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if res.OK() {
		f.sent = append(f.sent, sentMessage{MatchID: matchID, Text: text})
	}
	return res
}

func (f *fakeTransport) setMatchesErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchesErr = err
}

func (f *fakeTransport) setFetchErr(matchID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchErr, matchID)
		return
	}
	f.fetchErr[matchID] = err
}

// serialTransport is a backend that serves one call at a time.
type serialTransport struct {
	*fakeTransport
}

func (serialTransport) MaxConcurrency() int { return 1 }

func (f *fakeTransport) addMatch(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches = append(f.matches, transport.MatchInfo{ID: id, Name: "name-" + id})
}

func (f *fakeTransport) receive(matchID, text string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound[matchID] = append(f.inbound[matchID], transport.InboundMessage{MatchID: matchID, Text: text, Timestamp: ts})
}

func (f *fakeTransport) sentTo(matchID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.MatchID == matchID {
			n++
		}
	}
	return n
}

func (f *fakeTransport) totalSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) setOnSend(fn func(matchID, text string) transport.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSend = fn
}

type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
	// gate, when set, blocks generation until it is closed; entered is
	// signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func (g *fakeGenerator) GenerateReply(ctx context.Context, m session.Match, history []session.Message) (string, error) {
	g.mu.Lock()
	g.calls++
	err, gate, entered := g.err, g.gate, g.entered
	g.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "reply to " + history[len(history)-1].Text, nil
}

func (g *fakeGenerator) GenerateOpener(ctx context.Context, m session.Match) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return "hello " + m.Name, nil
}

func (g *fakeGenerator) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type harness struct {
	engine *Engine
	store  *session.Store
	tr     *fakeTransport
	gen    *fakeGenerator
	rate   *ratelimit.Controller
	clock  *fakeClock
	bus    *bus.EventBus
}

type harnessOpts struct {
	cap      int
	cooldown time.Duration
	workers  int
	disabled bool
	quiet    *QuietHours
	maxErrs  int
	// replier replaces the fake generator when set.
	replier Generator
	// serial wraps the transport so it reports a concurrency of one.
	serial bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	clock := &fakeClock{now: t0}

	store, err := session.Open(filepath.Join(t.TempDir(), "wingman.db"), session.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if o.cap == 0 {
		o.cap = 100
	}
	rate, err := ratelimit.New(ratelimit.Options{
		Cooldown:   o.cooldown,
		Windows:    []ratelimit.Window{{Name: "global", Schedule: "0 0 * * *", Cap: o.cap}},
		JitterFunc: func(time.Duration) time.Duration { return 0 },
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Engine.EnabledOnStartup = !o.disabled
	cfg.Engine.Workers = 3
	if o.workers > 0 {
		cfg.Engine.Workers = o.workers
	}
	cfg.Engine.MaxConsecutiveErrors = o.maxErrs

	tr := newFakeTransport()
	gen := &fakeGenerator{}
	var replier Generator = gen
	if o.replier != nil {
		replier = o.replier
	}
	var backend transport.Transport = tr
	if o.serial {
		backend = serialTransport{tr}
	}
	b := bus.NewEventBus()
	e, err := New(cfg, Deps{
		Store:     store,
		Transport: backend,
		Generator: replier,
		Rate:      rate,
		Bus:       b,
		Meter:     generator.NewUsageMeter(),
		Quiet:     o.quiet,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	return &harness{engine: e, store: store, tr: tr, gen: gen, rate: rate, clock: clock, bus: b}
}

func (h *harness) cycle(t *testing.T) CycleReport {
	t.Helper()
	r, err := h.engine.PollCycle(context.Background())
	require.NoError(t, err)
	return r
}

func (h *harness) outstanding(t *testing.T, matchID string) bool {
	t.Helper()
	ok, err := h.store.OutstandingReply(context.Background(), matchID)
	require.NoError(t, err)
	return ok
}
