// Package engine runs the conversation loop: it polls the transport, keeps
// the session store current, and sends generated replies within the rate
// budget.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/generator"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/transport"
)

// ErrDisabled is returned by operations that require the bot to be enabled.
var ErrDisabled = errors.New("engine is disabled")

// Generator produces message text.
type Generator interface {
	GenerateReply(ctx context.Context, match session.Match, history []session.Message) (string, error)
	GenerateOpener(ctx context.Context, match session.Match) (string, error)
}

// concurrencyLimited is implemented by transports that serve one call at a
// time, such as the browser backend sharing a single tab.
type concurrencyLimited interface {
	MaxConcurrency() int
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Store     *session.Store
	Transport transport.Transport
	Generator Generator
	Rate      *ratelimit.Controller
	Bus       *bus.EventBus
	// Meter is optional; when set its totals appear in Stats.
	Meter *generator.UsageMeter
	// Quiet is optional; nil means sending is never suppressed by the clock.
	Quiet *QuietHours
}

type Engine struct {
	cfg          config.EngineConfig
	historyLimit int
	store        *session.Store
	tr           transport.Transport
	gen          Generator
	rate         *ratelimit.Controller
	bus          *bus.EventBus
	meter        *generator.UsageMeter
	quiet        *QuietHours
	state        *RunState
	now          func() time.Time

	// cycleMu keeps cycles and opener runs from overlapping.
	cycleMu sync.Mutex
	wake    chan struct{}
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg *config.Config, deps Deps, opts ...Option) (*Engine, error) {
	if deps.Store == nil || deps.Transport == nil || deps.Generator == nil || deps.Rate == nil {
		return nil, errors.New("engine requires a store, transport, generator and rate controller")
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewEventBus()
	}
	e := &Engine{
		cfg:          cfg.Engine,
		historyLimit: cfg.Generator.HistoryLimit,
		store:        deps.Store,
		tr:           deps.Transport,
		gen:          deps.Generator,
		rate:         deps.Rate,
		bus:          deps.Bus,
		meter:        deps.Meter,
		quiet:        deps.Quiet,
		state:        NewRunState(cfg.Engine.EnabledOnStartup),
		now:          time.Now,
		wake:         make(chan struct{}, 1),
	}
	if e.cfg.Workers <= 0 {
		e.cfg.Workers = 1
	}
	if cl, ok := deps.Transport.(concurrencyLimited); ok {
		if n := cl.MaxConcurrency(); n > 0 && n < e.cfg.Workers {
			logger.InfoCF("engine", "Transport limits concurrency", map[string]any{
				"transport": deps.Transport.Name(),
				"workers":   n,
			})
			e.cfg.Workers = n
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start recovers state left by a previous run and starts the transport.
func (e *Engine) Start(ctx context.Context) error {
	n, err := e.store.RecoverPending(ctx, "interrupted by restart")
	if err != nil {
		return err
	}
	if n > 0 {
		logger.WarnCF("engine", "Recovered pending messages from previous run", map[string]any{
			"count": n,
		})
	}
	if err := e.rate.Load(ctx, e.store); err != nil {
		return fmt.Errorf("failed to load rate budget: %w", err)
	}
	if err := e.tr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", e.tr.Name(), err)
	}
	logger.InfoCF("engine", "Engine started", map[string]any{
		"transport": e.tr.Name(),
		"enabled":   e.state.Enabled(),
		"workers":   e.cfg.Workers,
	})
	return nil
}

// Stop persists the rate budget and stops the transport. Call it after Run
// has returned.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	if err := e.rate.Save(ctx, e.store); err != nil {
		errs = append(errs, fmt.Errorf("failed to save rate budget: %w", err))
	}
	if err := e.tr.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop transport: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) Bus() *bus.EventBus { return e.bus }

func (e *Engine) Enabled() bool { return e.state.Enabled() }

// SetEnabled switches the bot on or off. Enabling wakes the scheduler so
// the next cycle runs without waiting for the poll interval.
func (e *Engine) SetEnabled(enabled bool) {
	if e.state.SetEnabled(enabled) {
		e.enabledChanged(enabled)
	}
}

// Toggle flips the enabled flag and returns the new value.
func (e *Engine) Toggle() bool {
	enabled := e.state.Toggle()
	e.enabledChanged(enabled)
	return enabled
}

func (e *Engine) enabledChanged(enabled bool) {
	logger.InfoCF("engine", "Enabled state changed", map[string]any{
		"enabled": enabled,
	})
	e.publish(bus.Event{
		Type: bus.EventEnabledChanged,
		Data: map[string]any{"enabled": enabled},
	})
	if enabled {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// SetMatchStatus applies an operator decision. Reactivating a match clears
// its remembered error.
func (e *Engine) SetMatchStatus(ctx context.Context, matchID string, status session.MatchStatus, reason string) error {
	if err := e.store.SetMatchStatus(ctx, matchID, status, reason); err != nil {
		return err
	}
	if status == session.MatchActive {
		e.state.ClearMatchError(matchID)
	}
	logger.InfoCF("engine", "Match status set by operator", map[string]any{
		"match_id": matchID,
		"status":   string(status),
	})
	e.publish(bus.Event{Type: matchEvent[status], MatchID: matchID, Text: reason})
	return nil
}

var matchEvent = map[session.MatchStatus]bus.EventType{
	session.MatchActive:  bus.EventMatchResumed,
	session.MatchPaused:  bus.EventMatchPaused,
	session.MatchClosed:  bus.EventMatchClosed,
	session.MatchBlocked: bus.EventMatchBlocked,
}

func (e *Engine) publish(ev bus.Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now().UTC()
	}
	if err := e.bus.Publish(ev); err != nil && !errors.Is(err, bus.ErrBusClosed) {
		logger.DebugCF("engine", "Event publish failed", map[string]any{
			"type":  string(ev.Type),
			"error": err.Error(),
		})
	}
}
