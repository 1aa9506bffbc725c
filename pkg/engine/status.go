package engine

import (
	"context"
	"time"

	"github.com/tinyland-inc/wingman/pkg/generator"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
)

// Status is what the control surface reports. It is built from RunState and
// the session store only.
type Status struct {
	StateSnapshot
	Transport   string                  `json:"transport"`
	Quiet       bool                    `json:"quiet_hours"`
	Outstanding map[string]int          `json:"outstanding"`
	LastErrors  map[string]string       `json:"last_errors"`
	Windows     []ratelimit.WindowUsage `json:"windows"`
}

// Stats are aggregate counters.
type Stats struct {
	Messages   session.Counts          `json:"messages"`
	Since      time.Time               `json:"since"`
	Cycles     int64                   `json:"cycles"`
	Errors     map[string]int64        `json:"errors"`
	Usage      generator.UsageSummary  `json:"usage"`
	Windows    []ratelimit.WindowUsage `json:"windows"`
	EventsLost int64                   `json:"events_dropped"`
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	snap := e.state.Snapshot()
	st := Status{
		StateSnapshot: snap,
		Transport:     e.tr.Name(),
		Quiet:         e.quiet.Active(e.now()),
		Outstanding:   make(map[string]int),
		LastErrors:    make(map[string]string),
		Windows:       e.rate.Usage(),
	}

	summaries, err := e.store.Summaries(ctx)
	if err != nil {
		return st, err
	}
	for _, s := range summaries {
		if s.Outstanding && s.Status == session.MatchActive {
			st.Outstanding[s.ID] = s.Unanswered
		}
		if s.LastError != "" {
			st.LastErrors[s.ID] = s.LastError
		}
	}
	for id, me := range snap.MatchErrors {
		if _, ok := st.LastErrors[id]; !ok {
			st.LastErrors[id] = me.Error
		}
	}
	return st, nil
}

// Stats counts messages over the last 24 hours alongside lifetime totals.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	snap := e.state.Snapshot()
	since := e.now().Add(-24 * time.Hour)
	counts, err := e.store.Counts(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Messages:   counts,
		Since:      since,
		Cycles:     snap.Cycles,
		Errors:     snap.ErrorCounts,
		Windows:    e.rate.Usage(),
		EventsLost: e.bus.Dropped(),
	}
	if e.meter != nil {
		st.Usage = e.meter.Summary()
	}
	return st, nil
}

// Healthy is the global health flag.
func (e *Engine) Healthy() bool { return e.state.Healthy() }

// Matches lists matches with their backlog, for operator views.
func (e *Engine) Matches(ctx context.Context) ([]session.MatchSummary, error) {
	return e.store.Summaries(ctx)
}
