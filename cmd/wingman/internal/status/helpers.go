package status

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/fatih/color"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/engine"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
)

func statusCmd(w io.Writer, asJSON bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var st engine.Status
	req := internal.ControlRequest(internal.ControlClient(cfg)).SetResult(&st)
	if err := internal.CheckResponse(req.Get("/status")); err != nil {
		return err
	}
	if asJSON {
		return printJSON(w, st)
	}
	printStatus(w, st, time.Now())
	return nil
}

func statsCmd(w io.Writer, asJSON bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var st engine.Stats
	req := internal.ControlRequest(internal.ControlClient(cfg)).SetResult(&st)
	if err := internal.CheckResponse(req.Get("/stats")); err != nil {
		return err
	}
	if asJSON {
		return printJSON(w, st)
	}
	printStats(w, st)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, st engine.Status, now time.Time) {
	fmt.Fprintf(w, "%s wingman status\n\n", internal.Logo)

	state := color.New(color.FgGreen).Sprint("enabled")
	if !st.Enabled {
		state = color.New(color.FgYellow).Sprint("disabled")
	}
	health := color.New(color.FgGreen).Sprint("healthy")
	if !st.Healthy {
		health = color.New(color.FgRed).Sprint("unhealthy")
	}
	fmt.Fprintf(w, "  Bot:        %s, %s\n", state, health)
	fmt.Fprintf(w, "  Transport:  %s\n", st.Transport)
	fmt.Fprintf(w, "  Last poll:  %s\n", ago(st.LastPollAt, now))
	fmt.Fprintf(w, "  Last cycle: %s (%d cycles)\n", st.LastCycleDuration.Round(time.Millisecond), st.Cycles)
	if st.Quiet {
		fmt.Fprintf(w, "  Sending:    %s\n", color.New(color.FgCyan).Sprint("quiet hours"))
	}
	if st.BackoffUntil.After(now) {
		fmt.Fprintf(w, "  Sending:    %s until %s\n",
			color.New(color.FgRed).Sprint("backed off"), st.BackoffUntil.Local().Format("15:04:05"))
	}
	for _, win := range st.Windows {
		fmt.Fprintf(w, "  Window:     %s\n", formatWindow(win))
	}

	if len(st.ErrorCounts) > 0 {
		fmt.Fprintln(w, "\n  Errors:")
		for _, kind := range slices.Sorted(maps.Keys(st.ErrorCounts)) {
			fmt.Fprintf(w, "    %-11s %d\n", kind+":", st.ErrorCounts[kind])
		}
	}

	fmt.Fprintf(w, "\n  Awaiting reply: %d\n", len(st.Outstanding))
	for _, id := range slices.Sorted(maps.Keys(st.Outstanding)) {
		fmt.Fprintf(w, "    %s (%d unanswered)\n", id, st.Outstanding[id])
	}

	if len(st.LastErrors) > 0 {
		fmt.Fprintln(w, "\n  Match errors:")
		for _, id := range slices.Sorted(maps.Keys(st.LastErrors)) {
			fmt.Fprintf(w, "    %s %s\n", id, color.New(color.FgRed).Sprint(st.LastErrors[id]))
		}
	}
}

func printStats(w io.Writer, st engine.Stats) {
	fmt.Fprintf(w, "%s wingman stats\n\n", internal.Logo)
	fmt.Fprintf(w, "  Messages:  %d received, %d sent, %d failed, %d pending\n",
		st.Messages.Inbound, st.Messages.Sent, st.Messages.Failed, st.Messages.Pending)
	fmt.Fprintf(w, "  Last 24h:  %d sent\n", st.Messages.SentSince)
	for _, status := range slices.Sorted(maps.Keys(st.Messages.MatchesByStatus)) {
		fmt.Fprintf(w, "  Matches:   %d %s\n", st.Messages.MatchesByStatus[status], status)
	}
	fmt.Fprintf(w, "  Cycles:    %d\n", st.Cycles)
	fmt.Fprintf(w, "  Generator: %d calls, %d errors, %d tokens, %dms avg\n",
		st.Usage.Calls, st.Usage.Errors, st.Usage.TotalTokens, st.Usage.AvgLatencyMS)
	if st.EventsLost > 0 {
		fmt.Fprintf(w, "  Events:    %s\n", color.New(color.FgYellow).Sprintf("%d dropped", st.EventsLost))
	}
}

func formatWindow(win ratelimit.WindowUsage) string {
	limit := "unlimited"
	if win.Cap > 0 {
		limit = fmt.Sprintf("%d/%d", win.Count+win.InFlight, win.Cap)
		if win.Count+win.InFlight >= win.Cap {
			limit = color.New(color.FgYellow).Sprint(limit)
		}
	}
	s := fmt.Sprintf("%s %s", win.Name, limit)
	if !win.ResetAt.IsZero() {
		s += ", resets " + win.ResetAt.Local().Format("Jan 2 15:04")
	}
	return s
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Round(time.Second).String() + " ago"
}
