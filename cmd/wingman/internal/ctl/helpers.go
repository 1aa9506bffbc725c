package ctl

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/engine"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/utils"
)

type enabledResponse struct {
	Enabled bool `json:"enabled"`
}

func enabledCmd(w io.Writer, path string) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var out enabledResponse
	req := internal.ControlRequest(internal.ControlClient(cfg)).SetResult(&out)
	if err := internal.CheckResponse(req.Post(path)); err != nil {
		return err
	}
	if out.Enabled {
		fmt.Fprintf(w, "✓ wingman is %s\n", color.New(color.FgGreen).Sprint("enabled"))
	} else {
		fmt.Fprintf(w, "✓ wingman is %s\n", color.New(color.FgYellow).Sprint("disabled"))
	}
	return nil
}

func openersCmd(w io.Writer, limit int) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var report engine.OpenerReport
	req := internal.ControlRequest(internal.ControlClient(cfg)).SetResult(&report)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := internal.CheckResponse(req.Post("/openers")); err != nil {
		return err
	}
	fmt.Fprintf(w, "Openers: %d sent of %d considered", report.Sent, report.Considered)
	if report.Failed > 0 || report.GenerationErrors > 0 {
		fmt.Fprintf(w, ", %s", color.New(color.FgRed).Sprintf("%d failed, %d generation errors",
			report.Failed, report.GenerationErrors))
	}
	if report.RateLimited > 0 {
		fmt.Fprintf(w, ", %d rate limited", report.RateLimited)
	}
	if report.SendsPaused != "" {
		fmt.Fprintf(w, " (sends paused: %s)", report.SendsPaused)
	}
	fmt.Fprintln(w)
	return nil
}

func matchStatusCmd(w io.Writer, matchID, action, reason string) error {
	if err := utils.ValidateMatchID(matchID); err != nil {
		return err
	}
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	req := internal.ControlRequest(internal.ControlClient(cfg))
	if reason != "" {
		req.SetBody(map[string]string{"reason": reason})
	}
	if err := internal.CheckResponse(req.Post("/matches/" + url.PathEscape(matchID) + "/" + action)); err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ %s %sed\n", matchID, action)
	return nil
}

func matchListCmd(w io.Writer) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var matches []session.MatchSummary
	req := internal.ControlRequest(internal.ControlClient(cfg)).SetResult(&matches)
	if err := internal.CheckResponse(req.Get("/matches")); err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches yet.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tUNANSWERED\tLAST ERROR")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.Name, statusLabel(m.Status), m.Unanswered, m.LastError)
	}
	return tw.Flush()
}

func statusLabel(s session.MatchStatus) string {
	switch s {
	case session.MatchActive:
		return color.New(color.FgGreen).Sprint(s)
	case session.MatchBlocked:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}
