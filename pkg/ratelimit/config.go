package ratelimit

import (
	"fmt"
	"time"

	"github.com/tinyland-inc/wingman/pkg/config"
)

const hourlySchedule = "0 * * * *"

// NewFromConfig builds the controller described by the rate config: the
// global window, the optional hourly window, and per-match counts that reset
// with the global window whether or not it caps anything.
func NewFromConfig(cfg config.RateConfig) (*Controller, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("rate timezone %q: %w", cfg.Timezone, err)
		}
	}
	return New(Options{
		Cooldown:    cfg.CooldownDuration(),
		Jitter:      cfg.JitterDuration(),
		Location:    loc,
		MatchWindow: cfg.Window,
		Windows: []Window{
			{Name: "global", Schedule: cfg.Window, Cap: cfg.GlobalCap},
			{Name: "hourly", Schedule: hourlySchedule, Cap: cfg.HourlyCap},
		},
	})
}
