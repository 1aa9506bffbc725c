package engine

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/wingman/pkg/config"
)

// QuietHours reports whether sending is suppressed at a given minute.
// Inbound polling continues regardless.
type QuietHours struct {
	schedule string
	loc      *time.Location
	gron     *gronx.Gronx
}

// NewQuietHours returns nil when quiet hours are disabled.
func NewQuietHours(cfg config.QuietHoursConfig) (*QuietHours, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	gron := gronx.New()
	if !gron.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid quiet hours schedule %q", cfg.Schedule)
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("quiet hours timezone %q: %w", cfg.Timezone, err)
		}
	}
	return &QuietHours{schedule: cfg.Schedule, loc: loc, gron: gron}, nil
}

func (q *QuietHours) Active(now time.Time) bool {
	if q == nil {
		return false
	}
	due, err := q.gron.IsDue(q.schedule, now.In(q.loc).Truncate(time.Minute))
	return err == nil && due
}
