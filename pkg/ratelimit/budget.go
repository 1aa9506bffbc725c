package ratelimit

import (
	"context"
	"sort"
	"time"
)

// Budget is the persisted form of the controller's counters.
type Budget struct {
	Windows []WindowCounter
	Matches []MatchCounter
}

type WindowCounter struct {
	Name    string
	Count   int
	ResetAt time.Time
}

type MatchCounter struct {
	MatchID        string
	NextEligibleAt time.Time
	Count          int
	LastSentAt     time.Time
}

// BudgetStore persists a Budget across restarts.
type BudgetStore interface {
	LoadBudget(ctx context.Context) (Budget, error)
	SaveBudget(ctx context.Context, b Budget) error
}

// Snapshot copies the counters. In-flight reservations are not persisted.
func (c *Controller) Snapshot() Budget {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := Budget{
		Windows: make([]WindowCounter, 0, len(c.windows)),
		Matches: make([]MatchCounter, 0, len(c.matches)),
	}
	for _, w := range c.windows {
		b.Windows = append(b.Windows, WindowCounter{Name: w.Name, Count: w.count, ResetAt: w.resetAt})
	}
	for id, m := range c.matches {
		if m.lastSent.IsZero() && m.nextEligible.IsZero() {
			continue
		}
		b.Matches = append(b.Matches, MatchCounter{
			MatchID:        id,
			NextEligibleAt: m.nextEligible,
			Count:          m.count,
			LastSentAt:     m.lastSent,
		})
	}
	sort.Slice(b.Matches, func(i, j int) bool { return b.Matches[i].MatchID < b.Matches[j].MatchID })
	return b
}

// Restore loads persisted counters. Windows no longer configured are dropped.
func (c *Controller) Restore(b Budget) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byName := make(map[string]WindowCounter, len(b.Windows))
	for _, w := range b.Windows {
		byName[w.Name] = w
	}
	for _, w := range c.windows {
		if saved, ok := byName[w.Name]; ok {
			w.count = saved.Count
			w.resetAt = saved.ResetAt
		}
	}
	for _, m := range b.Matches {
		c.matches[m.MatchID] = &matchState{
			nextEligible: m.NextEligibleAt,
			count:        m.Count,
			lastSent:     m.LastSentAt,
		}
	}
}

// Load restores the controller from store.
func (c *Controller) Load(ctx context.Context, store BudgetStore) error {
	b, err := store.LoadBudget(ctx)
	if err != nil {
		return err
	}
	c.Restore(b)
	return nil
}

// Save persists the controller to store.
func (c *Controller) Save(ctx context.Context, store BudgetStore) error {
	return store.SaveBudget(ctx, c.Snapshot())
}
