package session

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/wingman/pkg/ratelimit"
)

var _ ratelimit.BudgetStore = (*Store)(nil)

// LoadBudget reads the persisted rate budget.
func (s *Store) LoadBudget(ctx context.Context) (ratelimit.Budget, error) {
	var b ratelimit.Budget

	rows, err := s.db.QueryContext(ctx, "SELECT name, count, reset_at FROM rate_windows ORDER BY name")
	if err != nil {
		return b, fmt.Errorf("failed to load rate windows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			w       ratelimit.WindowCounter
			resetAt int64
		)
		if err := rows.Scan(&w.Name, &w.Count, &resetAt); err != nil {
			return b, fmt.Errorf("failed to scan rate window: %w", err)
		}
		w.ResetAt = fromNanos(resetAt)
		b.Windows = append(b.Windows, w)
	}
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("failed to iterate rate windows: %w", err)
	}

	mrows, err := s.db.QueryContext(ctx,
		"SELECT match_id, next_eligible_at, window_count, last_sent_at FROM rate_matches ORDER BY match_id")
	if err != nil {
		return b, fmt.Errorf("failed to load rate matches: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var (
			m                  ratelimit.MatchCounter
			nextAt, lastSentAt int64
		)
		if err := mrows.Scan(&m.MatchID, &nextAt, &m.Count, &lastSentAt); err != nil {
			return b, fmt.Errorf("failed to scan rate match: %w", err)
		}
		m.NextEligibleAt = fromNanos(nextAt)
		m.LastSentAt = fromNanos(lastSentAt)
		b.Matches = append(b.Matches, m)
	}
	if err := mrows.Err(); err != nil {
		return b, fmt.Errorf("failed to iterate rate matches: %w", err)
	}
	return b, nil
}

// SaveBudget replaces the persisted rate budget in one transaction.
func (s *Store) SaveBudget(ctx context.Context, b ratelimit.Budget) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rate_windows"); err != nil {
		return fmt.Errorf("failed to clear rate windows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rate_matches"); err != nil {
		return fmt.Errorf("failed to clear rate matches: %w", err)
	}
	for _, w := range b.Windows {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO rate_windows (name, count, reset_at) VALUES (?, ?, ?)",
			w.Name, w.Count, toNanos(w.ResetAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save rate window %s: %w", w.Name, err)
		}
	}
	for _, m := range b.Matches {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO rate_matches (match_id, next_eligible_at, window_count, last_sent_at) VALUES (?, ?, ?, ?)",
			m.MatchID, toNanos(m.NextEligibleAt), m.Count, toNanos(m.LastSentAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save rate match %s: %w", m.MatchID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate budget: %w", err)
	}
	return nil
}
