package session

import (
	"context"
	"fmt"
	"time"
)

// Counts aggregates matches by status and messages by delivery status.
// SentSince counts outbound messages sent at or after since.
func (s *Store) Counts(ctx context.Context, since time.Time) (Counts, error) {
	c := Counts{MatchesByStatus: make(map[MatchStatus]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM matches GROUP BY status")
	if err != nil {
		return c, fmt.Errorf("failed to count matches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return c, fmt.Errorf("failed to scan match count: %w", err)
		}
		c.MatchesByStatus[MatchStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("failed to iterate match counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN direction = 'inbound' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN direction = 'outbound' AND status = 'sent' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN direction = 'outbound' AND status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN direction = 'outbound' AND status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN direction = 'outbound' AND status = 'sent' AND sent_at >= ? THEN 1 ELSE 0 END), 0)
		FROM messages`,
		toNanos(since),
	).Scan(&c.Inbound, &c.Sent, &c.Failed, &c.Pending, &c.SentSince)
	if err != nil {
		return c, fmt.Errorf("failed to count messages: %w", err)
	}
	return c, nil
}
