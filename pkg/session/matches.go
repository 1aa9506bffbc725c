package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const matchColumns = "id, name, matched_at, status, last_activity_at, last_error, created_at, updated_at"

func scanMatch(row rowScanner) (Match, error) {
	var (
		m                                           Match
		status                                      string
		matchedAt, lastActivity, createdAt, updated int64
	)
	if err := row.Scan(&m.ID, &m.Name, &matchedAt, &status, &lastActivity, &m.LastError, &createdAt, &updated); err != nil {
		return Match{}, err
	}
	m.Status = MatchStatus(status)
	m.MatchedAt = fromNanos(matchedAt)
	m.LastActivityAt = fromNanos(lastActivity)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updated)
	return m, nil
}

func collectMatches(rows *sql.Rows) ([]Match, error) {
	defer rows.Close()
	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}
	return out, nil
}

// UpsertMatch inserts a newly reported match as active, or refreshes the name
// of a known one. The status of a known match is never changed here, so a
// blocked or closed match stays that way.
func (s *Store) UpsertMatch(ctx context.Context, m Match) (bool, error) {
	if m.ID == "" {
		return false, fmt.Errorf("match id is required")
	}
	now := s.now()
	status := m.Status
	if status == "" {
		status = MatchActive
	}
	if !status.Valid() {
		return false, fmt.Errorf("invalid match status %q", status)
	}
	lastActivity := m.LastActivityAt
	if lastActivity.IsZero() {
		lastActivity = m.MatchedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches WHERE id = ?", m.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up match: %w", err)
	}

	if exists > 0 {
		if m.Name != "" {
			_, err = tx.ExecContext(ctx,
				"UPDATE matches SET name = ?, updated_at = ? WHERE id = ?",
				m.Name, toNanos(now), m.ID,
			)
			if err != nil {
				return false, fmt.Errorf("failed to update match: %w", err)
			}
		}
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO matches ("+matchColumns+") VALUES (?, ?, ?, ?, ?, '', ?, ?)",
		m.ID, m.Name, toNanos(m.MatchedAt), string(status), toNanos(lastActivity), toNanos(now), toNanos(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create match: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit match: %w", err)
	}
	return true, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (Match, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+matchColumns+" FROM matches WHERE id = ?", id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return Match{}, fmt.Errorf("match %s: %w", id, ErrMatchNotFound)
	}
	if err != nil {
		return Match{}, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// ListMatches returns matches with any of the given statuses (all when none
// are given), oldest activity first.
func (s *Store) ListMatches(ctx context.Context, statuses ...MatchStatus) ([]Match, error) {
	query := "SELECT " + matchColumns + " FROM matches"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY last_activity_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return collectMatches(rows)
}

// SetMatchStatus moves a match to status. A non-empty reason is recorded as
// the match's last error; returning a match to active clears it.
func (s *Store) SetMatchStatus(ctx context.Context, id string, status MatchStatus, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid match status %q", status)
	}
	query := "UPDATE matches SET status = ?, updated_at = ?"
	args := []any{string(status), toNanos(s.now())}
	switch {
	case reason != "":
		query += ", last_error = ?"
		args = append(args, reason)
	case status == MatchActive:
		query += ", last_error = ''"
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set match status: %w", err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("match %s: %w", id, ErrMatchNotFound)
	}
	return nil
}

// lastCountedDirection is the direction of the latest message that counts for
// the outstanding-reply rule: inbound messages and sent outbound ones.
const lastCountedDirection = `(SELECT x.direction FROM messages x
	WHERE x.match_id = m.id AND (x.direction = 'inbound' OR x.status = 'sent')
	ORDER BY x.ts DESC, x.seq DESC LIMIT 1)`

// OutstandingMatches returns active matches awaiting a reply, oldest
// activity first.
func (s *Store) OutstandingMatches(ctx context.Context) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+prefixed("m", matchColumns)+" FROM matches m"+
			" WHERE m.status = 'active' AND "+lastCountedDirection+" = 'inbound'"+
			" ORDER BY m.last_activity_at ASC, m.id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding matches: %w", err)
	}
	return collectMatches(rows)
}

// MatchesWithoutMessages returns up to limit active matches nobody has
// written to yet, oldest match first.
func (s *Store) MatchesWithoutMessages(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+prefixed("m", matchColumns)+" FROM matches m"+
			" WHERE m.status = 'active' AND NOT EXISTS (SELECT 1 FROM messages x WHERE x.match_id = m.id)"+
			" ORDER BY m.matched_at ASC, m.id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches without messages: %w", err)
	}
	return collectMatches(rows)
}

// Summaries returns every match with its unanswered inbound count and pending
// outbound count.
func (s *Store) Summaries(ctx context.Context) ([]MatchSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+prefixed("m", matchColumns)+`,
		(SELECT COUNT(*) FROM messages i WHERE i.match_id = m.id AND i.direction = 'inbound'
			AND i.ts > COALESCE((SELECT MAX(o.ts) FROM messages o
				WHERE o.match_id = m.id AND o.direction = 'outbound' AND o.status = 'sent'), -1)),
		(SELECT COUNT(*) FROM messages p WHERE p.match_id = m.id AND p.direction = 'outbound' AND p.status = 'pending'),
		COALESCE(`+lastCountedDirection+`, '')
		FROM matches m ORDER BY m.last_activity_at ASC, m.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize matches: %w", err)
	}
	defer rows.Close()

	var out []MatchSummary
	for rows.Next() {
		var (
			sum                                         MatchSummary
			status, lastDir                             string
			matchedAt, lastActivity, createdAt, updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &matchedAt, &status, &lastActivity, &sum.LastError,
			&createdAt, &updated, &sum.Unanswered, &sum.Pending, &lastDir); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.Status = MatchStatus(status)
		sum.MatchedAt = fromNanos(matchedAt)
		sum.LastActivityAt = fromNanos(lastActivity)
		sum.CreatedAt = fromNanos(createdAt)
		sum.UpdatedAt = fromNanos(updated)
		sum.Outstanding = lastDir == string(Inbound)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
