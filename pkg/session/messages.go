package session

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

const messageColumns = "id, match_id, direction, body, ts, status, failure_reason, sent_at"

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg            Message
		dir, status    string
		ts, sentAtNano int64
	)
	if err := row.Scan(&msg.ID, &msg.MatchID, &dir, &msg.Text, &ts, &status, &msg.FailureReason, &sentAtNano); err != nil {
		return Message{}, err
	}
	msg.Direction = Direction(dir)
	msg.Status = DeliveryStatus(status)
	msg.Timestamp = fromNanos(ts)
	msg.SentAt = fromNanos(sentAtNano)
	return msg, nil
}

func requireMatch(ctx context.Context, tx *sql.Tx, matchID string) error {
	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches WHERE id = ?", matchID).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up match: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("match %s: %w", matchID, ErrMatchNotFound)
	}
	return nil
}

func touchActivity(ctx context.Context, tx *sql.Tx, matchID string, at, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE matches SET last_activity_at = MAX(last_activity_at, ?), updated_at = ? WHERE id = ?",
		toNanos(at), toNanos(now), matchID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match activity: %w", err)
	}
	return nil
}

// RecordInbound stores a message received from the match. Inbound messages
// are stored as sent. An identical (match, timestamp, text) tuple yields
// ErrDuplicateMessage and leaves the store unchanged.
func (s *Store) RecordInbound(ctx context.Context, matchID, text string, ts time.Time) (Message, error) {
	now := s.now()
	msg := Message{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		Direction: Inbound,
		Text:      text,
		Timestamp: ts,
		Status:    StatusSent,
		SentAt:    ts,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireMatch(ctx, tx, matchID); err != nil {
		return Message{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, '', ?)",
		msg.ID, matchID, string(Inbound), text, toNanos(ts), string(StatusSent), toNanos(ts),
	)
	if isUniqueViolation(err) {
		return Message{}, ErrDuplicateMessage
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to record inbound message: %w", err)
	}

	if err := touchActivity(ctx, tx, matchID, ts, now); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("failed to commit inbound message: %w", err)
	}
	return msg, nil
}

// RecordOutboundAttempt stores a pending outbound message and returns it as
// the handle for MarkSent or MarkFailed. Only one pending message per match
// may exist; a second attempt yields ErrPendingExists.
func (s *Store) RecordOutboundAttempt(ctx context.Context, matchID, text string) (Message, error) {
	now := s.now()
	msg := Message{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		Direction: Outbound,
		Text:      text,
		Timestamp: now,
		Status:    StatusPending,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireMatch(ctx, tx, matchID); err != nil {
		return Message{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, '', 0)",
		msg.ID, matchID, string(Outbound), text, toNanos(now), string(StatusPending),
	)
	if isUniqueViolation(err) {
		return Message{}, fmt.Errorf("match %s: %w", matchID, ErrPendingExists)
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to record outbound attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("failed to commit outbound attempt: %w", err)
	}
	return msg, nil
}

// MarkSent transitions a pending outbound message to sent.
func (s *Store) MarkSent(ctx context.Context, id string) (Message, error) {
	now := s.now()
	return s.finish(ctx, id, now,
		"UPDATE messages SET status = 'sent', sent_at = ? WHERE id = ? AND status = 'pending' RETURNING "+messageColumns,
		toNanos(now), id,
	)
}

// MarkFailed transitions a pending outbound message to failed with reason.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (Message, error) {
	return s.finish(ctx, id, time.Time{},
		"UPDATE messages SET status = 'failed', failure_reason = ? WHERE id = ? AND status = 'pending' RETURNING "+messageColumns,
		reason, id,
	)
}

func (s *Store) finish(ctx context.Context, id string, activity time.Time, query string, args ...any) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	msg, err := scanMessage(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE id = ?", id).Scan(&n); err != nil {
			return Message{}, fmt.Errorf("failed to look up message: %w", err)
		}
		if n == 0 {
			return Message{}, fmt.Errorf("message %s: %w", id, ErrMessageNotFound)
		}
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotPending)
	}
	if err != nil {
		return Message{}, fmt.Errorf("failed to update message: %w", err)
	}

	if !activity.IsZero() {
		if err := touchActivity(ctx, tx, msg.MatchID, activity, activity); err != nil {
			return Message{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("failed to commit message status: %w", err)
	}
	return msg, nil
}

// History returns the most recent limit messages of a match in chronological
// order. A non-positive limit returns the full history.
func (s *Store) History(ctx context.Context, matchID string, limit int) ([]Message, error) {
	return s.queryHistory(ctx, "match_id = ?", matchID, limit)
}

// Conversation is History restricted to the turns a reply can build on:
// inbound messages and outbound messages that were sent. Failed and pending
// attempts never count against limit.
func (s *Store) Conversation(ctx context.Context, matchID string, limit int) ([]Message, error) {
	return s.queryHistory(ctx, "match_id = ? AND (direction = 'inbound' OR status = 'sent')", matchID, limit)
}

func (s *Store) queryHistory(ctx context.Context, where, matchID string, limit int) ([]Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE " + where + " ORDER BY ts DESC, seq DESC"
	args := []any{matchID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// OutstandingReply reports whether the last message of the match is inbound
// with no sent outbound message after it. Pending and failed outbound
// messages do not answer it.
func (s *Store) OutstandingReply(ctx context.Context, matchID string) (bool, error) {
	var dir string
	err := s.db.QueryRowContext(ctx,
		`SELECT direction FROM messages
		WHERE match_id = ? AND (direction = 'inbound' OR status = 'sent')
		ORDER BY ts DESC, seq DESC LIMIT 1`,
		matchID,
	).Scan(&dir)
	if err == sql.ErrNoRows {
		if _, err := s.GetMatch(ctx, matchID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compute outstanding reply: %w", err)
	}
	return Direction(dir) == Inbound, nil
}

// PendingCount returns the number of pending outbound messages of a match.
func (s *Store) PendingCount(ctx context.Context, matchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE match_id = ? AND direction = 'outbound' AND status = 'pending'",
		matchID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return n, nil
}

// RecoverPending fails every pending outbound message. It runs at startup:
// a pending row at that point was interrupted before its outcome was known.
func (s *Store) RecoverPending(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = 'failed', failure_reason = ? WHERE direction = 'outbound' AND status = 'pending'",
		reason,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover pending messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
