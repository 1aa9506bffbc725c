package session

import (
	"errors"
	"time"
)

type MatchStatus string

const (
	MatchActive  MatchStatus = "active"
	MatchPaused  MatchStatus = "paused"
	MatchClosed  MatchStatus = "closed"
	MatchBlocked MatchStatus = "blocked"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchActive, MatchPaused, MatchClosed, MatchBlocked:
		return true
	}
	return false
}

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

var (
	// ErrDuplicateMessage is returned when an identical inbound message is already stored.
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrPendingExists is returned when a match already has a pending outbound message.
	ErrPendingExists = errors.New("match already has a pending outbound message")
	// ErrNotPending is returned when marking a message that is no longer pending.
	ErrNotPending = errors.New("message is not pending")
	// ErrMatchNotFound is returned for unknown match ids.
	ErrMatchNotFound = errors.New("match not found")
	// ErrMessageNotFound is returned for unknown message handles.
	ErrMessageNotFound = errors.New("message not found")
)

// Match is a conversation partner.
type Match struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	MatchedAt      time.Time   `json:"matched_at"`
	Status         MatchStatus `json:"status"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	LastError      string      `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Message is one utterance. ID is the handle returned for outbound attempts.
type Message struct {
	ID            string         `json:"id"`
	MatchID       string         `json:"match_id"`
	Direction     Direction      `json:"direction"`
	Text          string         `json:"text"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        DeliveryStatus `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	SentAt        time.Time      `json:"sent_at,omitzero"`
}

// MatchSummary is a match with its reply backlog, used by status reporting.
type MatchSummary struct {
	Match
	Unanswered  int  `json:"unanswered"`
	Pending     int  `json:"pending"`
	Outstanding bool `json:"outstanding"`
}

// Counts aggregates the store for statistics.
type Counts struct {
	MatchesByStatus map[MatchStatus]int `json:"matches_by_status"`
	Inbound         int                 `json:"inbound"`
	Sent            int                 `json:"sent"`
	Failed          int                 `json:"failed"`
	Pending         int                 `json:"pending"`
	SentSince       int                 `json:"sent_since"`
}
