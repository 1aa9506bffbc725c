package bus

import "time"

type EventType string

const (
	EventCycleStarted     EventType = "cycle_started"
	EventCycleCompleted   EventType = "cycle_completed"
	EventMatchDiscovered  EventType = "match_discovered"
	EventMessageReceived  EventType = "message_received"
	EventMessageSent      EventType = "message_sent"
	EventOpenerSent       EventType = "opener_sent"
	EventMessageFailed    EventType = "message_failed"
	EventGenerationFailed EventType = "generation_failed"
	EventMatchBlocked     EventType = "match_blocked"
	EventMatchClosed      EventType = "match_closed"
	EventMatchPaused      EventType = "match_paused"
	EventMatchResumed     EventType = "match_resumed"
	EventEnabledChanged   EventType = "enabled_changed"
	EventBackoff          EventType = "backoff"
)

// Event is a notable engine occurrence, fanned out to subscribers such as
// the control surface websocket and the operator notifier.
type Event struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	MatchID string         `json:"match_id,omitempty"`
	Text    string         `json:"text,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}
