package transport

import (
	"sync/atomic"
	"time"
)

// BaseTransport carries the state every backend shares: its name, the
// running flag, the match allow list and the per-match read cursor.
type BaseTransport struct {
	name      string
	running   atomic.Bool
	allowList []string
	cursors   cursorMap
}

func NewBaseTransport(name string, allowList []string) *BaseTransport {
	return &BaseTransport{
		name:      name,
		allowList: allowList,
		cursors:   cursorMap{m: make(map[string]time.Time)},
	}
}

func (b *BaseTransport) Name() string {
	return b.name
}

func (b *BaseTransport) IsRunning() bool {
	return b.running.Load()
}

func (b *BaseTransport) SetRunning(running bool) {
	b.running.Store(running)
}

// IsAllowed reports whether the bot may act on matchID.
func (b *BaseTransport) IsAllowed(matchID string) bool {
	if len(b.allowList) == 0 {
		return true
	}
	for _, allowed := range b.allowList {
		if allowed == matchID {
			return true
		}
	}
	return false
}

// FilterAllowed drops matches outside the allow list.
func (b *BaseTransport) FilterAllowed(matches []MatchInfo) []MatchInfo {
	if len(b.allowList) == 0 {
		return matches
	}
	out := matches[:0]
	for _, m := range matches {
		if b.IsAllowed(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// FilterNew keeps messages newer than the match's cursor and advances it.
// The cursor only trims repeat traffic; the session store still dedupes.
func (b *BaseTransport) FilterNew(matchID string, msgs []InboundMessage) []InboundMessage {
	return b.cursors.filter(matchID, msgs)
}
