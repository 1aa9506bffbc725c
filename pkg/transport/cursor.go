package transport

import (
	"sync"
	"time"
)

type cursorMap struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (c *cursorMap) filter(matchID string, msgs []InboundMessage) []InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.m[matchID]
	out := make([]InboundMessage, 0, len(msgs))
	newest := last
	for _, msg := range msgs {
		if !last.IsZero() && !msg.Timestamp.After(last) {
			continue
		}
		out = append(out, msg)
		if msg.Timestamp.After(newest) {
			newest = msg.Timestamp
		}
	}
	c.m[matchID] = newest
	return out
}
