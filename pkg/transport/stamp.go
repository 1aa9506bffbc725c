package transport

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// stamper dates scraped messages that carry no datetime attribute. A message
// is stamped once, near the time it was first scraped, and keeps that stamp
// on later scrapes so the store's dedupe and the read cursor still work.
// Stamps within a match only move forward, which keeps a reply received after
// ours ordered after it.
type stamper struct {
	mu   sync.Mutex
	seen map[string]map[string]time.Time
	last map[string]time.Time
}

func newStamper() *stamper {
	return &stamper{
		seen: make(map[string]map[string]time.Time),
		last: make(map[string]time.Time),
	}
}

// inbound turns one scrape of a conversation, in DOM order, into the match's
// inbound messages. On the first scrape of a match only the messages after
// our last one are returned; earlier ones are history already answered.
func (s *stamper) inbound(matchID string, raw []browserMessage, scraped time.Time) []InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, known := s.seen[matchID]
	if !known {
		seen = make(map[string]time.Time)
		s.seen[matchID] = seen
	}
	floor := s.last[matchID]

	lastOwn := -1
	occurrences := make(map[string]int)
	stamps := make([]time.Time, len(raw))
	for i, m := range raw {
		text := strings.TrimSpace(m.Text)
		if m.Own {
			lastOwn = i
		}
		if ts, err := time.Parse(time.RFC3339Nano, m.Datetime); m.Datetime != "" && err == nil {
			stamps[i] = ts.UTC()
			continue
		}

		key := stampKey(m.Own, text, occurrences)
		if ts, ok := seen[key]; ok {
			stamps[i] = ts
			continue
		}
		ts := scraped.Add(-time.Duration(len(raw)-1-i))
		if !ts.After(floor) {
			ts = floor.Add(time.Nanosecond)
		}
		seen[key] = ts
		stamps[i] = ts
		floor = ts
	}
	if floor.After(s.last[matchID]) {
		s.last[matchID] = floor
	}

	msgs := make([]InboundMessage, 0, len(raw))
	for i, m := range raw {
		text := strings.TrimSpace(m.Text)
		if m.Own || text == "" {
			continue
		}
		if !known && i < lastOwn && m.Datetime == "" {
			continue
		}
		msgs = append(msgs, InboundMessage{
			MatchID:   matchID,
			Text:      text,
			Timestamp: stamps[i],
		})
	}
	return msgs
}

// stampKey identifies a message by author, text and how many identical
// messages precede it, which survives older messages scrolling out of the DOM
// better than the element index does.
func stampKey(own bool, text string, occurrences map[string]int) string {
	prefix := "in\x00"
	if own {
		prefix = "out\x00"
	}
	k := prefix + text
	n := occurrences[k]
	occurrences[k] = n + 1
	return k + "\x00" + strconv.Itoa(n)
}
