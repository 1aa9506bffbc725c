package generator

import (
	"sort"
	"sync"
	"time"
)

// UsageMeter aggregates provider usage per model, with a per-match
// breakdown kept for the most recent activity.
type UsageMeter struct {
	mu     sync.RWMutex
	models map[string]*ModelMeter
}

type ModelMeter struct {
	Model            string                 `json:"model"`
	Calls            int64                  `json:"calls"`
	Errors           int64                  `json:"errors"`
	PromptTokens     int64                  `json:"prompt_tokens"`
	CompletionTokens int64                  `json:"completion_tokens"`
	TotalLatency     time.Duration          `json:"total_latency_ns"`
	Matches          map[string]*MatchMeter `json:"-"`
}

type MatchMeter struct {
	MatchID      string    `json:"match_id"`
	Calls        int64     `json:"calls"`
	TotalTokens  int64     `json:"total_tokens"`
	LastActivity time.Time `json:"last_activity"`
}

// UsageEvent is one provider call.
type UsageEvent struct {
	Model            string
	MatchID          string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	Failed           bool
	Timestamp        time.Time
}

// UsageSummary is the totals across all models.
type UsageSummary struct {
	Calls            int64        `json:"calls"`
	Errors           int64        `json:"errors"`
	PromptTokens     int64        `json:"prompt_tokens"`
	CompletionTokens int64        `json:"completion_tokens"`
	TotalTokens      int64        `json:"total_tokens"`
	AvgLatencyMS     int64        `json:"avg_latency_ms"`
	Models           []ModelMeter `json:"models"`
}

func NewUsageMeter() *UsageMeter {
	return &UsageMeter{models: make(map[string]*ModelMeter)}
}

func (m *UsageMeter) Record(event UsageEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meter, ok := m.models[event.Model]
	if !ok {
		meter = &ModelMeter{
			Model:   event.Model,
			Matches: make(map[string]*MatchMeter),
		}
		m.models[event.Model] = meter
	}

	meter.Calls++
	meter.PromptTokens += int64(event.PromptTokens)
	meter.CompletionTokens += int64(event.CompletionTokens)
	meter.TotalLatency += event.Duration
	if event.Failed {
		meter.Errors++
	}

	if event.MatchID == "" {
		return
	}
	mm, ok := meter.Matches[event.MatchID]
	if !ok {
		mm = &MatchMeter{MatchID: event.MatchID}
		meter.Matches[event.MatchID] = mm
	}
	mm.Calls++
	mm.TotalTokens += int64(event.PromptTokens + event.CompletionTokens)
	mm.LastActivity = event.Timestamp
}

// Summary returns a copy of the totals, models sorted by name.
func (m *UsageMeter) Summary() UsageSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s UsageSummary
	var latency time.Duration
	for _, meter := range m.models {
		s.Calls += meter.Calls
		s.Errors += meter.Errors
		s.PromptTokens += meter.PromptTokens
		s.CompletionTokens += meter.CompletionTokens
		latency += meter.TotalLatency

		cp := *meter
		cp.Matches = nil
		s.Models = append(s.Models, cp)
	}
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	if s.Calls > 0 {
		s.AvgLatencyMS = (latency / time.Duration(s.Calls)).Milliseconds()
	}
	sort.Slice(s.Models, func(i, j int) bool { return s.Models[i].Model < s.Models[j].Model })
	return s
}

// MatchUsage returns per-match usage for model.
func (m *UsageMeter) MatchUsage(model, matchID string) (MatchMeter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meter, ok := m.models[model]
	if !ok {
		return MatchMeter{}, false
	}
	mm, ok := meter.Matches[matchID]
	if !ok {
		return MatchMeter{}, false
	}
	return *mm, true
}
