// Package generator turns conversation history into the next message
// using an LLM provider and a persona.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/providers"
	"github.com/tinyland-inc/wingman/pkg/session"
)

type Generator struct {
	provider     providers.LLMProvider
	persona      *Persona
	meter        *UsageMeter
	model        string
	maxTokens    int
	temperature  float64
	timeout      time.Duration
	historyLimit int
	now          func() time.Time
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithMeter(m *UsageMeter) Option {
	return func(g *Generator) { g.meter = m }
}

func New(provider providers.LLMProvider, persona *Persona, cfg config.GeneratorConfig, opts ...Option) *Generator {
	model := cfg.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}
	g := &Generator{
		provider:     provider,
		persona:      persona,
		meter:        NewUsageMeter(),
		model:        model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		timeout:      cfg.TimeoutDuration(),
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Meter() *UsageMeter { return g.meter }

func (g *Generator) Model() string { return g.model }

// GenerateReply produces the next outbound message for match given its
// recent history, oldest first. The last usable turn must be inbound.
func (g *Generator) GenerateReply(ctx context.Context, match session.Match, history []session.Message) (string, error) {
	system := g.persona.render(g.persona.SystemPrompt, match.Name, g.now())
	msgs, err := buildConversation(system, history, g.historyLimit)
	if err != nil {
		return "", &GenerationError{Reason: ReasonEmpty, Err: err}
	}
	return g.complete(ctx, match.ID, msgs)
}

// GenerateOpener produces a first message for a match with no history.
func (g *Generator) GenerateOpener(ctx context.Context, match session.Match) (string, error) {
	now := g.now()
	msgs := []providers.Message{
		{Role: "system", Content: g.persona.render(g.persona.SystemPrompt, match.Name, now)},
		{Role: "user", Content: g.persona.render(g.persona.OpenerPrompt, match.Name, now)},
	}
	return g.complete(ctx, match.ID, msgs)
}

func (g *Generator) complete(ctx context.Context, matchID string, msgs []providers.Message) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := g.now()
	resp, err := g.provider.Chat(ctx, msgs, g.model, map[string]any{
		"max_tokens":  g.maxTokens,
		"temperature": g.temperature,
	})
	event := UsageEvent{
		Model:     g.model,
		MatchID:   matchID,
		Duration:  g.now().Sub(started),
		Failed:    err != nil,
		Timestamp: g.now(),
	}
	if resp != nil && resp.Usage != nil {
		event.PromptTokens = resp.Usage.PromptTokens
		event.CompletionTokens = resp.Usage.CompletionTokens
	}
	g.meter.Record(event)

	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		gerr := classifyError(err)
		logger.WarnCF("generator", "Generation failed", map[string]any{
			"match_id": matchID,
			"reason":   string(gerr.Reason),
			"error":    err.Error(),
		})
		return "", gerr
	}

	if resp.FinishReason == providers.FinishContentFilter {
		return "", &GenerationError{Reason: ReasonContentPolicy, Err: errors.New("provider refused the request")}
	}
	text := cleanReply(resp.Content)
	if text == "" {
		return "", &GenerationError{Reason: ReasonEmpty, Err: errors.New("provider returned no text")}
	}
	if phrase, bad := g.persona.violates(text); bad {
		return "", &GenerationError{Reason: ReasonContentPolicy, Err: fmt.Errorf("reply contains avoided phrase %q", phrase)}
	}

	logger.DebugCF("generator", "Generated message", map[string]any{
		"match_id": matchID,
		"length":   len(text),
		"tokens":   event.PromptTokens + event.CompletionTokens,
	})
	return text, nil
}

// buildConversation maps history to provider turns. Inbound becomes user,
// sent outbound becomes assistant, anything else is skipped. Consecutive
// turns of one role are merged and assistant turns before the first user
// turn are folded into the system prompt.
func buildConversation(system string, history []session.Message, limit int) ([]providers.Message, error) {
	var turns []providers.Message
	for _, m := range history {
		var role string
		switch {
		case m.Direction == session.Inbound:
			role = "user"
		case m.Direction == session.Outbound && m.Status == session.StatusSent:
			role = "assistant"
		default:
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n" + text
			continue
		}
		turns = append(turns, providers.Message{Role: role, Content: text})
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	var earlier []string
	for len(turns) > 0 && turns[0].Role == "assistant" {
		earlier = append(earlier, turns[0].Content)
		turns = turns[1:]
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return nil, errors.New("no inbound message to reply to")
	}
	if len(earlier) > 0 {
		system += "\n\nEarlier you wrote:\n" + strings.Join(earlier, "\n")
	}

	return append([]providers.Message{{Role: "system", Content: system}}, turns...), nil
}

// cleanReply strips wrapping quotes and speaker labels models sometimes add.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Me:", "Reply:", "Response:"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = strings.TrimSpace(rest)
		}
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
