// Package notify pushes operator alerts for engine events that need a human:
// blocked matches, transport backoff and the bot being switched on or off.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/logger"
)

const (
	sendTimeout  = 10 * time.Second
	messageLimit = 4000
)

type Notifier interface {
	Name() string
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Name() string { return "none" }
func (Nop) Notify(ctx context.Context, _ string) error { return nil }

// New returns the configured notifier, or Nop when none is enabled.
func New(cfg config.NotifyConfig) (Notifier, error) {
	if cfg.Telegram.Enabled {
		return NewTelegram(cfg.Telegram)
	}
	return Nop{}, nil
}

// Telegram sends alerts to a single chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

func NewTelegram(cfg config.TelegramNotifyConfig, opts ...telego.BotOption) (*Telegram, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notify.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify.telegram.chat_id is required")
	}
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), truncate(text, messageLimit))); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Forward relays alert-worthy events from b to n until ctx is cancelled or
// the bus closes. Delivery failures are logged and never stop forwarding.
func Forward(ctx context.Context, b *bus.EventBus, n Notifier) {
	if _, ok := n.(Nop); ok {
		return
	}
	events, cancel := b.Subscribe(64)
	defer cancel()

	logger.InfoCF("notify", "Forwarding alerts", map[string]any{
		"notifier": n.Name(),
	})
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text, alert := Format(ev)
			if !alert {
				continue
			}
			sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			if err := n.Notify(sendCtx, text); err != nil {
				logger.WarnCF("notify", "Alert delivery failed", map[string]any{
					"notifier": n.Name(),
					"type":     string(ev.Type),
					"error":    err.Error(),
				})
			}
			cancelSend()
		}
	}
}

// Format renders ev as an alert. The second result is false for events
// that do not warrant one.
func Format(ev bus.Event) (string, bool) {
	switch ev.Type {
	case bus.EventMatchBlocked:
		return fmt.Sprintf("Match %s blocked: %s", ev.MatchID, orNone(ev.Text)), true
	case bus.EventMatchClosed:
		return fmt.Sprintf("Match %s closed: %s", ev.MatchID, orNone(ev.Text)), true
	case bus.EventBackoff:
		msg := "Sending paused after repeated transport errors"
		if auth, _ := ev.Data["auth"].(bool); auth {
			msg = "Paused: the platform rejected the session credentials"
		}
		if until, ok := ev.Data["until"].(time.Time); ok {
			msg += " until " + until.UTC().Format(time.RFC3339)
		}
		if ev.Text != "" {
			msg += ": " + ev.Text
		}
		return msg, true
	case bus.EventEnabledChanged:
		if enabled, _ := ev.Data["enabled"].(bool); enabled {
			return "Bot enabled", true
		}
		return "Bot disabled", true
	}
	return "", false
}

func orNone(s string) string {
	if s == "" {
		return "no reason given"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
