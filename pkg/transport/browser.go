package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/logger"
)

var (
	errWall       = errors.New("login or verification wall detected")
	errNotStarted = errors.New("browser is not started")
)

// BrowserTransport drives the platform's web client through Chrome. A single
// tab is shared, so calls are serialized; a caller whose context ends while
// waiting for the tab gives up without touching it.
type BrowserTransport struct {
	*BaseTransport
	cfg   config.BrowserConfig
	stamp *stamper

	tab         *semaphore.Weighted
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

type browserMatch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type browserMessage struct {
	Text     string `json:"text"`
	Own      bool   `json:"own"`
	Datetime string `json:"datetime"`
}

func NewBrowserTransport(cfg config.PlatformConfig) (*BrowserTransport, error) {
	if cfg.Browser.BaseURL == "" {
		return nil, fmt.Errorf("browser base_url is not configured")
	}
	if cfg.BindInterface != "" || cfg.SourceIP != "" {
		logger.WarnCF("transport", "Interface binding is not supported by the browser transport", map[string]any{
			"interface": cfg.BindInterface,
			"source_ip": cfg.SourceIP,
		})
	}
	return &BrowserTransport{
		BaseTransport: NewBaseTransport(config.TransportBrowser, cfg.AllowMatches),
		cfg:           cfg.Browser,
		stamp:         newStamper(),
		tab:           semaphore.NewWeighted(1),
	}, nil
}

// MaxConcurrency is 1: parallel callers would only queue for the tab.
func (t *BrowserTransport) MaxConcurrency() int { return 1 }

func (t *BrowserTransport) acquire(ctx context.Context, op, matchID string) error {
	if err := t.tab.Acquire(ctx, 1); err != nil {
		return Transient(op, matchID, fmt.Errorf("waiting for browser tab: %w", err))
	}
	return nil
}

func (t *BrowserTransport) Start(ctx context.Context) error {
	if err := t.acquire(ctx, "start browser", ""); err != nil {
		return err
	}
	defer t.tab.Release(1)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", t.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if t.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.ExpandHome(t.cfg.UserDataDir)))
	}
	if t.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(t.cfg.ExecPath))
	}

	// The browser outlives the start context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	t.allocCancel = allocCancel
	t.tabCtx = tabCtx
	t.tabCancel = tabCancel

	if err := t.outcome(ctx, "start browser", "", t.run(ctx, chromedp.Navigate(t.url("/app/matches")))); err != nil {
		t.shutdown()
		return err
	}

	t.SetRunning(true)
	logger.InfoCF("transport", "Browser transport started", map[string]any{
		"base_url": t.cfg.BaseURL,
		"headless": t.cfg.Headless,
	})
	return nil
}

func (t *BrowserTransport) Stop(ctx context.Context) error {
	if err := t.tab.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for browser tab: %w", err)
	}
	defer t.tab.Release(1)
	t.shutdown()
	t.SetRunning(false)
	return nil
}

func (t *BrowserTransport) shutdown() {
	if t.tabCancel != nil {
		t.tabCancel()
		t.tabCancel = nil
	}
	if t.allocCancel != nil {
		t.allocCancel()
		t.allocCancel = nil
	}
	t.tabCtx = nil
}

func (t *BrowserTransport) FetchNewMatches(ctx context.Context) ([]MatchInfo, error) {
	if err := t.acquire(ctx, "fetch matches", ""); err != nil {
		return nil, err
	}
	defer t.tab.Release(1)

	var raw []browserMatch
	err := t.run(ctx,
		chromedp.Navigate(t.url("/app/matches")),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(matchListJS(t.cfg.Selectors.MatchItem), &raw),
	)
	if err := t.outcome(ctx, "fetch matches", "", err); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	matches := make([]MatchInfo, 0, len(raw))
	for _, m := range raw {
		if m.ID == "" {
			continue
		}
		matches = append(matches, MatchInfo{ID: m.ID, Name: m.Name, MatchedAt: now})
	}
	return t.FilterAllowed(matches), nil
}

func (t *BrowserTransport) FetchNewMessages(ctx context.Context, matchID string) ([]InboundMessage, error) {
	if !t.IsAllowed(matchID) {
		return nil, nil
	}
	if err := t.acquire(ctx, "fetch messages", matchID); err != nil {
		return nil, err
	}
	defer t.tab.Release(1)

	var raw []browserMessage
	sel := t.cfg.Selectors
	err := t.run(ctx,
		chromedp.Navigate(t.url("/app/messages/"+matchID)),
		chromedp.WaitVisible(sel.MessageInput, chromedp.ByQuery),
		chromedp.Evaluate(messageListJS(sel.MessageItem, sel.OwnMessage), &raw),
	)
	if err := t.outcome(ctx, "fetch messages", matchID, err); err != nil {
		return nil, err
	}
	return t.FilterNew(matchID, t.stamp.inbound(matchID, raw, time.Now().UTC())), nil
}

func (t *BrowserTransport) SendMessage(ctx context.Context, matchID, text string) Result {
	if !t.IsAllowed(matchID) {
		return ResultFromError(Permanent("send message", matchID, errors.New("match is not in the allow list")))
	}
	if err := t.acquire(ctx, "send message", matchID); err != nil {
		return ResultFromError(err)
	}
	defer t.tab.Release(1)

	sel := t.cfg.Selectors
	err := t.run(ctx,
		chromedp.Navigate(t.url("/app/messages/"+matchID)),
		chromedp.WaitVisible(sel.MessageInput, chromedp.ByQuery),
		chromedp.Click(sel.MessageInput, chromedp.ByQuery),
		chromedp.SendKeys(sel.MessageInput, text, chromedp.ByQuery),
		chromedp.Click(sel.SendButton, chromedp.ByQuery),
	)
	if err := t.outcome(ctx, "send message", matchID, err); err != nil {
		return ResultFromError(err)
	}
	return Delivered("")
}

// run executes actions on the shared tab, bounded by the caller's context.
func (t *BrowserTransport) run(ctx context.Context, actions ...chromedp.Action) error {
	if t.tabCtx == nil {
		return errNotStarted
	}
	runCtx, cancel := context.WithCancel(t.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// outcome checks the page for a wall after an action and classifies the result.
func (t *BrowserTransport) outcome(ctx context.Context, op, matchID string, err error) error {
	if t.tabCtx == nil {
		return browserOutcome(op, matchID, browserState{}, err)
	}
	st := browserState{Started: true}
	walled := false
	if werr := t.run(ctx,
		chromedp.Location(&st.Location),
		chromedp.Evaluate(existsJS(t.cfg.Selectors.LoginWall), &walled),
	); werr == nil {
		st.Walled = walled || isWallURL(st.Location)
	}
	return browserOutcome(op, matchID, st, err)
}

// browserState is what the tab looked like after an action.
type browserState struct {
	Started  bool
	Walled   bool
	Location string
}

// browserOutcome gives browser failures the same classification as the API
// backend: a login or verification wall is a permanent auth failure, a tab
// that never started is permanent, and anything else the page did (missing
// element, timeout, navigation error) is transient.
func browserOutcome(op, matchID string, st browserState, err error) error {
	switch {
	case st.Walled:
		te := Permanent(op, matchID, fmt.Errorf("%w at %s", errWall, st.Location))
		te.Auth = true
		return te
	case !st.Started:
		if err == nil {
			err = errNotStarted
		}
		return Permanent(op, matchID, err)
	case err != nil:
		return Transient(op, matchID, err)
	}
	return nil
}

func (t *BrowserTransport) url(path string) string {
	return strings.TrimRight(t.cfg.BaseURL, "/") + path
}

func isWallURL(location string) bool {
	lower := strings.ToLower(location)
	for _, marker := range []string{"/login", "/verify", "/challenge", "captcha"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func existsJS(selector string) string {
	if selector == "" {
		return "false"
	}
	return fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
}

func matchListJS(selector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => {
	const link = el.closest('a') || el.querySelector('a');
	const href = link ? link.getAttribute('href') || '' : '';
	const parts = href.split('/').filter(Boolean);
	return {id: parts.length ? parts[parts.length - 1] : '', name: (el.getAttribute('aria-label') || el.textContent || '').trim()};
})`, jsString(selector))
}

func messageListJS(itemSelector, ownSelector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => {
	const own = %s ? (el.matches(%s) || el.closest(%s) !== null) : false;
	const t = el.querySelector('time[datetime]');
	return {text: (el.textContent || '').trim(), own: own, datetime: t ? t.getAttribute('datetime') : ''};
})`, jsString(itemSelector), jsString(ownSelector), jsString(ownSelector), jsString(ownSelector))
}
