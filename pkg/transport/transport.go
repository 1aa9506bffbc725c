// Package transport moves messages between the bot and the dating platform.
//
// Two backends exist, the platform REST API and a browser-automation driver.
// Both report outcomes with the same three-way classification so the engine
// never needs to know which one is running:
//
//	ok               delivered
//	transient_error  retry on the next poll cycle
//	permanent_error  stop trying until an operator intervenes
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinyland-inc/wingman/pkg/config"
)

type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	FetchNewMatches(ctx context.Context) ([]MatchInfo, error)
	FetchNewMessages(ctx context.Context, matchID string) ([]InboundMessage, error)
	SendMessage(ctx context.Context, matchID, text string) Result
}

// MatchInfo is a match as reported by the platform.
type MatchInfo struct {
	ID        string
	Name      string
	MatchedAt time.Time
}

// InboundMessage is a message written by the match.
type InboundMessage struct {
	PlatformID string
	MatchID    string
	Text       string
	Timestamp  time.Time
}

type ResultKind string

const (
	ResultOK        ResultKind = "ok"
	ResultTransient ResultKind = "transient_error"
	ResultPermanent ResultKind = "permanent_error"
)

// Result is the outcome of a send. Err is nil only when Kind is ResultOK.
type Result struct {
	Kind       ResultKind
	PlatformID string
	Err        error
}

func (r Result) OK() bool { return r.Kind == ResultOK }

// Delivered builds a successful result.
func Delivered(platformID string) Result {
	return Result{Kind: ResultOK, PlatformID: platformID}
}

// ResultFromError converts a transport error into a send result. Errors that
// are not *Error are treated as transient.
func ResultFromError(err error) Result {
	if err == nil {
		return Result{Kind: ResultOK}
	}
	var te *Error
	if errors.As(err, &te) {
		return Result{Kind: te.Kind, Err: err}
	}
	return Result{Kind: ResultTransient, Err: err}
}

// Error is a classified transport failure.
type Error struct {
	Kind       ResultKind
	Op         string
	MatchID    string
	StatusCode int
	// Unmatched is set when the platform reports the match no longer exists.
	Unmatched bool
	// Auth is set when the account's session was rejected. It concerns every
	// match, not just MatchID.
	Auth bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.MatchID != "" {
		msg += " " + e.MatchID
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(op, matchID string, err error) *Error {
	return &Error{Kind: ResultTransient, Op: op, MatchID: matchID, Err: err}
}

func Permanent(op, matchID string, err error) *Error {
	return &Error{Kind: ResultPermanent, Op: op, MatchID: matchID, Err: err}
}

// IsPermanent reports whether err is a permanent transport error.
func IsPermanent(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == ResultPermanent
}

// IsUnmatched reports whether err says the match is gone.
func IsUnmatched(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Unmatched
}

// IsAuth reports whether err says the platform session is no longer valid.
func IsAuth(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Auth
}

// New builds the backend selected by cfg.Transport. The choice is made once
// at startup.
func New(cfg config.PlatformConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportAPI:
		return NewAPITransport(cfg)
	case config.TransportBrowser:
		return NewBrowserTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
