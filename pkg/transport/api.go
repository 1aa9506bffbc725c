package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/logger"
)

const (
	matchesPageSize  = 60
	messagesPageSize = 100
)

// APITransport talks to the platform's REST API.
type APITransport struct {
	*BaseTransport
	client *resty.Client
	tokens oauth2.TokenSource
	selfID string
}

type apiMatchesResponse struct {
	Data struct {
		Matches []struct {
			ID          string `json:"_id"`
			CreatedDate string `json:"created_date"`
			Person      struct {
				ID   string `json:"_id"`
				Name string `json:"name"`
			} `json:"person"`
		} `json:"matches"`
	} `json:"data"`
}

type apiMessage struct {
	ID        string `json:"_id"`
	MatchID   string `json:"match_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	SentDate  string `json:"sent_date"`
	Timestamp int64  `json:"timestamp"`
}

type apiMessagesResponse struct {
	Data struct {
		Messages []apiMessage `json:"messages"`
	} `json:"data"`
}

type apiProfileResponse struct {
	Data struct {
		User struct {
			ID string `json:"_id"`
		} `json:"user"`
	} `json:"data"`
}

// NewAPITransport builds the REST backend. The auth token is wrapped in a
// reusable oauth2 token source so a refreshing source can replace it later
// without touching the request path.
func NewAPITransport(cfg config.PlatformConfig) (*APITransport, error) {
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("platform auth token is not configured")
	}
	addr, err := localAddr(cfg)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetBaseURL(cfg.APIBase).
		SetTransport(boundTransport(addr)).
		SetTimeout(cfg.RequestTimeoutDuration()).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("platform", "web").
		SetHeader("app-session-id", uuid.NewString()).
		SetHeader("persistent-device-id", uuid.NewString())
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if addr != nil {
		logger.InfoCF("transport", "Binding API traffic to local address", map[string]any{
			"addr":      addr.IP.String(),
			"interface": cfg.BindInterface,
		})
	}

	tokens := oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.AuthToken,
		TokenType:   "X-Auth-Token",
	}))

	return &APITransport{
		BaseTransport: NewBaseTransport(config.TransportAPI, cfg.AllowMatches),
		client:        client,
		tokens:        tokens,
	}, nil
}

// Start resolves the account's own user id so inbound messages can be told
// apart from ours.
func (t *APITransport) Start(ctx context.Context) error {
	var profile apiProfileResponse
	resp, err := t.request(ctx).
		SetQueryParam("include", "user").
		SetResult(&profile).
		Get("/v2/profile")
	if err := classify("fetch profile", "", resp, err); err != nil {
		return err
	}
	if profile.Data.User.ID == "" {
		return Permanent("fetch profile", "", errors.New("profile response has no user id"))
	}
	t.selfID = profile.Data.User.ID
	t.SetRunning(true)
	logger.InfoCF("transport", "API transport started", map[string]any{
		"self_id": t.selfID,
	})
	return nil
}

func (t *APITransport) Stop(ctx context.Context) error {
	t.SetRunning(false)
	return nil
}

func (t *APITransport) FetchNewMatches(ctx context.Context) ([]MatchInfo, error) {
	var body apiMatchesResponse
	resp, err := t.request(ctx).
		SetQueryParams(map[string]string{
			"count":   strconv.Itoa(matchesPageSize),
			"message": "0",
		}).
		SetResult(&body).
		Get("/v2/matches")
	if err := classify("fetch matches", "", resp, err); err != nil {
		return nil, err
	}

	matches := make([]MatchInfo, 0, len(body.Data.Matches))
	for _, m := range body.Data.Matches {
		if m.ID == "" {
			continue
		}
		matches = append(matches, MatchInfo{
			ID:        m.ID,
			Name:      m.Person.Name,
			MatchedAt: parseTime(m.CreatedDate, 0),
		})
	}
	return t.FilterAllowed(matches), nil
}

func (t *APITransport) FetchNewMessages(ctx context.Context, matchID string) ([]InboundMessage, error) {
	if !t.IsAllowed(matchID) {
		return nil, nil
	}
	var body apiMessagesResponse
	resp, err := t.request(ctx).
		SetPathParam("matchID", matchID).
		SetQueryParam("count", strconv.Itoa(messagesPageSize)).
		SetResult(&body).
		Get("/v2/matches/{matchID}/messages")
	if err := classify("fetch messages", matchID, resp, err); err != nil {
		return nil, err
	}

	msgs := make([]InboundMessage, 0, len(body.Data.Messages))
	for _, m := range body.Data.Messages {
		if m.From == t.selfID || m.Message == "" {
			continue
		}
		msgs = append(msgs, InboundMessage{
			PlatformID: m.ID,
			MatchID:    matchID,
			Text:       m.Message,
			Timestamp:  parseTime(m.SentDate, m.Timestamp),
		})
	}
	return t.FilterNew(matchID, msgs), nil
}

func (t *APITransport) SendMessage(ctx context.Context, matchID, text string) Result {
	if !t.IsAllowed(matchID) {
		return ResultFromError(Permanent("send message", matchID, errors.New("match is not in the allow list")))
	}
	var sent apiMessage
	resp, err := t.request(ctx).
		SetPathParam("matchID", matchID).
		SetBody(map[string]string{"message": text}).
		SetResult(&sent).
		Post("/user/matches/{matchID}")
	if err := classify("send message", matchID, resp, err); err != nil {
		return ResultFromError(err)
	}
	return Delivered(sent.ID)
}

func (t *APITransport) request(ctx context.Context) *resty.Request {
	req := t.client.R().SetContext(ctx)
	if tok, err := t.tokens.Token(); err == nil {
		req.SetHeader("X-Auth-Token", tok.AccessToken)
	} else {
		logger.WarnCF("transport", "Token source failed", map[string]any{
			"error": err.Error(),
		})
	}
	return req
}

// classify maps a resty outcome to a transport error, or nil on success.
func classify(op, matchID string, resp *resty.Response, err error) error {
	if err != nil {
		return Transient(op, matchID, err)
	}
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	te := &Error{
		Kind:       ResultTransient,
		Op:         op,
		MatchID:    matchID,
		StatusCode: code,
		Err:        fmt.Errorf("%s", truncate(resp.String(), 200)),
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		te.Kind = ResultPermanent
		te.Auth = true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		te.Kind = ResultPermanent
	case http.StatusNotFound:
		te.Kind = ResultPermanent
		te.Unmatched = matchID != ""
	}
	return te
}

func parseTime(s string, millis int64) time.Time {
	if s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
	}
	if millis > 0 {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
