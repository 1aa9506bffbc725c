package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tinyland-inc/wingman/pkg/config"
)

const testSelfID = "self-1"

func newTestAPI(t *testing.T, handler http.HandlerFunc) *APITransport {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":{"_id":"` + testSelfID + `"}}}`))
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig().Platform
	cfg.APIBase = srv.URL
	cfg.AuthToken = "tok-123"
	tr, err := NewAPITransport(cfg)
	if err != nil {
		t.Fatalf("NewAPITransport() error: %v", err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return tr
}

func TestAPITransport_RequiresToken(t *testing.T) {
	cfg := config.DefaultConfig().Platform
	cfg.AuthToken = ""
	if _, err := NewAPITransport(cfg); err == nil {
		t.Fatal("expected error without auth token")
	}
}

func TestAPITransport_FetchNewMatches(t *testing.T) {
	var gotToken string
	tr := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/matches" {
			http.NotFound(w, r)
			return
		}
		gotToken = r.Header.Get("X-Auth-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"matches":[
			{"_id":"m1","created_date":"2026-01-02T03:04:05.000Z","person":{"name":"Ana"}},
			{"_id":"","person":{"name":"ghost"}},
			{"_id":"m2","person":{"name":"Bo"}}
		]}}`))
	})

	matches, err := tr.FetchNewMatches(context.Background())
	if err != nil {
		t.Fatalf("FetchNewMatches() error: %v", err)
	}
	if gotToken != "tok-123" {
		t.Errorf("X-Auth-Token = %q, want tok-123", gotToken)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].ID != "m1" || matches[0].Name != "Ana" {
		t.Errorf("matches[0] = %+v", matches[0])
	}
	if matches[0].MatchedAt.Year() != 2026 {
		t.Errorf("MatchedAt = %v, want 2026", matches[0].MatchedAt)
	}
}

func TestAPITransport_FetchNewMessagesSkipsOwnAndSeen(t *testing.T) {
	tr := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/matches/m1/messages" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"messages":[
			{"_id":"a","from":"them","message":"hi","sent_date":"2026-01-01T10:00:00Z"},
			{"_id":"b","from":"` + testSelfID + `","message":"hello","sent_date":"2026-01-01T10:01:00Z"},
			{"_id":"c","from":"them","message":"how are you","timestamp":1767261720000}
		]}}`))
	})

	msgs, err := tr.FetchNewMessages(context.Background(), "m1")
	if err != nil {
		t.Fatalf("FetchNewMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Text != "hi" || msgs[1].Text != "how are you" {
		t.Errorf("msgs = %+v", msgs)
	}
	if msgs[1].Timestamp.IsZero() {
		t.Error("expected timestamp from millis field")
	}

	again, err := tr.FetchNewMessages(context.Background(), "m1")
	if err != nil {
		t.Fatalf("second FetchNewMessages() error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second fetch returned %d messages, want 0", len(again))
	}
}

func TestAPITransport_SendMessage(t *testing.T) {
	var body map[string]string
	tr := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/user/matches/m1" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"_id":"sent-1","message":"yo"}`))
	})

	res := tr.SendMessage(context.Background(), "m1", "yo")
	if !res.OK() {
		t.Fatalf("SendMessage() = %+v, want ok", res)
	}
	if res.PlatformID != "sent-1" {
		t.Errorf("PlatformID = %q, want sent-1", res.PlatformID)
	}
	if body["message"] != "yo" {
		t.Errorf("body = %v", body)
	}
}

func TestAPITransport_SendClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      ResultKind
		unmatched bool
		auth      bool
	}{
		{"server error", http.StatusBadGateway, ResultTransient, false, false},
		{"rate limited", http.StatusTooManyRequests, ResultTransient, false, false},
		{"timeout", http.StatusRequestTimeout, ResultTransient, false, false},
		{"unauthorized", http.StatusUnauthorized, ResultPermanent, false, true},
		{"forbidden", http.StatusForbidden, ResultPermanent, false, true},
		{"bad request", http.StatusBadRequest, ResultPermanent, false, false},
		{"unmatched", http.StatusNotFound, ResultPermanent, true, false},
		{"teapot", http.StatusTeapot, ResultTransient, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			})
			res := tr.SendMessage(context.Background(), "m1", "hey")
			if res.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", res.Kind, tt.want)
			}
			if res.Err == nil {
				t.Fatal("expected error on result")
			}
			if IsUnmatched(res.Err) != tt.unmatched {
				t.Errorf("IsUnmatched = %v, want %v", IsUnmatched(res.Err), tt.unmatched)
			}
			if IsAuth(res.Err) != tt.auth {
				t.Errorf("IsAuth = %v, want %v", IsAuth(res.Err), tt.auth)
			}
			if !strings.Contains(res.Err.Error(), "m1") {
				t.Errorf("error %q should name the match", res.Err)
			}
		})
	}
}

func TestAPITransport_NetworkErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	tr := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("server does not support hijacking")
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	})

	res := tr.SendMessage(context.Background(), "m1", "hey")
	if res.Kind != ResultTransient {
		t.Errorf("Kind = %s, want transient", res.Kind)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly one attempt", calls.Load())
	}
}

func TestAPITransport_AllowList(t *testing.T) {
	tr := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"matches":[{"_id":"m1"},{"_id":"m2"}]}}`))
	})
	tr.allowList = []string{"m2"}

	matches, err := tr.FetchNewMatches(context.Background())
	if err != nil {
		t.Fatalf("FetchNewMatches() error: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "m2" {
		t.Errorf("matches = %+v, want only m2", matches)
	}
	if res := tr.SendMessage(context.Background(), "m1", "hi"); res.Kind != ResultPermanent {
		t.Errorf("send outside allow list = %s, want permanent", res.Kind)
	}
}
