// Package control exposes the engine to an operator over HTTP: status and
// statistics, the enabled switch, per-match intervention and a live event
// stream.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/engine"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/utils"
)

const shutdownTimeout = 5 * time.Second

// Engine is the part of *engine.Engine the control surface drives.
type Engine interface {
	Status(ctx context.Context) (engine.Status, error)
	Stats(ctx context.Context) (engine.Stats, error)
	Enabled() bool
	SetEnabled(enabled bool)
	Toggle() bool
	Healthy() bool
	Matches(ctx context.Context) ([]session.MatchSummary, error)
	SetMatchStatus(ctx context.Context, matchID string, status session.MatchStatus, reason string) error
	SendOpeners(ctx context.Context, limit int) (engine.OpenerReport, error)
	Bus() *bus.EventBus
}

type Server struct {
	eng   Engine
	token string
	hub   *Hub
	mux   *http.ServeMux
}

// NewServer builds the handler tree. An empty token disables authentication.
func NewServer(eng Engine, token string) *Server {
	s := &Server{
		eng:   eng,
		token: token,
		hub:   NewHub(eng.Bus()),
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /status", s.authed(s.handleStatus))
	s.mux.Handle("GET /stats", s.authed(s.handleStats))
	s.mux.Handle("POST /toggle", s.authed(s.handleToggle))
	s.mux.Handle("POST /pause", s.authed(s.handleSetEnabled(false)))
	s.mux.Handle("POST /resume", s.authed(s.handleSetEnabled(true)))
	s.mux.Handle("GET /matches", s.authed(s.handleMatches))
	s.mux.Handle("POST /matches/{id}/block", s.authed(s.handleMatchStatus(session.MatchBlocked)))
	s.mux.Handle("POST /matches/{id}/unblock", s.authed(s.handleMatchStatus(session.MatchActive)))
	s.mux.Handle("POST /openers", s.authed(s.handleOpeners))
	s.mux.Handle("GET /events", s.authed(s.hub.ServeWS))
}

func (s *Server) Handler() http.Handler { return s.mux }

// Hub is the event stream fan-out, exposed so callers can count clients.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.InfoCF("control", "Control surface listening", map[string]any{
		"address": ln.Addr().String(),
		"auth":    s.token != "",
	})
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

func (s *Server) authed(next http.HandlerFunc) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := bearer(r)
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("missing or invalid bearer token"))
			return
		}
		next(w, r)
	})
}

// bearer reads the token from the Authorization header, or from the
// access_token query parameter for websocket clients that cannot set headers.
func bearer(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, true
	}
	return "", false
}

type healthResponse struct {
	Status  string `json:"status"`
	Healthy bool   `json:"healthy"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Healthy: s.eng.Healthy(), Enabled: s.eng.Enabled()}
	code := http.StatusOK
	if !resp.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type enabledResponse struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, enabledResponse{Enabled: s.eng.Toggle()})
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.eng.SetEnabled(enabled)
		writeJSON(w, http.StatusOK, enabledResponse{Enabled: s.eng.Enabled()})
	}
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.eng.Matches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if matches == nil {
		matches = []session.MatchSummary{}
	}
	writeJSON(w, http.StatusOK, matches)
}

type matchStatusRequest struct {
	Reason string `json:"reason"`
}

type matchStatusResponse struct {
	ID     string              `json:"id"`
	Status session.MatchStatus `json:"status"`
}

func (s *Server) handleMatchStatus(status session.MatchStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := utils.ValidateMatchID(id); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		var req matchStatusRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
				return
			}
		}
		reason := req.Reason
		if status == session.MatchBlocked && reason == "" {
			reason = "blocked by operator"
		}
		if status == session.MatchActive {
			reason = ""
		}

		if err := s.eng.SetMatchStatus(r.Context(), id, status, reason); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, session.ErrMatchNotFound) {
				code = http.StatusNotFound
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, http.StatusOK, matchStatusResponse{ID: id, Status: status})
	}
}

func (s *Server) handleOpeners(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer, got %q", v))
			return
		}
		limit = n
	}

	report, err := s.eng.SendOpeners(r.Context(), limit)
	switch {
	case errors.Is(err, engine.ErrDisabled):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorCF("control", "Failed to write response", map[string]any{
			"error": err.Error(),
		})
	}
}
