package ctl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
)

func TestNewMatchCommand(t *testing.T) {
	cmd := NewMatchCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "match", cmd.Use)
	assert.True(t, cmd.HasSubCommands())

	block, _, err := cmd.Find([]string{"block"})
	require.NoError(t, err)
	assert.Equal(t, "block <match-id>", block.Use)
	assert.NotNil(t, block.Flags().Lookup("reason"))

	list, _, err := cmd.Find([]string{"ls"})
	require.NoError(t, err)
	assert.Equal(t, "list", list.Use)
}

func TestNewOpenersCommand(t *testing.T) {
	cmd := NewOpenersCommand()

	assert.Equal(t, "openers", cmd.Use)
	assert.True(t, cmd.HasExample())
	flag := cmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
}

func TestEnabledCommands(t *testing.T) {
	color.NoColor = true
	var mu sync.Mutex
	var paths []string
	enabled := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/toggle":
			enabled = !enabled
		case "/pause":
			enabled = false
		case "/resume":
			enabled = true
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(enabledResponse{Enabled: enabled})
	}))
	defer srv.Close()
	useServer(t, srv)

	var buf bytes.Buffer
	cmd := NewToggleCommand()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, buf.String(), "disabled")

	buf.Reset()
	cmd = NewPauseCommand()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, buf.String(), "disabled")

	buf.Reset()
	cmd = NewResumeCommand()
	cmd.SetOut(&buf)
	require.NoError(t, cmd.RunE(cmd, nil))
	assert.Contains(t, buf.String(), "enabled")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/toggle", "/pause", "/resume"}, paths)
}

func TestOpenersCmd(t *testing.T) {
	color.NoColor = true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openers", r.URL.Path)
		if r.URL.Query().Get("limit") != "2" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"engine is disabled"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"considered":2,"sent":1,"rate_limited":1}`))
	}))
	defer srv.Close()
	useServer(t, srv)

	var buf bytes.Buffer
	require.NoError(t, openersCmd(&buf, 2))
	assert.Equal(t, "Openers: 1 sent of 2 considered, 1 rate limited\n", buf.String())

	err := openersCmd(&buf, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is disabled")
}

func TestMatchStatusCmd(t *testing.T) {
	color.NoColor = true
	var mu sync.Mutex
	var gotPath, gotReason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotReason = body.Reason
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","status":"blocked"}`))
	}))
	defer srv.Close()
	useServer(t, srv)

	var buf bytes.Buffer
	require.NoError(t, matchStatusCmd(&buf, "m1", "block", "too pushy"))
	mu.Lock()
	assert.Equal(t, "/matches/m1/block", gotPath)
	assert.Equal(t, "too pushy", gotReason)
	mu.Unlock()
	assert.Contains(t, buf.String(), "m1 blocked")

	assert.Error(t, matchStatusCmd(&buf, "../etc", "block", ""))
}

func TestMatchListCmd(t *testing.T) {
	color.NoColor = true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"m1","name":"Sam","status":"active","unanswered":2},
			{"id":"m2","name":"Alex","status":"blocked","last_error":"403"}]`))
	}))
	defer srv.Close()
	useServer(t, srv)

	var buf bytes.Buffer
	require.NoError(t, matchListCmd(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "Sam")
	assert.Contains(t, lines[2], "403")
}

func useServer(t *testing.T, srv *httptest.Server) {
	t.Helper()
	addr := strings.TrimPrefix(srv.URL, "http://")
	host, port, _ := strings.Cut(addr, ":")
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"control":{"host":"` + host + `","port":` + port + `}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	prev := internal.ConfigPath
	internal.ConfigPath = path
	t.Cleanup(func() { internal.ConfigPath = prev })
}
