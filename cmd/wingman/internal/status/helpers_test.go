package status

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/engine"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
)

func TestNewStatusCommand(t *testing.T) {
	cmd := NewStatusCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "status", cmd.Use)
	assert.Equal(t, []string{"st"}, cmd.Aliases)
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("json"))
}

func TestPrintStatus(t *testing.T) {
	color.NoColor = true
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	st := engine.Status{
		Transport:   "api",
		Outstanding: map[string]int{"m2": 1, "m1": 3},
		LastErrors:  map[string]string{"m3": "blocked: 403"},
		Windows:     []ratelimit.WindowUsage{{Name: "global", Count: 2, Cap: 2}},
	}
	st.Enabled = true
	st.Healthy = false
	st.Cycles = 4
	st.LastPollAt = now.Add(-30 * time.Second)
	st.ErrorCounts = map[string]int64{"transient": 2}

	var buf bytes.Buffer
	printStatus(&buf, st, now)
	out := buf.String()

	assert.Contains(t, out, "enabled, unhealthy")
	assert.Contains(t, out, "30s ago")
	assert.Contains(t, out, "global 2/2")
	assert.Contains(t, out, "transient: 2")
	assert.Contains(t, out, "Awaiting reply: 2")
	assert.Less(t, strings.Index(out, "m1 (3"), strings.Index(out, "m2 (1"))
	assert.Contains(t, out, "m3 blocked: 403")
}

func TestStatusCmd_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"enabled":false,"healthy":true,"transport":"browser","outstanding":{}}`))
	}))
	defer srv.Close()

	writeConfig(t, srv)

	var buf bytes.Buffer
	require.NoError(t, statusCmd(&buf, true))
	assert.Contains(t, buf.String(), `"transport": "browser"`)
}

func TestStatusCmd_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"missing or invalid bearer token"}`))
	}))
	defer srv.Close()

	writeConfig(t, srv)

	err := statusCmd(&bytes.Buffer{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid bearer token")
}

func writeConfig(t *testing.T, srv *httptest.Server) {
	t.Helper()
	host, port, ok := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	require.True(t, ok)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"control":{"host":"` + host + `","port":` + strconv.Itoa(p) + `,"token":"tok"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	prev := internal.ConfigPath
	internal.ConfigPath = path
	t.Cleanup(func() { internal.ConfigPath = prev })
}
