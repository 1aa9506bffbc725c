package auth

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/auth"
)

func TestNewAuthCommand(t *testing.T) {
	cmd := NewAuthCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "auth", cmd.Use)
	assert.True(t, cmd.HasSubCommands())

	login, _, err := cmd.Find([]string{"login"})
	require.NoError(t, err)
	assert.True(t, login.HasExample())
	assert.NotNil(t, login.Flags().Lookup("provider"))
	assert.NotNil(t, login.Flags().Lookup("stdin"))

	_, _, err = cmd.Find([]string{"logout"})
	require.NoError(t, err)
}

func TestLoginLogoutStdin(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	prev := internal.ConfigPath
	internal.ConfigPath = filepath.Join(dir, "config.json")
	t.Cleanup(func() { internal.ConfigPath = prev })

	cmd := NewAuthCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("tok-abcdef123456\n"))
	cmd.SetArgs([]string{"login", "--provider", "platform", "--stdin"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Saved platform credential")

	cred, err := auth.GetCredential(filepath.Join(dir, "auth.json"), auth.ProviderPlatform)
	require.NoError(t, err)
	assert.Equal(t, "tok-abcdef123456", cred.AccessToken)

	out.Reset()
	cmd = NewAuthCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "tok-…3456")
	assert.Contains(t, out.String(), "not set")

	out.Reset()
	cmd = NewAuthCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"logout"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Removed platform credential")

	_, err = os.Stat(filepath.Join(dir, "auth.json"))
	require.NoError(t, err)
}

func TestLoginRejectsUnknownProvider(t *testing.T) {
	cmd := NewAuthCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"login", "--provider", "bumble", "--stdin"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", mask("short"))
	assert.Equal(t, "abcd…wxyz", mask("abcdefghijklmnopqrstuvwxyz"))
}
