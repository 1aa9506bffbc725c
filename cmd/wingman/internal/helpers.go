package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinyland-inc/wingman/pkg/auth"
	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/logger"
)

const Logo = "💬"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigPath overrides the default config location; bound to --config.
var ConfigPath string

func GetConfigPath() string {
	if ConfigPath != "" {
		return config.ExpandHome(ConfigPath)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wingman", "config.json")
}

// GetAuthPath keeps credentials next to the config file.
func GetAuthPath() string {
	return filepath.Join(filepath.Dir(GetConfigPath()), "auth.json")
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// SetupLogging applies the logging section; debug forces the debug level.
func SetupLogging(cfg *config.Config, debug bool) error {
	if err := logger.Configure(cfg.Logging.Format, cfg.Logging.Level); err != nil {
		return fmt.Errorf("error configuring logger: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	return nil
}

// ResolveCredentials fills credentials missing from cfg with those saved by
// `wingman auth login`.
func ResolveCredentials(cfg *config.Config) error {
	path := GetAuthPath()
	tok, err := auth.ResolveToken(path, auth.ProviderPlatform, cfg.Platform.AuthToken)
	if err != nil {
		return fmt.Errorf("error reading platform credential: %w", err)
	}
	cfg.Platform.AuthToken = tok
	return nil
}

// ProviderTokenFunc returns a token source for the generator provider, or
// nil when neither the config nor the credential store has a key.
func ProviderTokenFunc(cfg *config.Config) func() (string, error) {
	if cfg.Generator.APIKey != "" {
		return nil
	}
	if _, err := auth.GetCredential(GetAuthPath(), cfg.Generator.Provider); err != nil {
		return nil
	}
	return auth.TokenFunc(auth.TokenSource(GetAuthPath(), cfg.Generator.Provider, ""))
}

// ControlClient talks to a running `wingman serve`.
func ControlClient(cfg *config.Config) *resty.Client {
	host := cfg.Control.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	client := resty.New().
		SetBaseURL(fmt.Sprintf("http://%s:%d", host, cfg.Control.Port)).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	if cfg.Control.Token != "" {
		client.SetAuthToken(cfg.Control.Token)
	}
	return client
}

type controlError struct {
	Error string `json:"error"`
}

// CheckResponse turns a failed control call into an error.
func CheckResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("cannot reach wingman (is `wingman serve` running?): %w", err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*controlError); ok && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status(), e.Error)
		}
		return errors.New(resp.Status())
	}
	return nil
}

// ControlRequest prepares a request whose error body decodes for CheckResponse.
func ControlRequest(client *resty.Client) *resty.Request {
	return client.R().SetError(&controlError{})
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
