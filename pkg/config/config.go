package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport backends.
const (
	TransportAPI     = "api"
	TransportBrowser = "browser"
)

// Generator providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_matches can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Platform   PlatformConfig   `json:"platform"`
	Generator  GeneratorConfig  `json:"generator"`
	Engine     EngineConfig     `json:"engine"`
	Rate       RateConfig       `json:"rate"`
	QuietHours QuietHoursConfig `json:"quiet_hours"`
	Store      StoreConfig      `json:"store"`
	Control    ControlConfig    `json:"control"`
	Notify     NotifyConfig     `json:"notify,omitzero"`
	Logging    LoggingConfig    `json:"logging"`
}

// PlatformConfig selects and configures the transport to the dating platform.
type PlatformConfig struct {
	Transport      string        `env:"WINGMAN_PLATFORM_TRANSPORT"       json:"transport"`
	AuthToken      string        `env:"WINGMAN_PLATFORM_AUTH_TOKEN"      json:"auth_token"`
	APIBase        string        `env:"WINGMAN_PLATFORM_API_BASE"        json:"api_base"`
	UserAgent      string        `env:"WINGMAN_PLATFORM_USER_AGENT"      json:"user_agent,omitempty"`
	BindInterface  string        `env:"WINGMAN_PLATFORM_BIND_INTERFACE"  json:"bind_interface,omitempty"`
	SourceIP       string        `env:"WINGMAN_PLATFORM_SOURCE_IP"       json:"source_ip,omitempty"`
	RequestTimeout int           `env:"WINGMAN_PLATFORM_REQUEST_TIMEOUT" json:"request_timeout"` // seconds
	Browser        BrowserConfig `json:"browser"`
	// AllowMatches restricts the bot to these match ids. Empty allows all.
	AllowMatches FlexibleStringSlice `env:"WINGMAN_PLATFORM_ALLOW_MATCHES" json:"allow_matches,omitempty"`
}

type BrowserConfig struct {
	BaseURL     string           `env:"WINGMAN_PLATFORM_BROWSER_BASE_URL"      json:"base_url"`
	Headless    bool             `env:"WINGMAN_PLATFORM_BROWSER_HEADLESS"      json:"headless"`
	UserDataDir string           `env:"WINGMAN_PLATFORM_BROWSER_USER_DATA_DIR" json:"user_data_dir,omitempty"`
	ExecPath    string           `env:"WINGMAN_PLATFORM_BROWSER_EXEC_PATH"     json:"exec_path,omitempty"`
	Selectors   BrowserSelectors `json:"selectors"`
}

// BrowserSelectors are the CSS selectors the browser transport relies on.
type BrowserSelectors struct {
	MatchItem    string `json:"match_item"`
	MessageItem  string `json:"message_item"`
	OwnMessage   string `json:"own_message"`
	MessageInput string `json:"message_input"`
	SendButton   string `json:"send_button"`
	LoginWall    string `json:"login_wall"`
}

type GeneratorConfig struct {
	Provider     string  `env:"WINGMAN_GENERATOR_PROVIDER"      json:"provider"`
	APIKey       string  `env:"WINGMAN_GENERATOR_API_KEY"       json:"api_key"`
	APIBase      string  `env:"WINGMAN_GENERATOR_API_BASE"      json:"api_base,omitempty"`
	Model        string  `env:"WINGMAN_GENERATOR_MODEL"         json:"model"`
	MaxTokens    int     `env:"WINGMAN_GENERATOR_MAX_TOKENS"    json:"max_tokens"`
	Temperature  float64 `env:"WINGMAN_GENERATOR_TEMPERATURE"   json:"temperature"`
	Timeout      int     `env:"WINGMAN_GENERATOR_TIMEOUT"       json:"timeout"` // seconds
	HistoryLimit int     `env:"WINGMAN_GENERATOR_HISTORY_LIMIT" json:"history_limit"`
	PersonaFile  string  `env:"WINGMAN_GENERATOR_PERSONA_FILE"  json:"persona_file,omitempty"`
	SystemPrompt string  `env:"WINGMAN_GENERATOR_SYSTEM_PROMPT" json:"system_prompt,omitempty"`
	OpenerPrompt string  `env:"WINGMAN_GENERATOR_OPENER_PROMPT" json:"opener_prompt,omitempty"`
}

type EngineConfig struct {
	EnabledOnStartup     bool `env:"WINGMAN_ENGINE_ENABLED_ON_STARTUP"      json:"enabled_on_startup"`
	PollInterval         int  `env:"WINGMAN_ENGINE_POLL_INTERVAL"           json:"poll_interval"` // seconds
	CycleTimeout         int  `env:"WINGMAN_ENGINE_CYCLE_TIMEOUT"           json:"cycle_timeout"` // seconds
	Workers              int  `env:"WINGMAN_ENGINE_WORKERS"                 json:"workers"`
	FetchTimeout         int  `env:"WINGMAN_ENGINE_FETCH_TIMEOUT"           json:"fetch_timeout"` // seconds
	SendTimeout          int  `env:"WINGMAN_ENGINE_SEND_TIMEOUT"            json:"send_timeout"`  // seconds
	MaxConsecutiveErrors int  `env:"WINGMAN_ENGINE_MAX_CONSECUTIVE_ERRORS"  json:"max_consecutive_errors"`
	ErrorCooldown        int  `env:"WINGMAN_ENGINE_ERROR_COOLDOWN"          json:"error_cooldown"` // seconds
	OpenerLimit          int  `env:"WINGMAN_ENGINE_OPENER_LIMIT"            json:"opener_limit"`
}

// RateConfig bounds how often the bot may send.
// Window is a cron expression marking the rollover boundaries of the global cap.
type RateConfig struct {
	Cooldown  int    `env:"WINGMAN_RATE_COOLDOWN"   json:"cooldown"` // seconds
	Jitter    int    `env:"WINGMAN_RATE_JITTER"     json:"jitter"`   // seconds
	GlobalCap int    `env:"WINGMAN_RATE_GLOBAL_CAP" json:"global_cap"`
	Window    string `env:"WINGMAN_RATE_WINDOW"     json:"window"`
	HourlyCap int    `env:"WINGMAN_RATE_HOURLY_CAP" json:"hourly_cap"`
	Timezone  string `env:"WINGMAN_RATE_TIMEZONE"   json:"timezone"`
}

// QuietHoursConfig holds a cron expression; minutes it matches are quiet.
type QuietHoursConfig struct {
	Enabled  bool   `env:"WINGMAN_QUIET_HOURS_ENABLED"  json:"enabled"`
	Schedule string `env:"WINGMAN_QUIET_HOURS_SCHEDULE" json:"schedule"`
	Timezone string `env:"WINGMAN_QUIET_HOURS_TIMEZONE" json:"timezone"`
}

type StoreConfig struct {
	Path string `env:"WINGMAN_STORE_PATH" json:"path"`
}

type ControlConfig struct {
	Host  string `env:"WINGMAN_CONTROL_HOST"  json:"host"`
	Port  int    `env:"WINGMAN_CONTROL_PORT"  json:"port"`
	Token string `env:"WINGMAN_CONTROL_TOKEN" json:"token,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramNotifyConfig `json:"telegram"`
}

type TelegramNotifyConfig struct {
	Enabled bool   `env:"WINGMAN_NOTIFY_TELEGRAM_ENABLED" json:"enabled"`
	Token   string `env:"WINGMAN_NOTIFY_TELEGRAM_TOKEN"   json:"token"`
	ChatID  int64  `env:"WINGMAN_NOTIFY_TELEGRAM_CHAT_ID" json:"chat_id"`
}

type LoggingConfig struct {
	Format string `env:"WINGMAN_LOGGING_FORMAT" json:"format"`
	Level  string `env:"WINGMAN_LOGGING_LEVEL"  json:"level"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the fields the engine cannot run without.
// Credentials are not required here so status and preview commands work unauthenticated.
func (c *Config) Validate() error {
	var errs []error

	switch c.Platform.Transport {
	case TransportAPI, TransportBrowser:
	default:
		errs = append(errs, fmt.Errorf("platform.transport must be %q or %q, got %q",
			TransportAPI, TransportBrowser, c.Platform.Transport))
	}
	switch c.Generator.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("generator.provider must be %q or %q, got %q",
			ProviderAnthropic, ProviderOpenAI, c.Generator.Provider))
	}
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, errors.New("engine.poll_interval must be positive"))
	}
	if c.Engine.Workers <= 0 {
		errs = append(errs, errors.New("engine.workers must be positive"))
	}
	if c.Rate.Cooldown < 0 || c.Rate.Jitter < 0 {
		errs = append(errs, errors.New("rate.cooldown and rate.jitter must not be negative"))
	}
	if c.Rate.GlobalCap < 0 || c.Rate.HourlyCap < 0 {
		errs = append(errs, errors.New("rate caps must not be negative"))
	}
	if c.Generator.HistoryLimit <= 0 {
		errs = append(errs, errors.New("generator.history_limit must be positive"))
	}

	return errors.Join(errs...)
}

// StorePath returns the session database path with ~ expanded.
func (c *Config) StorePath() string {
	return ExpandHome(c.Store.Path)
}

// PersonaPath returns the persona file path with ~ expanded, or "".
func (c *Config) PersonaPath() string {
	return ExpandHome(c.Generator.PersonaFile)
}

// ControlAddr is the host:port the control surface listens on.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Control.Host, c.Control.Port)
}

func (e EngineConfig) PollEvery() time.Duration {
	return seconds(e.PollInterval)
}

func (e EngineConfig) CycleTimeoutDuration() time.Duration {
	return seconds(e.CycleTimeout)
}

func (e EngineConfig) FetchTimeoutDuration() time.Duration {
	return seconds(e.FetchTimeout)
}

func (e EngineConfig) SendTimeoutDuration() time.Duration {
	return seconds(e.SendTimeout)
}

func (e EngineConfig) ErrorCooldownDuration() time.Duration {
	return seconds(e.ErrorCooldown)
}

func (g GeneratorConfig) TimeoutDuration() time.Duration {
	return seconds(g.Timeout)
}

func (p PlatformConfig) RequestTimeoutDuration() time.Duration {
	return seconds(p.RequestTimeout)
}

func (r RateConfig) CooldownDuration() time.Duration {
	return seconds(r.Cooldown)
}

func (r RateConfig) JitterDuration() time.Duration {
	return seconds(r.Jitter)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
