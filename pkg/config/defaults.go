package config

// DefaultConfig returns the configuration used when no file is present.
// The bot starts disabled; the operator enables it from the control surface.
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Transport:      TransportAPI,
			APIBase:        "https://api.gotinder.com",
			RequestTimeout: 20,
			Browser: BrowserConfig{
				BaseURL:  "https://tinder.com",
				Headless: false,
				Selectors: BrowserSelectors{
					MatchItem:    "[data-testid='matchListItem'], .matchListItem",
					MessageItem:  "[data-testid='message'], .msg",
					OwnMessage:   "[class*='msg--sent'], [data-from-self='true']",
					MessageInput: "[data-testid='msg-input'], textarea[placeholder*='Type']",
					SendButton:   "[data-testid='send-msg-btn'], button[aria-label*='Send']",
					LoginWall:    "[data-testid='login-button'], [data-testid='sms-code-input']",
				},
			},
		},
		Generator: GeneratorConfig{
			Provider:     ProviderAnthropic,
			Model:        "claude-3-5-haiku-latest",
			MaxTokens:    100,
			Temperature:  0.8,
			Timeout:      30,
			HistoryLimit: 5,
		},
		Engine: EngineConfig{
			EnabledOnStartup:     false,
			PollInterval:         60,
			CycleTimeout:         240,
			Workers:              3,
			FetchTimeout:         20,
			SendTimeout:          20,
			MaxConsecutiveErrors: 5,
			ErrorCooldown:        30,
			OpenerLimit:          5,
		},
		Rate: RateConfig{
			Cooldown:  300,
			Jitter:    60,
			GlobalCap: 100,
			Window:    "0 0 * * *",
			HourlyCap: 60,
			Timezone:  "UTC",
		},
		QuietHours: QuietHoursConfig{
			Enabled:  false,
			Schedule: "* 1-5 * * *",
			Timezone: "Europe/London",
		},
		Store: StoreConfig{
			Path: "~/.wingman/wingman.db",
		},
		Control: ControlConfig{
			Host: "127.0.0.1",
			Port: 18800,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}
