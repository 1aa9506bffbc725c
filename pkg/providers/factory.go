package providers

import (
	"fmt"

	anthropicprovider "github.com/tinyland-inc/wingman/pkg/providers/anthropic"
	openaiprovider "github.com/tinyland-inc/wingman/pkg/providers/openai"

	"github.com/tinyland-inc/wingman/pkg/config"
)

// CreateProvider builds the provider named in cfg. tokenSource, when not
// nil, supplies the credential on every call and overrides cfg.APIKey.
func CreateProvider(cfg config.GeneratorConfig, tokenSource func() (string, error)) (LLMProvider, error) {
	if cfg.APIKey == "" && tokenSource == nil {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderAnthropic, "":
		if tokenSource != nil {
			return anthropicprovider.NewProviderWithTokenSourceAndBaseURL(cfg.APIKey, tokenSource, cfg.APIBase), nil
		}
		return anthropicprovider.NewProviderWithBaseURL(cfg.APIKey, cfg.APIBase), nil
	case config.ProviderOpenAI:
		if tokenSource != nil {
			return openaiprovider.NewProviderWithTokenSource(cfg.APIKey, tokenSource, cfg.APIBase), nil
		}
		return openaiprovider.NewProvider(cfg.APIKey, cfg.APIBase), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
