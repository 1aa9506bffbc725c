package providers

import (
	"testing"

	"github.com/tinyland-inc/wingman/pkg/config"
)

func TestCreateProvider(t *testing.T) {
	cfg := config.DefaultConfig().Generator
	cfg.APIKey = "key"

	p, err := CreateProvider(cfg, nil)
	if err != nil {
		t.Fatalf("CreateProvider(anthropic) error: %v", err)
	}
	if p.GetDefaultModel() == "" {
		t.Error("expected a default model")
	}

	cfg.Provider = config.ProviderOpenAI
	if _, err := CreateProvider(cfg, nil); err != nil {
		t.Fatalf("CreateProvider(openai) error: %v", err)
	}

	cfg.Provider = "mystery"
	if _, err := CreateProvider(cfg, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestCreateProvider_RequiresCredential(t *testing.T) {
	cfg := config.DefaultConfig().Generator
	cfg.APIKey = ""
	if _, err := CreateProvider(cfg, nil); err == nil {
		t.Fatal("expected error without credential")
	}
	if _, err := CreateProvider(cfg, func() (string, error) { return "k", nil }); err != nil {
		t.Fatalf("token source should satisfy credential check: %v", err)
	}
}
