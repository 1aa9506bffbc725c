package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Credential providers.
const (
	ProviderPlatform  = "platform"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LoginPasteToken reads a pasted token from r and wraps it in a credential.
func LoginPasteToken(provider string, r io.Reader) (*AuthCredential, error) {
	fmt.Printf("Paste your %s:\n", TokenHint(provider))
	fmt.Print("> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading token: %w", err)
		}
		return nil, errors.New("no input received")
	}

	return NewTokenCredential(provider, scanner.Text())
}

// NewTokenCredential validates a raw token for provider.
func NewTokenCredential(provider, token string) (*AuthCredential, error) {
	if !KnownProvider(provider) {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token cannot be empty")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return nil, errors.New("token must not contain whitespace")
	}

	return &AuthCredential{
		AccessToken: token,
		Provider:    provider,
		AuthMethod:  "token",
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func KnownProvider(provider string) bool {
	switch provider {
	case ProviderPlatform, ProviderAnthropic, ProviderOpenAI:
		return true
	}
	return false
}

// TokenHint tells the user where a provider's token comes from.
func TokenHint(provider string) string {
	switch provider {
	case ProviderPlatform:
		return "platform session token (X-Auth-Token from a logged-in web session)"
	case ProviderAnthropic:
		return "API key from console.anthropic.com"
	case ProviderOpenAI:
		return "API key from platform.openai.com"
	default:
		return provider + " token"
	}
}
