// Package auth keeps the credentials wingman uses for the dating platform
// and the generator providers in a private JSON file.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredential is returned when no token is stored or configured for a provider.
var ErrNoCredential = errors.New("no credential")

type AuthCredential struct {
	AccessToken string    `json:"access_token"`
	Provider    string    `json:"provider"`
	AuthMethod  string    `json:"auth_method"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the credential has a known expiry in the past.
func (c *AuthCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type AuthStore struct {
	Credentials map[string]*AuthCredential `json:"credentials"`
}

// DefaultPath is ~/.wingman/auth.json.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wingman", "auth.json")
}

var storeMu sync.Mutex

// LoadStore reads path. A missing file is an empty store.
func LoadStore(path string) (*AuthStore, error) {
	store := &AuthStore{Credentials: make(map[string]*AuthCredential)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal(data, store); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if store.Credentials == nil {
		store.Credentials = make(map[string]*AuthCredential)
	}
	return store, nil
}

// SaveStore writes the store with owner-only permissions, replacing the file
// atomically.
func SaveStore(path string, store *AuthStore) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func GetCredential(path, provider string) (*AuthCredential, error) {
	storeMu.Lock()
	defer storeMu.Unlock()
	store, err := LoadStore(path)
	if err != nil {
		return nil, err
	}
	cred, ok := store.Credentials[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, ErrNoCredential)
	}
	return cred, nil
}

func SetCredential(path string, cred *AuthCredential) error {
	storeMu.Lock()
	defer storeMu.Unlock()
	store, err := LoadStore(path)
	if err != nil {
		return err
	}
	store.Credentials[cred.Provider] = cred
	return SaveStore(path, store)
}

// DeleteCredential removes provider's credential; it reports whether one existed.
func DeleteCredential(path, provider string) (bool, error) {
	storeMu.Lock()
	defer storeMu.Unlock()
	store, err := LoadStore(path)
	if err != nil {
		return false, err
	}
	if _, ok := store.Credentials[provider]; !ok {
		return false, nil
	}
	delete(store.Credentials, provider)
	return true, SaveStore(path, store)
}

// storeSource reads the credential file on every call so a token replaced
// with `wingman auth login` is picked up without a restart.
type storeSource struct {
	path     string
	provider string
	fallback string
	now      func() time.Time
}

// TokenSource yields provider's stored token, or fallback when nothing is
// stored. Wrap it in oauth2.ReuseTokenSource to avoid rereading the file.
func TokenSource(path, provider, fallback string) oauth2.TokenSource {
	return &storeSource{path: path, provider: provider, fallback: fallback, now: time.Now}
}

func (s *storeSource) Token() (*oauth2.Token, error) {
	cred, err := GetCredential(s.path, s.provider)
	switch {
	case err == nil && !cred.Expired(s.now()):
		return &oauth2.Token{AccessToken: cred.AccessToken, Expiry: cred.ExpiresAt}, nil
	case err == nil:
		if s.fallback != "" {
			return &oauth2.Token{AccessToken: s.fallback}, nil
		}
		return nil, fmt.Errorf("%s credential expired at %s", s.provider, cred.ExpiresAt.Format(time.RFC3339))
	case errors.Is(err, ErrNoCredential) && s.fallback != "":
		return &oauth2.Token{AccessToken: s.fallback}, nil
	default:
		return nil, err
	}
}

// TokenFunc adapts ts to the func form the generator providers take.
func TokenFunc(ts oauth2.TokenSource) func() (string, error) {
	return func() (string, error) {
		tok, err := ts.Token()
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}
}

// ResolveToken returns configured when set, otherwise the stored token for
// provider, or "" when neither exists.
func ResolveToken(path, provider, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	tok, err := TokenSource(path, provider, "").Token()
	if errors.Is(err, ErrNoCredential) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
