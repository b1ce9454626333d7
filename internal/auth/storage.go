package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// refreshSkew is how far ahead of actual expiry a token is considered to
// need refreshing.
const refreshSkew = 5 * time.Minute

// OAuthTokens is a token set obtained through an OAuth/PKCE flow.
type OAuthTokens struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	ExpiresAtMs      int64  `json:"expires_at_ms,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	ChatGPTAccountID string `json:"chatgpt_account_id,omitempty"`
	GoogleProjectID  string `json:"google_project_id,omitempty"`
}

// NeedsRefresh reports whether the access token is within refreshSkew of
// expiring. A token with no expiry never needs a refresh.
func (t OAuthTokens) NeedsRefresh() bool {
	if t.ExpiresAtMs == 0 {
		return false
	}
	nowMs := time.Now().UnixMilli()
	return t.ExpiresAtMs-nowMs < refreshSkew.Milliseconds()
}

// IsExpired reports whether the access token's expiry has already passed.
func (t OAuthTokens) IsExpired() bool {
	if t.ExpiresAtMs == 0 {
		return false
	}
	return time.Now().UnixMilli() >= t.ExpiresAtMs
}

// fromOAuth2Token maps an oauth2 token set onto OAuthTokens, keeping the
// previous refresh token when the server didn't rotate it and extracting
// the chatgpt account id claim when an id_token rides along.
func fromOAuth2Token(tok *oauth2.Token, fallbackRefresh string) OAuthTokens {
	out := OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = fallbackRefresh
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresAtMs = tok.Expiry.UnixMilli()
	}
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		out.IDToken = id
		if acct, err := ExtractChatGPTAccountID(id); err == nil {
			out.ChatGPTAccountID = acct
		}
	}
	return out
}

// Credentials is a tagged union: either a bare API key or a full OAuth token
// set. The "type" discriminator matches the original ion wire format.
type Credentials struct {
	Type   string       `json:"type"` // "api_key" | "oauth"
	APIKey string       `json:"key,omitempty"`
	OAuth  *OAuthTokens `json:"oauth,omitempty"`
}

// ApiKeyCredentials builds an API-key credential entry.
func ApiKeyCredentials(key string) Credentials {
	return Credentials{Type: "api_key", APIKey: key}
}

// OAuthCredentials builds an OAuth credential entry.
func OAuthCredentials(tokens OAuthTokens) Credentials {
	return Credentials{Type: "oauth", OAuth: &tokens}
}

// Store is a single JSON file mapping provider name to Credentials.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (without reading) the credential store at the default
// location, ~/.config/ion/auth.json.
func NewStore() (*Store, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(dir, "auth.json")}, nil
}

// NewStoreAt opens a store at an explicit path, mainly for tests.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// DataDir returns ~/.config/ion, creating it if necessary.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "ion")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}

// all reads the full credentials map. A missing or corrupt file is treated
// as an empty store — a fresh start, not a fatal error.
func (s *Store) all() map[string]Credentials {
	data, err := os.ReadFile(s.path) //nolint:gosec // fixed, non-user-controlled path
	if err != nil {
		return map[string]Credentials{}
	}
	var m map[string]Credentials
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("auth file corrupt, starting fresh")
		return map[string]Credentials{}
	}
	if m == nil {
		m = map[string]Credentials{}
	}
	return m
}

func (s *Store) writeAll(m map[string]Credentials) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(s.path, 0600); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the stored credentials for a provider, or (Credentials{}, false).
func (s *Store) Load(provider string) (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.all()[provider]
	return c, ok
}

// Save upserts credentials for a provider and persists the file.
func (s *Store) Save(provider string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.all()
	m[provider] = creds
	return s.writeAll(m)
}

// Clear removes a provider's stored credentials.
func (s *Store) Clear(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.all()
	delete(m, provider)
	return s.writeAll(m)
}

// List returns every stored provider name.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.all()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Refresher performs a provider-specific OAuth refresh.
type Refresher interface {
	Refresh(refreshToken string) (OAuthTokens, error)
}

// ErrReauthenticateFmt is the exact remediation message surfaced on an
// expired/unrefreshable OAuth credential.
const ErrReauthenticateFmt = "Run 'ion login %s'"

// GetCredentials loads credentials for a provider, transparently refreshing
// an OAuth token set that needs it. A refreshed token set is written back to
// disk before returning. chatgpt_account_id is backfilled from the id_token
// claim if the stored tokens predate that extraction.
func (s *Store) GetCredentials(provider string, refresher Refresher) (Credentials, error) {
	creds, ok := s.Load(provider)
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials for %s", provider)
	}
	if creds.Type != "oauth" || creds.OAuth == nil {
		return creds, nil
	}

	tokens := *creds.OAuth
	if tokens.ChatGPTAccountID == "" && tokens.IDToken != "" {
		if id, err := ExtractChatGPTAccountID(tokens.IDToken); err == nil {
			tokens.ChatGPTAccountID = id
		}
	}

	if !tokens.NeedsRefresh() {
		creds.OAuth = &tokens
		return creds, nil
	}

	if tokens.RefreshToken == "" {
		return Credentials{}, fmt.Errorf(ErrReauthenticateFmt, provider)
	}

	refreshed, err := refresher.Refresh(tokens.RefreshToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("refresh %s token: %w", provider, err)
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if refreshed.IDToken == "" {
		refreshed.IDToken = tokens.IDToken
	}
	if refreshed.ChatGPTAccountID == "" {
		refreshed.ChatGPTAccountID = tokens.ChatGPTAccountID
		if refreshed.ChatGPTAccountID == "" && refreshed.IDToken != "" {
			if id, err := ExtractChatGPTAccountID(refreshed.IDToken); err == nil {
				refreshed.ChatGPTAccountID = id
			}
		}
	}

	newCreds := OAuthCredentials(refreshed)
	if err := s.Save(provider, newCreds); err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("failed to persist refreshed oauth tokens")
	}
	return newCreds, nil
}
