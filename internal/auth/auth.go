package auth

import (
	"context"
	"fmt"
)

// Provider names for the two supported OAuth flows.
const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// Login runs the interactive OAuth flow for a provider and persists the
// resulting tokens.
func Login(store *Store, provider string, openBrowser func(string) error) error {
	var tokens OAuthTokens
	var err error

	switch provider {
	case ProviderOpenAI:
		tokens, err = NewOpenAIAuth(nil).Login(context.Background(), openBrowser)
	case ProviderGoogle:
		tokens, err = NewGoogleAuth(nil).Login(context.Background(), openBrowser)
	default:
		return fmt.Errorf("unknown oauth provider: %s", provider)
	}
	if err != nil {
		return err
	}
	return store.Save(provider, OAuthCredentials(tokens))
}

// Logout removes stored credentials for a provider.
func Logout(store *Store, provider string) error {
	return store.Clear(provider)
}

// GetCredentials loads (refreshing if needed) credentials for a provider.
func GetCredentials(store *Store, provider string) (Credentials, error) {
	var refresher Refresher
	switch provider {
	case ProviderOpenAI:
		refresher = NewOpenAIAuth(nil)
	case ProviderGoogle:
		refresher = NewGoogleAuth(nil)
	default:
		// API-key-only providers have no refresher; GetCredentials only
		// invokes it when the stored entry is of OAuth type.
		refresher = noopRefresher{}
	}
	return store.GetCredentials(provider, refresher)
}

type noopRefresher struct{}

func (noopRefresher) Refresh(string) (OAuthTokens, error) {
	return OAuthTokens{}, fmt.Errorf("provider does not support token refresh")
}
