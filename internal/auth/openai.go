package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Codex CLI OAuth client identifiers — public, installed-app client
// credentials (not operator-provisioned secrets), matching the values Codex
// CLI itself registers with auth.openai.com.
const (
	codexClientID      = "app_EMoamEEZ73f0CkXaXp7hrann"
	codexAuthEndpoint  = "https://auth.openai.com/oauth/authorize"
	codexTokenEndpoint = "https://auth.openai.com/oauth/token"
	codexScopes        = "openid profile email offline_access"
)

// OpenAIAuth drives the ChatGPT/Codex OAuth login and refresh flows.
type OpenAIAuth struct {
	httpClient *http.Client
}

// NewOpenAIAuth constructs an OpenAIAuth using the given HTTP client, or a
// sane default if nil.
func NewOpenAIAuth(client *http.Client) *OpenAIAuth {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIAuth{httpClient: client}
}

func (a *OpenAIAuth) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    codexClientID,
		RedirectURL: redirectURI,
		Scopes:      strings.Split(codexScopes, " "),
		Endpoint: oauth2.Endpoint{
			AuthURL:  codexAuthEndpoint,
			TokenURL: codexTokenEndpoint,
		},
	}
}

// httpCtx routes the oauth2 transport through a.httpClient.
func (a *OpenAIAuth) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *OpenAIAuth) buildAuthURL(redirectURI, state string, pkce PKCECodes) string {
	return a.oauthConfig(redirectURI).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
		oauth2.SetAuthURLParam("codex_cli_simplified_flow", "true"),
		oauth2.SetAuthURLParam("originator", "codex_cli_rs"),
	)
}

// AuthURL returns the authorize-endpoint URL a browser should open, ahead of
// a blocking Login call — useful for UIs that want to display it themselves.
func (a *OpenAIAuth) AuthURL(redirectURI, state string, pkce PKCECodes) string {
	return a.buildAuthURL(redirectURI, state, pkce)
}

// Login runs the full interactive PKCE flow and returns fresh tokens.
func (a *OpenAIAuth) Login(ctx context.Context, openBrowser func(string) error) (OAuthTokens, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return OAuthTokens{}, err
	}
	state, err := GenerateState()
	if err != nil {
		return OAuthTokens{}, err
	}

	server, err := NewCallbackServer(state)
	if err != nil {
		return OAuthTokens{}, err
	}
	redirectURI := server.RedirectURI()

	authURL := a.buildAuthURL(redirectURI, state, pkce)
	if openBrowser != nil {
		_ = openBrowser(authURL)
	}

	cb, err := server.WaitForCallback(ctx)
	if err != nil {
		return OAuthTokens{}, err
	}

	return a.exchangeCode(ctx, cb.Code, redirectURI, pkce.Verifier)
}

// Refresh exchanges a refresh_token for a new access token.
func (a *OpenAIAuth) Refresh(refreshToken string) (OAuthTokens, error) {
	src := a.oauthConfig("").TokenSource(a.httpCtx(context.Background()),
		&oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("refresh token: %w", err)
	}
	return fromOAuth2Token(tok, refreshToken), nil
}

func (a *OpenAIAuth) exchangeCode(ctx context.Context, code, redirectURI, verifier string) (OAuthTokens, error) {
	tok, err := a.oauthConfig(redirectURI).Exchange(a.httpCtx(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("token exchange: %w", err)
	}
	return fromOAuth2Token(tok, ""), nil
}
