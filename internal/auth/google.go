package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Gemini CLI OAuth client identifiers for the Code Assist API. The secret is
// the standard "installed application" client secret Google issues for
// public OAuth clients — not a confidential credential, per the OAuth2 spec
// for native apps.
const (
	geminiClientID      = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	geminiClientSecret  = "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"
	geminiAuthEndpoint  = "https://accounts.google.com/o/oauth2/v2/auth"
	geminiTokenEndpoint = "https://oauth2.googleapis.com/token"
)

var geminiScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GoogleAuth drives the Gemini Code Assist OAuth login and refresh flows.
type GoogleAuth struct {
	httpClient *http.Client
}

// NewGoogleAuth constructs a GoogleAuth using the given HTTP client, or a
// sane default if nil.
func NewGoogleAuth(client *http.Client) *GoogleAuth {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleAuth{httpClient: client}
}

func (a *GoogleAuth) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     geminiClientID,
		ClientSecret: geminiClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       geminiScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  geminiAuthEndpoint,
			TokenURL: geminiTokenEndpoint,
		},
	}
}

// httpCtx routes the oauth2 transport through a.httpClient.
func (a *GoogleAuth) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *GoogleAuth) buildAuthURL(redirectURI, state string, pkce PKCECodes) string {
	return a.oauthConfig(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", pkce.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// AuthURL returns the authorize-endpoint URL a browser should open.
func (a *GoogleAuth) AuthURL(redirectURI, state string, pkce PKCECodes) string {
	return a.buildAuthURL(redirectURI, state, pkce)
}

// Login runs the full interactive PKCE flow and returns fresh tokens.
func (a *GoogleAuth) Login(ctx context.Context, openBrowser func(string) error) (OAuthTokens, error) {
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
func (a *GoogleAuth) Refresh(refreshToken string) (OAuthTokens, error) {
	src := a.oauthConfig("").TokenSource(a.httpCtx(context.Background()),
		&oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("refresh token: %w", err)
	}
	return fromOAuth2Token(tok, refreshToken), nil
}

func (a *GoogleAuth) exchangeCode(ctx context.Context, code, redirectURI, verifier string) (OAuthTokens, error) {
	tok, err := a.oauthConfig(redirectURI).Exchange(a.httpCtx(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return OAuthTokens{}, fmt.Errorf("token exchange: %w", err)
	}
	return fromOAuth2Token(tok, ""), nil
}
