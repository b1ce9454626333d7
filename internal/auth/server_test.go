package auth

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"
)

func callbackURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestParseCallbackStateMismatch(t *testing.T) {
	s := &CallbackServer{expectedState: "expected-state"}

	_, err := s.parseCallback(callbackURL(t, "/auth/callback?code=abc&state=tampered"))
	if err == nil {
		t.Fatal("expected state mismatch to be rejected")
	}
	if !strings.Contains(err.Error(), "CSRF") {
		t.Fatalf("error = %q, want CSRF mention", err)
	}
}

func TestParseCallbackHappyPath(t *testing.T) {
	s := &CallbackServer{expectedState: "good"}

	res, err := s.parseCallback(callbackURL(t, "/auth/callback?code=authcode123&state=good"))
	if err != nil {
		t.Fatalf("parseCallback: %v", err)
	}
	if res.Code != "authcode123" || res.State != "good" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseCallbackProviderError(t *testing.T) {
	s := &CallbackServer{expectedState: "good"}

	_, err := s.parseCallback(callbackURL(t, "/auth/callback?error=access_denied&error_description=user+cancelled"))
	if err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Fatalf("expected provider error to surface, got %v", err)
	}
}

func TestParseCallbackMissingCode(t *testing.T) {
	s := &CallbackServer{expectedState: "good"}

	if _, err := s.parseCallback(callbackURL(t, "/auth/callback?state=good")); err == nil {
		t.Fatal("expected missing code to be rejected")
	}
	if _, err := s.parseCallback(callbackURL(t, "/auth/callback?code=abc")); err == nil {
		t.Fatal("expected missing state to be rejected")
	}
}

func fakeJWT(t *testing.T, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"none"}`)) + "." + enc([]byte(payload)) + "." + enc([]byte("sig"))
}

func TestExtractChatGPTAccountID(t *testing.T) {
	token := fakeJWT(t, `{"https://api.openai.com/auth":{"chatgpt_account_id":"acct_42"}}`)
	id, err := ExtractChatGPTAccountID(token)
	if err != nil {
		t.Fatalf("ExtractChatGPTAccountID: %v", err)
	}
	if id != "acct_42" {
		t.Fatalf("id = %q", id)
	}
}

func TestExtractChatGPTAccountIDErrors(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"not a jwt", "only-one-part"},
		{"missing claim", fakeJWT(t, `{"sub":"user"}`)},
		{"bad payload encoding", "a.!!!.c"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ExtractChatGPTAccountID(c.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNeedsRefreshWindow(t *testing.T) {
	now := time.Now().UnixMilli()
	cases := []struct {
		name    string
		tokens  OAuthTokens
		refresh bool
		expired bool
	}{
		{"no expiry", OAuthTokens{AccessToken: "a"}, false, false},
		{"fresh", OAuthTokens{AccessToken: "a", ExpiresAtMs: now + 3600_000}, false, false},
		{"inside skew", OAuthTokens{AccessToken: "a", ExpiresAtMs: now + 60_000}, true, false},
		{"expired", OAuthTokens{AccessToken: "a", ExpiresAtMs: now - 1000}, true, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.tokens.NeedsRefresh(); got != c.refresh {
				t.Errorf("NeedsRefresh = %v, want %v", got, c.refresh)
			}
			if got := c.tokens.IsExpired(); got != c.expired {
				t.Errorf("IsExpired = %v, want %v", got, c.expired)
			}
		})
	}
}
