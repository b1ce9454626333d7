package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestPKCERoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		pkce, err := GeneratePKCE()
		if err != nil {
			t.Fatalf("GeneratePKCE: %v", err)
		}
		sum := sha256.Sum256([]byte(pkce.Verifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		if pkce.Challenge != want {
			t.Fatalf("challenge mismatch: got %s want %s", pkce.Challenge, want)
		}
		if len(pkce.Verifier) != 43 {
			t.Fatalf("verifier length = %d, want 43", len(pkce.Verifier))
		}
	}
}

func TestGenerateStateUnique(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected distinct state tokens")
	}
}

func TestStoreCorruptFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewStoreAt(path)
	if list := s.List(); len(list) != 0 {
		t.Fatalf("expected empty list from corrupt file, got %v", list)
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStoreAt(filepath.Join(dir, "auth.json"))

	if err := s.Save("anthropic", ApiKeyCredentials("sk-test")); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Load("anthropic")
	if !ok || got.APIKey != "sk-test" {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}

	info, err := os.Stat(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("auth file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestGetCredentialsMissingRefreshTokenIsReauthError(t *testing.T) {
	dir := t.TempDir()
	s := NewStoreAt(filepath.Join(dir, "auth.json"))
	tokens := OAuthTokens{AccessToken: "expired", ExpiresAtMs: 1}
	if err := s.Save("openai", OAuthCredentials(tokens)); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetCredentials("openai", noopRefresher{})
	if err == nil {
		t.Fatal("expected re-authenticate error")
	}
}
