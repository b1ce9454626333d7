// Package auth manages API-key and OAuth credentials for LLM providers,
// including the PKCE login flow and local callback server.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// PKCECodes holds a verifier/challenge pair for an RFC 7636 PKCE flow.
type PKCECodes struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a fresh verifier/challenge pair. The verifier is 32
// random bytes, base64url (no padding) encoded; the challenge is the SHA-256
// digest of the verifier's encoded *string* bytes, also base64url encoded.
func GeneratePKCE() (PKCECodes, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCECodes{}, err
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return PKCECodes{Verifier: verifier, Challenge: challenge}, nil
}

// GenerateState returns a fresh CSRF state token: 32 random bytes, base64url
// (no padding) encoded.
func GenerateState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
