package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// ExtractChatGPTAccountID pulls the chatgpt_account_id claim out of a Codex
// OAuth id_token without verifying its signature — the token came straight
// back from the provider's own token endpoint over TLS, so signature
// verification would only protect against a threat that doesn't exist here.
func ExtractChatGPTAccountID(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", errors.New("malformed id_token")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", err
	}

	auth, ok := claims["https://api.openai.com/auth"].(map[string]any)
	if !ok {
		return "", errors.New("id_token missing auth claim")
	}
	id, ok := auth["chatgpt_account_id"].(string)
	if !ok {
		return "", errors.New("id_token missing chatgpt_account_id")
	}
	return id, nil
}
