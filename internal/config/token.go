package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	tokenAccount = "api_token"
	tokenEnv     = "SHIPVIEW_API_TOKEN"
)

// GetAPIToken returns the bearer token guarding the HTTP API. SHIPVIEW_API_TOKEN
// wins; otherwise the token is read from the secret store, and generated and
// stored there on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if t := os.Getenv(tokenEnv); t != "" {
		return t, nil
	}
	if t, err := kc.Get(keychainService, tokenAccount); err == nil && t != "" {
		return t, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return token, nil
}
