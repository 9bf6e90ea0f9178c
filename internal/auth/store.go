package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

// keyringService namespaces our entries in the OS credential store
const keyringService = "odsync"

// ErrNoToken is returned when a profile has no stored credentials
var ErrNoToken = errors.New("no stored token for profile")

// TokenStore persists OAuth tokens in the OS keychain, one entry per
// profile, serialized as JSON.
type TokenStore struct {
	service string
}

// NewTokenStore creates a token store backed by the OS keychain
func NewTokenStore() *TokenStore {
	return &TokenStore{service: keyringService}
}

// Save stores the token for a profile
func (s *TokenStore) Save(profile string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to serialize token: %w", err)
	}
	if err := keyring.Set(s.service, profile, string(data)); err != nil {
		return fmt.Errorf("failed to store token in keychain: %w", err)
	}
	return nil
}

// Load retrieves the token for a profile, ErrNoToken if absent
func (s *TokenStore) Load(profile string) (*oauth2.Token, error) {
	data, err := keyring.Get(s.service, profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token from keychain: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("stored token is corrupt: %w", err)
	}
	return &token, nil
}

// Delete removes the token for a profile. Deleting a missing entry is
// not an error.
func (s *TokenStore) Delete(profile string) error {
	err := keyring.Delete(s.service, profile)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keychain: %w", err)
	}
	return nil
}
