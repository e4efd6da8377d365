package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// credentialsKey is the single record under which the token pair lives.
// Access and refresh token are always written together: a partial pair is
// never observable.
const credentialsKey = "credentials"

// Credentials is the stored token pair. ExpiresAt is computed at storage
// time from the server-declared lifetime, never taken from elsewhere.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Remaining returns the access token lifetime left at time now.
func (c Credentials) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Credentials manager on top of a Store.
type CredentialStore struct {
	store Store
	now   func() time.Time
}

// NewCredentialStore wraps a secret store with credential semantics.
func NewCredentialStore(store Store) *CredentialStore {
	return &CredentialStore{store: store, now: time.Now}
}

// Save replaces the stored token pair wholesale. expiresIn is the
// server-declared access token lifetime; the absolute expiry is anchored to
// the moment of storage.
func (c *CredentialStore) Save(accessToken, refreshToken string, expiresIn time.Duration) error {
	creds := Credentials{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    c.now().Add(expiresIn),
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := c.store.Set(credentialsKey, string(data)); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	slog.Debug("credentials stored", "expires_at", creds.ExpiresAt)
	return nil
}

// Load returns the stored token pair, or ErrNotFound if none exists.
func (c *CredentialStore) Load() (*Credentials, error) {
	data, err := c.store.Get(credentialsKey)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("decode stored credentials: %w", err)
	}
	return &creds, nil
}

// Clear removes the token pair. Missing credentials are not an error.
func (c *CredentialStore) Clear() error {
	return c.store.Delete(credentialsKey)
}

// IsAuthenticated reports whether a token pair is present. Expiry is not
// checked here: a stale access token is still "authenticated" until a
// refresh definitively fails.
func (c *CredentialStore) IsAuthenticated() bool {
	_, err := c.store.Get(credentialsKey)
	return err == nil
}

// AccessToken returns the stored access token, or "" if none.
func (c *CredentialStore) AccessToken() string {
	creds, err := c.Load()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("credential read failed", "error", err)
		}
		return ""
	}
	return creds.AccessToken
}
