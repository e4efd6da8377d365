// Package keystore provides scoped secret storage for the client's
// credentials. Two backends exist: the system keychain (preferred) and an
// AES-256-GCM encrypted file for headless hosts without a keychain service.
package keystore

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// Store is a scoped key-value store for secrets.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keychain stores secrets in the OS keychain under a fixed service name.
type Keychain struct {
	service string
}

// NewKeychain creates a keychain-backed store scoped to the given service
// name (e.g. "haloview").
func NewKeychain(service string) *Keychain {
	return &Keychain{service: service}
}

func (k *Keychain) Get(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (k *Keychain) Set(key, value string) error {
	return keyring.Set(k.service, key, value)
}

func (k *Keychain) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
