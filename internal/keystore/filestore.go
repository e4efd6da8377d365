package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps secrets in a single AES-256-GCM sealed file. It is the
// fallback backend for hosts without a keychain service (headless Linux,
// containers). The sealing key is generated once and kept next to the store
// with 0600 permissions.
type FileStore struct {
	path    string
	keyPath string
	mu      sync.Mutex
}

// NewFileStore creates a file-backed secret store. Both files are created
// lazily under dir (e.g. ~/.haloview/secrets.bin + secrets.key).
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		path:    filepath.Join(dir, "secrets.bin"),
		keyPath: filepath.Join(dir, "secrets.key"),
	}
}

func (f *FileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := secrets[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		return err
	}
	secrets[key] = value
	return f.save(secrets)
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := secrets[key]; !ok {
		return nil
	}
	delete(secrets, key)
	return f.save(secrets)
}

func (f *FileStore) load() (map[string]string, error) {
	sealed, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	gcm, err := f.cipher()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("secret store file truncated")
	}
	plain, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("unseal secret store: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, err
	}
	return secrets, nil
}

func (f *FileStore) save(secrets map[string]string) error {
	plain, err := json.Marshal(secrets)
	if err != nil {
		return err
	}

	gcm, err := f.cipher()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(f.path, sealed, 0600)
}

// cipher returns the AES-256-GCM instance for this store, generating the
// sealing key on first use.
func (f *FileStore) cipher() (cipher.AEAD, error) {
	key, err := os.ReadFile(f.keyPath)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(f.keyPath), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(f.keyPath, key, 0600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
