// Package identity manages the persistent device identity.
//
// The device ID is a UUID v7 generated once on first use and never changed.
// The device name is the only mutable field: the server may assign a display
// name during pairing, and we persist it on success.
package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Identity describes this device to the pairing endpoint.
type Identity struct {
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name,omitempty"`
	DeviceModel string `json:"device_model"`
	Platform    string `json:"platform"`
}

// Manager loads and persists the device identity.
type Manager struct {
	path string
	mu   sync.Mutex
	id   *Identity
}

// NewManager creates an identity manager backed by the given JSON file
// (e.g. ~/.haloview/identity.json). The file is created lazily on first Get.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Get returns the device identity, generating and persisting one if none
// exists yet.
func (m *Manager) Get() (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id != nil {
		return *m.id, nil
	}

	if id, err := m.load(); err == nil {
		m.id = id
		return *id, nil
	}

	id := &Identity{
		DeviceID:    uuid.Must(uuid.NewV7()).String(),
		DeviceModel: "haloview-go",
		Platform:    runtime.GOOS,
	}
	if err := m.save(id); err != nil {
		return Identity{}, fmt.Errorf("persist device identity: %w", err)
	}
	m.id = id

	slog.Info("device identity created", "device_id", id.DeviceID, "platform", id.Platform)
	return *id, nil
}

// SetDeviceName updates the display name and persists it.
// Called after a successful pairing when the server assigns a name.
func (m *Manager) SetDeviceName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id == nil {
		id, err := m.load()
		if err != nil {
			return fmt.Errorf("no device identity to rename: %w", err)
		}
		m.id = id
	}

	m.id.DeviceName = name
	return m.save(m.id)
}

func (m *Manager) load() (*Identity, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	if id.DeviceID == "" {
		return nil, fmt.Errorf("identity file %s has no device_id", m.path)
	}
	return &id, nil
}

func (m *Manager) save(id *Identity) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0600)
}
