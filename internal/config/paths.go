package config

import (
	"os"
	"path/filepath"
)

// AppDir returns the client's data directory (~/.haloview, overridable via
// HALOVIEW_HOME for tests and multi-profile setups).
func AppDir() string {
	if dir := os.Getenv("HALOVIEW_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".haloview"
	}
	return filepath.Join(home, ".haloview")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(AppDir(), "config.yaml")
}

// IdentityPath returns the device identity file location.
func IdentityPath() string {
	return filepath.Join(AppDir(), "identity.json")
}

// CameraCachePath returns the local camera cache database location.
func CameraCachePath() string {
	return filepath.Join(AppDir(), "cameras.db")
}
