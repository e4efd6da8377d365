// Package config handles the persisted client configuration: the remote
// server endpoint and its TLS policy.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the configured remote endpoint. All fields are optional;
// an empty host means "no server configured" and the resolver falls back to
// the default cloud URL.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
	// UseTLS defaults to true. SkipTLSVerify is only meaningful when
	// UseTLS is set: it opts in to accepting a self-signed certificate
	// from a local server. Never the default.
	UseTLS        *bool `yaml:"use_tls,omitempty"`
	SkipTLSVerify bool  `yaml:"skip_tls_verify,omitempty"`
}

// TLS reports whether TLS is enabled (default true).
func (s ServerConfig) TLS() bool {
	return s.UseTLS == nil || *s.UseTLS
}

// IsConfigured reports whether a server host is set.
func (s ServerConfig) IsConfigured() bool {
	return s.Host != ""
}

// Config is the on-disk client configuration.
type Config struct {
	Server ServerConfig `yaml:"server,omitempty"`
}

// Load reads the config file at path. A missing file yields an empty config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config file with restrictive permissions.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ClearServer drops the whole server block. Fields are never cleared
// individually: a half-cleared endpoint is worse than none.
func (c *Config) ClearServer() {
	c.Server = ServerConfig{}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if p := c.Server.Port; p != 0 && (p < 1 || p > 65535) {
		return fmt.Errorf("server port %d out of range 1-65535", p)
	}
	return nil
}
