package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(homeDir(), ".casachat", "config.json")
}

// DataDir returns the casachat data directory.
func DataDir() string {
	dir := filepath.Join(homeDir(), ".casachat")
	os.MkdirAll(dir, 0o755)
	return dir
}

// Load reads configuration from disk, falling back to defaults.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads configuration from a specific path. A missing file
// yields the defaults; a present file must parse, carry only known
// keys, and validate.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if unknown := CheckUnknownFields(raw); len(unknown) > 0 {
		return cfg, fmt.Errorf("unknown config keys: %s", strings.Join(unknown, ", "))
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("apply config: %w", err)
	}

	// Apply defaults for zero values
	if cfg.Server.URL == "" {
		cfg.Server.URL = "wss://chat.casaline.app/ws"
	}
	if cfg.Marketplace.BaseURL == "" {
		cfg.Marketplace.BaseURL = "https://api.casaline.app"
	}
	if cfg.Chat.TypingQuietMs == 0 {
		cfg.Chat.TypingQuietMs = 2000
	}
	if cfg.Chat.RemoteTypingDecayMs == 0 {
		cfg.Chat.RemoteTypingDecayMs = 5000
	}
	if cfg.Chat.CachePath == "" {
		cfg.Chat.CachePath = "~/.casachat/rooms.db"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes configuration to disk.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes configuration to a specific path.
func SaveTo(cfg *Config, path string) error {
	os.MkdirAll(filepath.Dir(path), 0o755)

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
