package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration for casachat.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Identity    IdentityConfig    `json:"identity"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Chat        ChatConfig        `json:"chat"`
}

// ServerConfig holds the chat server endpoints and credentials.
type ServerConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// IdentityConfig identifies the local participant.
type IdentityConfig struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
}

// MarketplaceConfig holds the marketplace REST API settings.
type MarketplaceConfig struct {
	BaseURL string `json:"baseUrl"`
}

// ChatConfig holds per-conversation settings.
type ChatConfig struct {
	RoomID              string `json:"roomId"`
	CounterpartID       string `json:"counterpartId"`
	PropertyID          string `json:"propertyId"`
	TypingQuietMs       int    `json:"typingQuietMs"`
	RemoteTypingDecayMs int    `json:"remoteTypingDecayMs"`
	CachePath           string `json:"cachePath"`
}

// TypingQuiet returns the keystroke quiet window before a typing burst
// is considered finished.
func (c *Config) TypingQuiet() time.Duration {
	return time.Duration(c.Chat.TypingQuietMs) * time.Millisecond
}

// RemoteTypingDecay returns how long a remote typing indicator survives
// without a refresh.
func (c *Config) RemoteTypingDecay() time.Duration {
	return time.Duration(c.Chat.RemoteTypingDecayMs) * time.Millisecond
}

// CacheFile returns the expanded room cache path.
func (c *Config) CacheFile() string {
	return expandHome(c.Chat.CachePath)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "wss://chat.casaline.app/ws",
		},
		Identity: IdentityConfig{
			Role: "tenant",
		},
		Marketplace: MarketplaceConfig{
			BaseURL: "https://api.casaline.app",
		},
		Chat: ChatConfig{
			TypingQuietMs:       2000,
			RemoteTypingDecayMs: 5000,
			CachePath:           "~/.casachat/rooms.db",
		},
	}
}

func expandHome(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		home := homeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
