package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	clientEnvPrefix = "EQUIPMENT_SYNC"

	defaultRemoteTimeoutSecs = 30
	defaultClientDatabase    = "equipment-local.db"
	defaultSyncOrder         = "push-pull"
	defaultSyncInterval      = 60
	defaultSyncMaxAttempts   = 5
)

// ClientConfig captures runtime configuration for the sync client.
type ClientConfig struct {
	RemoteURL     string
	RemoteToken   string
	RemoteTimeout time.Duration
	DatabasePath  string
	SyncOrder     string
	ChunkSize     int
	SyncInterval  time.Duration
	MaxAttempts   int
	Log           LogConfig
}

// NewClientViper returns a viper instance with client defaults and env bindings configured.
func NewClientViper() *viper.Viper {
	configViper := viper.New()
	ApplyClientDefaults(configViper)
	return configViper
}

// ApplyClientDefaults configures client defaults and env bindings.
func ApplyClientDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(clientEnvPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("remote.url", "")
	configViper.SetDefault("remote.token", "")
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeoutSecs)
	configViper.SetDefault("database.path", defaultClientDatabase)
	configViper.SetDefault("sync.order", defaultSyncOrder)
	configViper.SetDefault("sync.chunk_size", 0)
	configViper.SetDefault("sync.interval_seconds", defaultSyncInterval)
	configViper.SetDefault("sync.max_attempts", defaultSyncMaxAttempts)
	applyLogDefaults(configViper)
}

// LoadClient parses client configuration. Remote settings are only required by
// commands that talk to the authority, so they are checked by RequireRemote.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		RemoteURL:     strings.TrimSpace(configViper.GetString("remote.url")),
		RemoteToken:   strings.TrimSpace(configViper.GetString("remote.token")),
		RemoteTimeout: time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		DatabasePath:  strings.TrimSpace(configViper.GetString("database.path")),
		SyncOrder:     strings.TrimSpace(configViper.GetString("sync.order")),
		ChunkSize:     configViper.GetInt("sync.chunk_size"),
		SyncInterval:  time.Duration(configViper.GetInt("sync.interval_seconds")) * time.Second,
		MaxAttempts:   configViper.GetInt("sync.max_attempts"),
		Log:           loadLogConfig(configViper),
	}
	if cfg.DatabasePath == "" {
		return ClientConfig{}, fmt.Errorf("database.path is required")
	}
	if cfg.ChunkSize < 0 {
		return ClientConfig{}, fmt.Errorf("sync.chunk_size must not be negative")
	}
	if cfg.SyncInterval < 0 {
		return ClientConfig{}, fmt.Errorf("sync.interval_seconds must not be negative")
	}
	if cfg.MaxAttempts < 1 {
		return ClientConfig{}, fmt.Errorf("sync.max_attempts must be at least 1")
	}
	return cfg, nil
}

// RequireRemote reports missing or malformed authority settings.
func (c ClientConfig) RequireRemote() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote.url is required")
	}
	parsed, err := url.Parse(c.RemoteURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("remote.url must be an absolute url, got %q", c.RemoteURL)
	}
	if c.RemoteToken == "" {
		return fmt.Errorf("remote.token is required")
	}
	return nil
}
