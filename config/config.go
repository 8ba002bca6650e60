// Package config loads server configuration from environment variables
// and an optional config file, with sane defaults for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the HTTP/websocket listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// PostgresDSN is the durable document store connection string.
	// Empty selects the in-memory store (development only).
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// RedisAddr is the presence store address. Empty selects the
	// in-memory presence registry (development only).
	RedisAddr string `mapstructure:"redis_addr"`

	// JWTSecret is the shared secret for bearer tokens.
	JWTSecret string `mapstructure:"jwt_secret"`

	// TokenLifetime is how long minted tokens stay valid.
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`

	// PresenceTTL is the inactivity window after which presence entries
	// expire.
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`

	// TailWindow is the number of applied operations retained per
	// document for transforming stale client operations.
	TailWindow int `mapstructure:"tail_window"`

	// PersistOps and PersistInterval are the write-back triggers.
	PersistOps      int           `mapstructure:"persist_ops"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`

	// CursorCoalesce is the per-session window within which cursor
	// updates are coalesced.
	CursorCoalesce time.Duration `mapstructure:"cursor_coalesce"`
}

// Load reads configuration from COLLAB_* environment variables and, if
// path is non-empty, a YAML config file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("jwt_secret", "dev-secret-do-not-use-in-production")
	v.SetDefault("token_lifetime", 24*time.Hour)
	v.SetDefault("presence_ttl", 30*time.Second)
	v.SetDefault("tail_window", 50)
	v.SetDefault("persist_ops", 20)
	v.SetDefault("persist_interval", 2*time.Second)
	v.SetDefault("cursor_coalesce", 50*time.Millisecond)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
