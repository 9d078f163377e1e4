// Package config resolves runtime settings from flags, environment, and an
// optional YAML file, in that precedence order. All lookups go through viper;
// the CLI binds its flags into the same instance.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Settings is the fully resolved runtime configuration.
type Settings struct {
	Server   ServerSettings
	Store    StoreSettings
	Backend  BackendSettings
	Limits   LimitSettings
	Abuse    AbuseSettings
	Auth     AuthSettings
	LogLevel string
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// StoreSettings configures the relational store holding tenants, keys, and
// usage records.
type StoreSettings struct {
	Driver  string // sqlite, postgres, or mysql
	DSN     string // ignored for sqlite when DataDir is set
	DataDir string // sqlite database directory
}

// BackendSettings selects the counter and blocklist backend. The memory
// backend is per-process; redis shares state across replicas.
type BackendSettings struct {
	Kind      string // memory or redis
	RedisAddr string
	RedisDB   int
}

// LimitSettings holds the quotas not attached to an individual key.
type LimitSettings struct {
	AllowAnonymous    bool
	AnonLimit         int
	AnonWindowSeconds int
	IPLimit           int
	IPWindowSeconds   int
	FailOpen          bool
	BlockedStatus     int
}

// AbuseSettings tunes automatic blocking of flooding IPs.
type AbuseSettings struct {
	Threshold int
	Window    time.Duration
	BlockTTL  time.Duration
}

// AuthSettings configures operator sessions.
type AuthSettings struct {
	JWTSecret string
	TokenTTL  time.Duration
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.dsn", "")
	viper.SetDefault("store.data_dir", "")

	viper.SetDefault("backend.kind", "memory")
	viper.SetDefault("backend.redis_addr", "localhost:6379")
	viper.SetDefault("backend.redis_db", 0)

	viper.SetDefault("limits.allow_anonymous", false)
	viper.SetDefault("limits.anon_limit", 10)
	viper.SetDefault("limits.anon_window_seconds", 60)
	viper.SetDefault("limits.ip_limit", 120)
	viper.SetDefault("limits.ip_window_seconds", 60)
	viper.SetDefault("limits.fail_open", false)
	viper.SetDefault("limits.blocked_status", 403)

	viper.SetDefault("abuse.threshold", 10)
	viper.SetDefault("abuse.window_seconds", 60)
	viper.SetDefault("abuse.block_ttl_seconds", 600)

	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl_hours", 12)

	viper.SetDefault("log_level", "info")
}

// Load resolves settings from the already-initialized viper instance.
func Load() (Settings, error) {
	setDefaults()

	s := Settings{
		Server: ServerSettings{
			Host:        viper.GetString("server.host"),
			Port:        viper.GetInt("server.port"),
			CORSOrigins: viper.GetStringSlice("server.cors_origins"),
		},
		Store: StoreSettings{
			Driver:  viper.GetString("store.driver"),
			DSN:     viper.GetString("store.dsn"),
			DataDir: viper.GetString("store.data_dir"),
		},
		Backend: BackendSettings{
			Kind:      viper.GetString("backend.kind"),
			RedisAddr: viper.GetString("backend.redis_addr"),
			RedisDB:   viper.GetInt("backend.redis_db"),
		},
		Limits: LimitSettings{
			AllowAnonymous:    viper.GetBool("limits.allow_anonymous"),
			AnonLimit:         viper.GetInt("limits.anon_limit"),
			AnonWindowSeconds: viper.GetInt("limits.anon_window_seconds"),
			IPLimit:           viper.GetInt("limits.ip_limit"),
			IPWindowSeconds:   viper.GetInt("limits.ip_window_seconds"),
			FailOpen:          viper.GetBool("limits.fail_open"),
			BlockedStatus:     viper.GetInt("limits.blocked_status"),
		},
		Abuse: AbuseSettings{
			Threshold: viper.GetInt("abuse.threshold"),
			Window:    time.Duration(viper.GetInt("abuse.window_seconds")) * time.Second,
			BlockTTL:  time.Duration(viper.GetInt("abuse.block_ttl_seconds")) * time.Second,
		},
		Auth: AuthSettings{
			JWTSecret: viper.GetString("auth.jwt_secret"),
			TokenTTL:  time.Duration(viper.GetInt("auth.token_ttl_hours")) * time.Hour,
		},
		LogLevel: viper.GetString("log_level"),
	}

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	switch s.Store.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported store driver %q", s.Store.Driver)
	}
	switch s.Backend.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported backend %q", s.Backend.Kind)
	}
	if s.Limits.BlockedStatus != 403 && s.Limits.BlockedStatus != 429 {
		return fmt.Errorf("blocked_status must be 403 or 429, got %d", s.Limits.BlockedStatus)
	}
	return nil
}

// StoreDSN returns the value to pass to store.Open: the data directory for
// sqlite (defaulting to ~/.gatekeeper), the configured DSN otherwise.
func (s *Settings) StoreDSN() (string, error) {
	if s.Store.Driver != "sqlite" {
		if s.Store.DSN == "" {
			return "", fmt.Errorf("store.dsn is required for driver %q", s.Store.Driver)
		}
		return s.Store.DSN, nil
	}
	if s.Store.DataDir != "" {
		return s.Store.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return home + "/.gatekeeper", nil
}
