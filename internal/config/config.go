package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "SHELLBRIDGE"

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON      bool   `envconfig:"LOG_JSON" default:"false"`
	ProfilesPath string `envconfig:"PROFILES" default:"shellbridge.yaml"`

	// SecretKey is the fernet key used for "fernet:" values in the profiles
	// file.
	SecretKey string `envconfig:"SECRET_KEY" default:""`

	// HTTP API
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	TLS        bool   `envconfig:"TLS" default:"false"`
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken   string `envconfig:"API_TOKEN" default:""`

	// Session pool
	HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" default:"30s"`
	HealthCommand  string        `envconfig:"HEALTH_COMMAND" default:"echo ping"`
	IdleTimeout    time.Duration `envconfig:"IDLE_TIMEOUT" default:"15m"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

// Load reads the environment into Cfg and fills in paths derived from
// DataPath.
func Load() error {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "shellbridge.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "shellbridge.log")
	}
	Cfg = s
	return nil
}
