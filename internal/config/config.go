// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "cardshelf"
	DefaultPGSSLMode    = "disable"
	DefaultBucket       = "cardshelf"
	DefaultEndpoint     = "127.0.0.1:9000"
)

// Upload policy defaults. Sizes are megabytes in TOML for readability.
const (
	DefaultDirectLimitMB  = 40
	DefaultChunkSizeMB    = 50
	DefaultPartMaxMB      = 100
	DefaultFileMaxMB      = 50
	DefaultSessionMaxMB   = 1024
	DefaultPresignTTL     = "1h"
	DefaultMaxPartNumber  = 10000
	DefaultSessionFileMax = 32
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Admin    AdminConfig    `toml:"admin"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Storage  StorageConfig  `toml:"storage"`
	Upload   UploadConfig   `toml:"upload"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AdminConfig holds the initial admin account (username, password, email).
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Email    string `toml:"email"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// StorageConfig holds S3-compatible object store connection parameters
// plus the public base URL used when rewriting asset references.
type StorageConfig struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	UseSSL        bool   `toml:"use_ssl"`
	PublicBaseURL string `toml:"public_base_url"`
}

// UploadConfig holds ingestion policy knobs: transport size ceilings,
// chunking, presign availability and TTL.
type UploadConfig struct {
	Enabled        bool   `toml:"enabled"`
	PresignEnabled bool   `toml:"presign_enabled"`
	DirectLimitMB  int64  `toml:"direct_limit_mb"`
	ChunkSizeMB    int64  `toml:"chunk_size_mb"`
	PartMaxMB      int64  `toml:"part_max_mb"`
	FileMaxMB      int64  `toml:"file_max_mb"`
	SessionMaxMB   int64  `toml:"session_max_mb"`
	PresignTTL     string `toml:"presign_ttl"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
			Email:    "you@example.com",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			Endpoint: DefaultEndpoint,
			Bucket:   DefaultBucket,
		},
		Upload: UploadConfig{
			Enabled:        true,
			PresignEnabled: true,
			DirectLimitMB:  DefaultDirectLimitMB,
			ChunkSizeMB:    DefaultChunkSizeMB,
			PartMaxMB:      DefaultPartMaxMB,
			FileMaxMB:      DefaultFileMaxMB,
			SessionMaxMB:   DefaultSessionMaxMB,
			PresignTTL:     DefaultPresignTTL,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
