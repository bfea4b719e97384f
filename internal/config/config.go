package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Azure      AzureConfig      `mapstructure:"azure" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Digest     DigestConfig     `mapstructure:"digest" validate:"required"`
	Encryption EncryptionConfig `mapstructure:"encryption" validate:"required"`
	Sync       SyncConfig       `mapstructure:"sync"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	JWTSecret    string   `mapstructure:"jwt_secret"`
	DashboardURL string   `mapstructure:"dashboard_url" validate:"required,url"`
}

// AzureConfig holds Azure AD application settings for the OAuth flow
type AzureConfig struct {
	ClientID     string   `mapstructure:"client_id" validate:"required"`
	ClientSecret string   `mapstructure:"client_secret" validate:"required"`
	RedirectURI  string   `mapstructure:"redirect_uri" validate:"required,url"`
	Scopes       []string `mapstructure:"scopes"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

// StorageConfig holds object storage settings for synced documents
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" validate:"required"`
	AccessKey string `mapstructure:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DigestConfig holds settings for the downstream digest service
type DigestConfig struct {
	URL  string `mapstructure:"url" validate:"required,url"`
	Salt string `mapstructure:"salt" validate:"required"`
}

// EncryptionConfig holds the token encryption key
type EncryptionConfig struct {
	// Base64-encoded 32-byte AES key. Tokens at rest are unreadable without it.
	Key string `mapstructure:"key" validate:"required"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
	RulesFile      string   `mapstructure:"rules_file"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode,
	)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			DashboardURL: "http://localhost:3000/dashboard",
		},
		Azure: AzureConfig{
			Scopes: []string{"Files.Read.All", "User.Read", "offline_access"},
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "require",
		},
		Storage: StorageConfig{
			Bucket: "yacht-documents",
			UseSSL: true,
		},
		Sync: SyncConfig{
			IgnorePatterns: []string{
				"**/.DS_Store",
				"**/Thumbs.db",
				"**/~$*",
			},
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)
	v.SetDefault("server.dashboard_url", defaults.Server.DashboardURL)
	v.SetDefault("azure.scopes", defaults.Azure.Scopes)
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("storage.bucket", defaults.Storage.Bucket)
	v.SetDefault("storage.use_ssl", defaults.Storage.UseSSL)
	v.SetDefault("sync.ignore_patterns", defaults.Sync.IgnorePatterns)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cloud-dms")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CLOUDDMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in secret-bearing fields
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Azure.ClientSecret = os.ExpandEnv(cfg.Azure.ClientSecret)
	cfg.Storage.SecretKey = os.ExpandEnv(cfg.Storage.SecretKey)
	cfg.Encryption.Key = os.ExpandEnv(cfg.Encryption.Key)
	cfg.Digest.Salt = os.ExpandEnv(cfg.Digest.Salt)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
