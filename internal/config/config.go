package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	Clock   ClockConfig   `yaml:"clock" envconfig:"CLOCK"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// LicenseConfig contains entitlement engine configuration
type LicenseConfig struct {
	// SigningSecret is the shared secret for license key derivation.
	// Keys generated with a different secret will not match store records.
	SigningSecret string `yaml:"signing_secret" envconfig:"SIGNING_SECRET" default:"CourseSmith_2026_ULTIMATE_SECURE_SALT"`
	// SessionSalt seeds the session blob encryption key together with the
	// machine fingerprint.
	SessionSalt string `yaml:"session_salt" envconfig:"SESSION_SALT" default:"cs-session-vault-v1"`
}

// StoreConfig selects and configures the entitlement store backends
type StoreConfig struct {
	// Backend is the primary store: "rest", "postgres" or "sheets"
	Backend string `yaml:"backend" envconfig:"BACKEND" default:"rest"`

	// REST (Supabase/PostgREST) backend
	RESTBaseURL string        `yaml:"rest_base_url" envconfig:"REST_BASE_URL"`
	RESTAPIKey  string        `yaml:"rest_api_key" envconfig:"REST_API_KEY"`
	RESTTable   string        `yaml:"rest_table" envconfig:"REST_TABLE" default:"licenses"`
	RESTTimeout time.Duration `yaml:"rest_timeout" envconfig:"REST_TIMEOUT" default:"10s"`

	// Postgres backend (vendor-side deployments)
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`

	// Google Sheets backend (vendor spreadsheet deployments)
	SheetID         string `yaml:"sheet_id" envconfig:"SHEET_ID"`
	SheetName       string `yaml:"sheet_name" envconfig:"SHEET_NAME" default:"Licenses"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`

	// EncryptedCredentialsFile is an optional passphrase-encrypted file
	// holding backend credentials, produced by `keygen
	// encrypt-credentials`. Decrypted values fill credential fields
	// that env and YAML left empty.
	EncryptedCredentialsFile string `yaml:"encrypted_credentials_file" envconfig:"ENCRYPTED_CREDENTIALS_FILE"`
	// CredentialsPassphrase unlocks EncryptedCredentialsFile.
	CredentialsPassphrase string `yaml:"credentials_passphrase" envconfig:"CREDENTIALS_PASSPHRASE"`

	// FallbackFile is the local mirror consulted when the primary store is
	// unreachable. Resolved under the data directory when relative.
	FallbackFile string `yaml:"fallback_file" envconfig:"FALLBACK_FILE" default:"licenses.json"`
}

// ClockConfig configures the tamper-resistant time source
type ClockConfig struct {
	Servers []string      `yaml:"servers" envconfig:"SERVERS" default:"time.google.com,time.cloudflare.com,pool.ntp.org"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"3s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR"`
	SessionFile string `yaml:"session_file" envconfig:"SESSION_FILE" default:"session.dat"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and an optional
// YAML config file. Environment variables take precedence.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("CS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := findConfigFile(); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.loadEncryptedCredentials(); err != nil {
		return nil, fmt.Errorf("failed to load store credentials: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileCfg, envCfg Config) Config {
	if envCfg.Server.Port == 0 {
		envCfg.Server.Port = fileCfg.Server.Port
	}
	if envCfg.Store.RESTBaseURL == "" {
		envCfg.Store.RESTBaseURL = fileCfg.Store.RESTBaseURL
	}
	if envCfg.Store.RESTAPIKey == "" {
		envCfg.Store.RESTAPIKey = fileCfg.Store.RESTAPIKey
	}
	if envCfg.Store.PostgresDSN == "" {
		envCfg.Store.PostgresDSN = fileCfg.Store.PostgresDSN
	}
	if envCfg.Store.SheetID == "" {
		envCfg.Store.SheetID = fileCfg.Store.SheetID
	}
	if len(envCfg.Clock.Servers) == 0 {
		envCfg.Clock.Servers = fileCfg.Clock.Servers
	}
	if envCfg.Paths.DataDir == "" {
		envCfg.Paths.DataDir = fileCfg.Paths.DataDir
	}
	return envCfg
}

// resolvePaths fills in the per-user data directory when unset and
// anchors relative paths beneath it.
func (c *Config) resolvePaths() error {
	if c.Paths.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.Paths.DataDir = dir
	}
	if err := os.MkdirAll(c.Paths.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", c.Paths.DataDir, err)
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.License.SigningSecret == "" {
		return fmt.Errorf("license signing secret must not be empty")
	}
	switch c.Store.Backend {
	case "rest", "postgres", "sheets":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}
	if c.Clock.Timeout <= 0 {
		c.Clock.Timeout = 3 * time.Second
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}
	return nil
}

// findConfigFile returns the path to the config file, if any
func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration suitable for tests
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    5,
			RateLimitBurst:  10,
		},
		License: LicenseConfig{
			SigningSecret: "CourseSmith_2026_ULTIMATE_SECURE_SALT",
			SessionSalt:   "cs-session-vault-v1",
		},
		Store: StoreConfig{
			Backend:      "rest",
			RESTTable:    "licenses",
			RESTTimeout:  10 * time.Second,
			SheetName:    "Licenses",
			FallbackFile: "licenses.json",
		},
		Clock: ClockConfig{
			Servers: []string{"time.google.com", "time.cloudflare.com", "pool.ntp.org"},
			Timeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/app.log",
		},
		Paths: PathsConfig{
			SessionFile: "session.dat",
			LogsDir:     "logs",
		},
	}
}
