// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root of the configuration file.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Processing ProcessingConfig `yaml:"processing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port                int    `yaml:"port"`
	BindAddress         string `yaml:"bind_address"`
	EnableCORS          bool   `yaml:"enable_cors"`
	AllowOrigins        string `yaml:"allow_origins"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	RequestTimeout      int    `yaml:"request_timeout_seconds"`
	BodyLimit           string `yaml:"body_limit"`
	ShutdownSeconds     int    `yaml:"shutdown_seconds"`
}

type StorageConfig struct {
	// Backend is one of memory, duckdb, postgres, redis.
	Backend       string `yaml:"backend"`
	TempDirectory string `yaml:"temp_directory"`

	DuckDBPath        string `yaml:"duckdb_path"`
	DuckDBThreads     int    `yaml:"duckdb_threads"`
	DuckDBMemoryLimit string `yaml:"duckdb_memory_limit"`

	DatabaseURL    string `yaml:"database_url"`
	DBMaxConns     int32  `yaml:"db_max_conns"`
	DBMinConns     int32  `yaml:"db_min_conns"`
	DBDialTimeout  int    `yaml:"db_dial_timeout_seconds"`
	DBStmtTimeout  int    `yaml:"db_statement_timeout_ms"`
	DBAppName      string `yaml:"db_application_name"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

type ExtractionConfig struct {
	// Mode is "command" to run an external process or "builtin" to build
	// the placeholder record in process.
	Mode           string   `yaml:"mode"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type ProcessingConfig struct {
	Workers             int  `yaml:"workers"`
	QueueSize           int  `yaml:"queue_size"`
	BatchParallelism    int  `yaml:"batch_parallelism"`
	DirectoryDedup      bool `yaml:"directory_dedup"`
	MarkFailed          bool `yaml:"mark_failed"`
	StagingMaxAgeMins   int  `yaml:"staging_max_age_minutes"`
	CleanupIntervalMins int  `yaml:"cleanup_interval_minutes"`
	ListLimit           int  `yaml:"list_limit"`
}

type LoggingConfig struct {
	Mode           string `yaml:"mode"`
	Level          string `yaml:"level"`
	RequestLogging bool   `yaml:"request_logging"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:                8000,
			BindAddress:         "0.0.0.0",
			EnableCORS:          true,
			AllowOrigins:        "*",
			ReadTimeoutSeconds:  60,
			WriteTimeoutSeconds: 60,
			RequestTimeout:      120,
			BodyLimit:           "512M",
			ShutdownSeconds:     30,
		},
		Storage: StorageConfig{
			Backend:           "duckdb",
			TempDirectory:     "./temp",
			DuckDBPath:        "./data/documents.duckdb",
			DuckDBThreads:     4,
			DuckDBMemoryLimit: "512MB",
			DBMaxConns:        10,
			DBMinConns:        1,
			DBDialTimeout:     5,
			DBStmtTimeout:     30000,
			DBAppName:         "pdf-intake",
			RedisKeyPrefix:    "pdfintake:",
		},
		Extraction: ExtractionConfig{
			Mode:           "command",
			Command:        "pdfextract",
			TimeoutSeconds: 120,
		},
		Processing: ProcessingConfig{
			Workers:             4,
			QueueSize:           256,
			BatchParallelism:    4,
			DirectoryDedup:      true,
			MarkFailed:          false,
			StagingMaxAgeMins:   60,
			CleanupIntervalMins: 5,
			ListLimit:           10000,
		},
		Logging: LoggingConfig{
			Mode:           "production",
			Level:          "info",
			RequestLogging: true,
		},
	}
}

// LoadConfig reads configPath, creating it with defaults when absent, then
// applies environment overrides and resolves relative paths against the
// config file's directory.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# PDF intake service configuration\n# This file is auto-generated on first run\n\n")
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, append(header, out...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("TEMP_DIR"); v != "" {
		c.Storage.TempDirectory = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Storage.RedisPassword = v
	}
	if v := os.Getenv("DUCKDB_PATH"); v != "" {
		c.Storage.DuckDBPath = v
	}
	if v := os.Getenv("EXTRACTOR_COMMAND"); v != "" {
		c.Extraction.Command = v
	}
	if v := os.Getenv("LOG_MODE"); v != "" {
		c.Logging.Mode = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.TempDirectory) {
		c.Storage.TempDirectory = filepath.Join(configDir, c.Storage.TempDirectory)
	}
	if c.Storage.DuckDBPath != "" && !filepath.IsAbs(c.Storage.DuckDBPath) {
		c.Storage.DuckDBPath = filepath.Join(configDir, c.Storage.DuckDBPath)
	}
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "duckdb":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch strings.ToLower(c.Extraction.Mode) {
	case "builtin":
	case "command":
		if strings.TrimSpace(c.Extraction.Command) == "" {
			return fmt.Errorf("extraction.command is required in command mode")
		}
	default:
		return fmt.Errorf("unknown extraction.mode %q", c.Extraction.Mode)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Processing.Workers <= 0 {
		return fmt.Errorf("processing.workers must be positive")
	}
	if c.Processing.QueueSize <= 0 {
		return fmt.Errorf("processing.queue_size must be positive")
	}
	if c.Processing.BatchParallelism <= 0 {
		return fmt.Errorf("processing.batch_parallelism must be positive")
	}
	if c.Processing.ListLimit <= 0 || c.Processing.ListLimit > 10000 {
		return fmt.Errorf("processing.list_limit must be between 1 and 10000")
	}
	return nil
}

// GetServerAddr returns the server bind address.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

func (c *AppConfig) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

func (c *AppConfig) StagingMaxAge() time.Duration {
	return time.Duration(c.Processing.StagingMaxAgeMins) * time.Minute
}

func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Processing.CleanupIntervalMins) * time.Minute
}

// EnsureDirectories creates the directories the service writes to.
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.TempDirectory}
	if strings.EqualFold(c.Storage.Backend, "duckdb") && c.Storage.DuckDBPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.DuckDBPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
