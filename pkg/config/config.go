// Package config provides configuration management for the class shrinker.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. SHRINKER_SHRINKER_WORKERS=4.
const EnvPrefix = "SHRINKER"

// Config holds all configuration for the shrinker.
type Config struct {
	Shrinker ShrinkerConfig `mapstructure:"shrinker"`
	Keep     KeepConfig     `mapstructure:"keep"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
	Log      LogConfig      `mapstructure:"log"`
}

// ShrinkerConfig holds run-level settings.
type ShrinkerConfig struct {
	Workers           int      `mapstructure:"workers"`
	Incremental       bool     `mapstructure:"incremental"`
	StateKey          string   `mapstructure:"state_key"`
	CheckDependencies bool     `mapstructure:"check_dependencies"`
	MainDexListPath   string   `mapstructure:"main_dex_list_path"`
	PlatformJars      []string `mapstructure:"platform_jars"`
	ReportPath        string   `mapstructure:"report_path"` // .json or .json.gz
}

// KeepConfig holds keep-rule sources per shrink target.
type KeepConfig struct {
	ConfigFiles        []string `mapstructure:"config_files"`
	Rules              []string `mapstructure:"rules"`
	MainDexConfigFiles []string `mapstructure:"main_dex_config_files"`
	MainDexRules       []string `mapstructure:"main_dex_rules"`
	CacheSize          int      `mapstructure:"cache_size"`
}

// StorageConfig holds the backend used for persisted graph state.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local, cos or s3
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	Endpoint  string `mapstructure:"endpoint"`   // for s3
	UseSSL    bool   `mapstructure:"use_ssl"`    // for s3
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// DatabaseConfig holds the run-history database connection.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"` // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Namespace    string `mapstructure:"namespace"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// ExportConfig holds graph export settings.
type ExportConfig struct {
	Neo4j Neo4jConfig `mapstructure:"neo4j"`
}

// Neo4jConfig holds the Neo4j connection used to export the dependency graph.
type Neo4jConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URI       string `mapstructure:"uri"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	BatchSize int    `mapstructure:"batch_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the specified file path. Variables from a
// .env file in the working directory are loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("shrinker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from path into the process environment. A
// missing file is not an error; variables already set are not overridden.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	var cfg Config
	// Defaults always decode.
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Shrinker defaults
	v.SetDefault("shrinker.workers", 4)
	v.SetDefault("shrinker.incremental", false)
	v.SetDefault("shrinker.state_key", "shrinker/graph.bin")
	v.SetDefault("shrinker.check_dependencies", false)
	v.SetDefault("shrinker.main_dex_list_path", "")
	v.SetDefault("shrinker.report_path", "")
	v.SetDefault("shrinker.platform_jars", []string{})

	// Keep defaults
	v.SetDefault("keep.config_files", []string{})
	v.SetDefault("keep.rules", []string{})
	v.SetDefault("keep.main_dex_config_files", []string{})
	v.SetDefault("keep.main_dex_rules", []string{})
	v.SetDefault("keep.cache_size", 4096)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./build/shrinker")
	v.SetDefault("storage.use_ssl", true)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./build/shrinker/runs.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "shrinker")
	v.SetDefault("metrics.textfile_path", "")

	// Export defaults
	v.SetDefault("export.neo4j.enabled", false)
	v.SetDefault("export.neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("export.neo4j.username", "neo4j")
	v.SetDefault("export.neo4j.password", "")
	v.SetDefault("export.neo4j.database", "neo4j")
	v.SetDefault("export.neo4j.batch_size", 500)

	// Log defaults
	v.SetDefault("log.level", "info")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Shrinker.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Shrinker.Incremental && c.Shrinker.StateKey == "" {
		return fmt.Errorf("state key is required for incremental runs")
	}

	// Storage config validation is delegated to storage package

	if c.Database.Enabled {
		switch c.Database.Type {
		case "sqlite":
			if c.Database.Path == "" {
				return fmt.Errorf("sqlite database path is required")
			}
		case "postgres", "mysql":
			if c.Database.Host == "" {
				return fmt.Errorf("database host is required")
			}
		default:
			return fmt.Errorf("unsupported database type: %s", c.Database.Type)
		}
	}

	if c.Export.Neo4j.Enabled && c.Export.Neo4j.URI == "" {
		return fmt.Errorf("neo4j uri is required when export is enabled")
	}

	return nil
}
