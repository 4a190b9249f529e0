package config

import (
	"os"
	"regexp"
	"time"

	"github.com/lojahub/lojasync/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration for the lojasync daemon.
	Config struct {
		Logger  LoggerConfig  `yaml:"logger"`
		Store   StoreConfig   `yaml:"store"`
		Remote  RemoteConfig  `yaml:"remote"`
		Cache   CacheConfig   `yaml:"cache"`
		Bus     BusConfig     `yaml:"bus"`
		Sync    SyncConfig    `yaml:"sync"`
		Metrics MetricsConfig `yaml:"metrics"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}

	// MetricsConfig represents the Prometheus endpoint configuration
	MetricsConfig struct {
		Addr      string    `yaml:"addr"`      // listen address, empty disables the endpoint
		Namespace string    `yaml:"namespace"` // metric namespace, defaults to "lojasync"
		Buckets   []float64 `yaml:"buckets"`   // histogram buckets in seconds
	}
)

// LoadConfig loads configuration from a YAML file with environment
// variable support and applies defaults.
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.setDefaults()
	return &cfg, cfgPath, nil
}

func (c *Config) setDefaults() {
	if c.Sync.Interval < time.Second {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	if c.Sync.Feed.Timeout <= 0 {
		c.Sync.Feed.Timeout = 30 * time.Second
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "lojasync"
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
