package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Cloud              CloudConfig       `yaml:"cloud"`
	Device             DeviceConfig      `yaml:"device"`
	Database           DatabaseConfig    `yaml:"database"`
	Log                LogConfig         `yaml:"log"`
	Ledger             LedgerConfig      `yaml:"ledger"`
	Healthcheck        HealthcheckConfig `yaml:"healthcheck"`
	EventBus           EventBusConfig    `yaml:"eventbus"`
	HeapReportInterval Duration          `yaml:"heap_report_interval"` // How often heap usage is logged (default: 5s)
	ShutdownTimeout    Duration          `yaml:"shutdown_timeout"`     // General shutdown timeout for graceful stops
}

// CloudConfig contains cloud platform connection settings
type CloudConfig struct {
	Endpoint string        `yaml:"endpoint"`
	DeviceID string        `yaml:"device_id"`
	Sandbox  bool          `yaml:"sandbox"` // Use the sandbox key/secret pair
	Product  ProductConfig `yaml:"product"`
	Timeout  Duration      `yaml:"timeout"` // HTTP timeout for registration requests

	// Downlink stream reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)

	DownlinkQueue int     `yaml:"downlink_queue"` // Pending downlink frames (default: 2)
	RateLimitRPS  float64 `yaml:"rate_limit_rps"` // Uplink rate limit (default: 10)
}

// ProductConfig identifies the product to the cloud platform
type ProductConfig struct {
	Name          string `yaml:"name"`
	Version       string `yaml:"version"`
	Model         string `yaml:"model"`
	Key           string `yaml:"key"`
	Secret        string `yaml:"secret"`
	KeySandbox    string `yaml:"key_sandbox"`
	SecretSandbox string `yaml:"secret_sandbox"`
}

// Credentials returns the key/secret pair for the selected environment.
func (c *CloudConfig) Credentials() (key, secret string) {
	if c.Sandbox {
		return c.Product.KeySandbox, c.Product.SecretSandbox
	}
	return c.Product.Key, c.Product.Secret
}

// DeviceConfig contains the passthrough worker settings
type DeviceConfig struct {
	WriteInterval Duration      `yaml:"write_interval"` // Pause after each uplink (default: 500ms)
	WriteTimeout  Duration      `yaml:"write_timeout"`  // Bound on a single uplink (default: 500ms)
	Initial       InitialConfig `yaml:"initial"`
}

// InitialConfig is the light state reported before the first downlink arrives.
// Pointers distinguish "unset" from zero.
type InitialConfig struct {
	Power      *uint8 `yaml:"power"`
	WorkMode   *uint8 `yaml:"work_mode"`
	ColorTemp  *uint8 `yaml:"color_temp"`
	Brightness *uint8 `yaml:"brightness"`
	Delay      *uint8 `yaml:"delay"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lightlink.sqlite"
	}

	// Cloud defaults
	cfg.Cloud.Endpoint = strings.TrimRight(cfg.Cloud.Endpoint, "/")
	if cfg.Cloud.Product.Version == "" {
		cfg.Cloud.Product.Version = "1.0.0"
	}
	if cfg.Cloud.Timeout == 0 {
		cfg.Cloud.Timeout = Duration(30 * time.Second)
	}
	if cfg.Cloud.MinRetryBackoff == 0 {
		cfg.Cloud.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Cloud.MaxRetryBackoff == 0 {
		cfg.Cloud.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Cloud.RetryMultiplier == 0 {
		cfg.Cloud.RetryMultiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set
	if cfg.Cloud.DownlinkQueue == 0 {
		cfg.Cloud.DownlinkQueue = 2
	}
	if cfg.Cloud.RateLimitRPS == 0 {
		cfg.Cloud.RateLimitRPS = 10.0
	}

	// Device defaults
	if cfg.Device.WriteInterval == 0 {
		cfg.Device.WriteInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Device.WriteTimeout == 0 {
		cfg.Device.WriteTimeout = Duration(500 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	if cfg.HeapReportInterval == 0 {
		cfg.HeapReportInterval = Duration(5 * time.Second)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
