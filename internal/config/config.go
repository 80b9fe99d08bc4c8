// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Node     NodeConfig     `yaml:"node"`
	Relay    RelayConfig    `yaml:"relay"`
	Workers  WorkersConfig  `yaml:"workers"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// NodeConfig identifies this relay instance. The id is stamped onto
// leased activity rows for observability.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// RelayConfig holds forwarding behavior configuration
type RelayConfig struct {
	AllowedResponseCodes []int         `yaml:"allowed_response_codes"`
	RetentionPeriod      time.Duration `yaml:"-"`
	OutboundTimeout      time.Duration `yaml:"-"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`

	// Raw string values for YAML unmarshaling
	RetentionPeriodRaw string `yaml:"retention_period"`
	OutboundTimeoutRaw string `yaml:"outbound_timeout"`
}

// WorkersConfig holds the worker tick periods and the lease TTL
type WorkersConfig struct {
	SendInterval       time.Duration `yaml:"-"`
	RequeueInterval    time.Duration `yaml:"-"`
	RetryReplyInterval time.Duration `yaml:"-"`
	CleanupInterval    time.Duration `yaml:"-"`
	LeaseTTL           time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SendIntervalRaw       string `yaml:"send_interval"`
	RequeueIntervalRaw    string `yaml:"requeue_interval"`
	RetryReplyIntervalRaw string `yaml:"retry_reply_interval"`
	CleanupIntervalRaw    string `yaml:"cleanup_interval"`
	LeaseTTLRaw           string `yaml:"lease_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults per the design: listen port 9090, retention 24h, outbound
// timeout 30s, send every 500ms, requeue and reply retry every 5s,
// cleanup every 10s.
const (
	DefaultHTTPAddr           = ":9090"
	DefaultRetentionPeriod    = 24 * time.Hour
	DefaultOutboundTimeout    = 30 * time.Second
	DefaultMaxBodyBytes       = 1 << 20
	DefaultSendInterval       = 500 * time.Millisecond
	DefaultRequeueInterval    = 5 * time.Second
	DefaultRetryReplyInterval = 5 * time.Second
	DefaultCleanupInterval    = 10 * time.Second
	DefaultLeaseTTL           = 30 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in every unset field with its default value.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Node.ID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "relay"
		}
		c.Node.ID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	if len(c.Relay.AllowedResponseCodes) == 0 {
		c.Relay.AllowedResponseCodes = []int{200, 201, 202}
	}
	if c.Relay.RetentionPeriod == 0 {
		c.Relay.RetentionPeriod = DefaultRetentionPeriod
	}
	if c.Relay.OutboundTimeout == 0 {
		c.Relay.OutboundTimeout = DefaultOutboundTimeout
	}
	if c.Relay.MaxBodyBytes == 0 {
		c.Relay.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Workers.SendInterval == 0 {
		c.Workers.SendInterval = DefaultSendInterval
	}
	if c.Workers.RequeueInterval == 0 {
		c.Workers.RequeueInterval = DefaultRequeueInterval
	}
	if c.Workers.RetryReplyInterval == 0 {
		c.Workers.RetryReplyInterval = DefaultRetryReplyInterval
	}
	if c.Workers.CleanupInterval == 0 {
		c.Workers.CleanupInterval = DefaultCleanupInterval
	}
	if c.Workers.LeaseTTL == 0 {
		c.Workers.LeaseTTL = DefaultLeaseTTL
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	for _, code := range c.Relay.AllowedResponseCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("relay.allowed_response_codes contains invalid status %d", code)
		}
	}

	if c.Relay.RetentionPeriod < 0 {
		return fmt.Errorf("relay.retention_period must not be negative")
	}
	if c.Relay.OutboundTimeout <= 0 {
		return fmt.Errorf("relay.outbound_timeout must be positive")
	}
	if c.Relay.MaxBodyBytes <= 0 {
		return fmt.Errorf("relay.max_body_bytes must be positive")
	}

	intervals := []struct {
		name string
		d    time.Duration
	}{
		{"workers.send_interval", c.Workers.SendInterval},
		{"workers.requeue_interval", c.Workers.RequeueInterval},
		{"workers.retry_reply_interval", c.Workers.RetryReplyInterval},
		{"workers.cleanup_interval", c.Workers.CleanupInterval},
		{"workers.lease_ttl", c.Workers.LeaseTTL},
	}
	for _, iv := range intervals {
		if iv.d <= 0 {
			return fmt.Errorf("%s must be positive", iv.name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Relay.RetentionPeriodRaw, "retention_period", &cfg.Relay.RetentionPeriod},
		{cfg.Relay.OutboundTimeoutRaw, "outbound_timeout", &cfg.Relay.OutboundTimeout},
		{cfg.Workers.SendIntervalRaw, "send_interval", &cfg.Workers.SendInterval},
		{cfg.Workers.RequeueIntervalRaw, "requeue_interval", &cfg.Workers.RequeueInterval},
		{cfg.Workers.RetryReplyIntervalRaw, "retry_reply_interval", &cfg.Workers.RetryReplyInterval},
		{cfg.Workers.CleanupIntervalRaw, "cleanup_interval", &cfg.Workers.CleanupInterval},
		{cfg.Workers.LeaseTTLRaw, "lease_ttl", &cfg.Workers.LeaseTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// AllowedCodeSet returns the allowed response codes as a lookup set.
func (c *Config) AllowedCodeSet() map[int]bool {
	set := make(map[int]bool, len(c.Relay.AllowedResponseCodes))
	for _, code := range c.Relay.AllowedResponseCodes {
		set[code] = true
	}
	return set
}
