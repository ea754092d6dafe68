// Package config loads service configuration from an optional YAML file.
// Deployment-environment settings (DATABASE_URL, REDIS_URL, PORT, AUTH_*)
// stay in env vars; the file holds courier credentials, sync cadence and
// notification endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML duration strings ("45s", "2m") as well as plain
// nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete application configuration.
type Config struct {
	Courier CourierConfig `yaml:"courier"`
	Sync    SyncConfig    `yaml:"sync"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// CourierConfig defines the courier platform connection.
type CourierConfig struct {
	BaseURL   string   `yaml:"baseUrl"`
	APIKey    string   `yaml:"apiKey"`
	APISecret string   `yaml:"apiSecret"`
	Timeout   Duration `yaml:"timeout"`
	RateLimit float64  `yaml:"rateLimit"`
	Burst     int      `yaml:"burst"`
	BatchMax  int      `yaml:"batchMax"`
}

// SyncConfig defines scheduler cadence and retry policy.
type SyncConfig struct {
	Interval            Duration `yaml:"interval"`
	RetryInterval       Duration `yaml:"retryInterval"`
	RetryAfter          Duration `yaml:"retryAfter"`
	MaxDispatchAttempts int      `yaml:"maxDispatchAttempts"`
	CycleDeadline       Duration `yaml:"cycleDeadline"`
}

// NotifyConfig defines downstream notification endpoints.
type NotifyConfig struct {
	PushURL    string `yaml:"pushUrl"`
	PushSecret string `yaml:"pushSecret"`
	SupportURL string `yaml:"supportUrl"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Courier: CourierConfig{
			Timeout:   Duration(10 * time.Second),
			RateLimit: 10,
			Burst:     5,
			BatchMax:  50,
		},
		Sync: SyncConfig{
			Interval:            Duration(time.Minute),
			RetryInterval:       Duration(5 * time.Minute),
			RetryAfter:          Duration(10 * time.Minute),
			MaxDispatchAttempts: 5,
			CycleDeadline:       Duration(2 * time.Minute),
		},
	}
}

// Load reads and parses the configuration file, filling unset values with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Courier.Timeout <= 0 {
		c.Courier.Timeout = d.Courier.Timeout
	}
	if c.Courier.RateLimit <= 0 {
		c.Courier.RateLimit = d.Courier.RateLimit
	}
	if c.Courier.Burst <= 0 {
		c.Courier.Burst = d.Courier.Burst
	}
	if c.Courier.BatchMax <= 0 {
		c.Courier.BatchMax = d.Courier.BatchMax
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = d.Sync.Interval
	}
	if c.Sync.RetryInterval <= 0 {
		c.Sync.RetryInterval = d.Sync.RetryInterval
	}
	if c.Sync.RetryAfter <= 0 {
		c.Sync.RetryAfter = d.Sync.RetryAfter
	}
	if c.Sync.MaxDispatchAttempts <= 0 {
		c.Sync.MaxDispatchAttempts = d.Sync.MaxDispatchAttempts
	}
	if c.Sync.CycleDeadline <= 0 {
		c.Sync.CycleDeadline = d.Sync.CycleDeadline
	}
}

// Validate ensures configuration is coherent.
func (c *Config) Validate() error {
	if c.Sync.Interval.Std() < time.Second {
		return fmt.Errorf("sync interval must be at least 1s")
	}
	if c.Sync.RetryInterval < c.Sync.Interval {
		return fmt.Errorf("retryInterval (%s) must not be shorter than interval (%s)", c.Sync.RetryInterval.Std(), c.Sync.Interval.Std())
	}
	if c.Courier.BaseURL == "" && os.Getenv("COURIER_BASE_URL") == "" {
		// Allowed: the server runs without a courier in pure-CRUD dev mode.
		return nil
	}
	if c.Courier.BatchMax > 500 {
		return fmt.Errorf("courier batchMax %d exceeds partner bulk limit", c.Courier.BatchMax)
	}
	return nil
}

// FromEnv overlays env-var overrides used in deployments without a file.
func (c *Config) FromEnv() {
	if v := os.Getenv("COURIER_BASE_URL"); v != "" {
		c.Courier.BaseURL = v
	}
	if v := os.Getenv("COURIER_API_KEY"); v != "" {
		c.Courier.APIKey = v
	}
	if v := os.Getenv("COURIER_API_SECRET"); v != "" {
		c.Courier.APISecret = v
	}
	if v := os.Getenv("NOTIFY_PUSH_URL"); v != "" {
		c.Notify.PushURL = v
	}
	if v := os.Getenv("NOTIFY_PUSH_SECRET"); v != "" {
		c.Notify.PushSecret = v
	}
	if v := os.Getenv("NOTIFY_SUPPORT_URL"); v != "" {
		c.Notify.SupportURL = v
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.Interval = Duration(d)
		}
	}
}
