package config

import "time"

// Config represents the complete herald configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Queue    QueueConfig    `yaml:"queue"`
	Delivery DeliveryConfig `yaml:"delivery"`
	API      APIConfig      `yaml:"api,omitempty"`
	Rules    RulesConfig    `yaml:"rules,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name          string        `yaml:"name"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// QueueConfig defines delivery queue settings.
type QueueConfig struct {
	// Path enables the SQLite-backed store when non-empty; empty means
	// the in-memory store.
	Path        string        `yaml:"path,omitempty"`
	BatchSize   int           `yaml:"batch_size"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Retention   time.Duration `yaml:"retention"`
}

// DeliveryConfig defines delivery client settings.
type DeliveryConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the bearer token required on every endpoint except /healthz.
	APIKey string `yaml:"api_key"`
}

// RulesConfig points at the declarative rules file loaded at startup.
type RulesConfig struct {
	Path string `yaml:"path,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          "herald",
			LogLevel:      "info",
			LogFormat:     "json",
			TickInterval:  30 * time.Second,
			SweepInterval: 1 * time.Hour,
		},
		Queue: QueueConfig{
			Path:        "",
			BatchSize:   10,
			MaxRetries:  3,
			BackoffBase: 5 * time.Minute,
			Retention:   24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			Auth: APIAuthConfig{
				APIKey: "",
			},
		},
	}
}
