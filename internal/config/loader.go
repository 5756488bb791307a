package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Apply environment variable interpolation before parsing
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Rules path is resolved relative to the config file, not the cwd.
	if cfg.Rules.Path != "" && !filepath.IsAbs(cfg.Rules.Path) {
		cfg.Rules.Path = filepath.Join(filepath.Dir(absPath), cfg.Rules.Path)
	}

	return &cfg, nil
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.SweepInterval == 0 {
		cfg.Service.SweepInterval = defaults.Service.SweepInterval
	}

	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = defaults.Queue.BatchSize
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = defaults.Queue.MaxRetries
	}
	if cfg.Queue.BackoffBase == 0 {
		cfg.Queue.BackoffBase = defaults.Queue.BackoffBase
	}
	if cfg.Queue.Retention == 0 {
		cfg.Queue.Retention = defaults.Queue.Retention
	}

	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = defaults.Delivery.Timeout
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.SweepInterval <= 0 {
		return fmt.Errorf("service.sweep_interval must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive")
	}
	if cfg.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive")
	}
	if cfg.Queue.BackoffBase <= 0 {
		return fmt.Errorf("queue.backoff_base must be positive")
	}
	if cfg.Queue.Retention <= 0 {
		return fmt.Errorf("queue.retention must be positive")
	}

	if cfg.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled")
		}
		if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
			}
			return fmt.Errorf("api.auth.api_key: unresolved environment variable")
		}
	}

	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// ParseInterval converts interval strings to durations.
// Returns 0 for "daily", "weekly", "monthly" (cadence handled by the dispatcher).
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "hourly":
		return 1 * time.Hour, nil
	case "daily", "weekly", "monthly":
		return 0, nil // Special handling in the dispatcher's cadence tracking
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", interval, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %q", interval)
	}

	return d, nil
}
