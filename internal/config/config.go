package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultBaseURL is the API root of the POS backend as seen from the Android emulator
const DefaultBaseURL = "http://10.0.2.2:8000/api/"

// Config holds all configuration for the application
type Config struct {
	// API
	BaseURL     string        `mapstructure:"base-url"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`

	// Session storage
	TokenStore  string `mapstructure:"token-store"`
	TokenFile   string `mapstructure:"token-file"`
	RedisURL    string `mapstructure:"redis-url"`
	RedisPrefix string `mapstructure:"redis-prefix"`

	// Reauthentication
	RefreshTimeout time.Duration `mapstructure:"refresh-timeout"`
	MaxPending     int           `mapstructure:"max-pending"`

	// Retry settings
	MaxRetries     int           `mapstructure:"max-retries"`
	BackoffInitial time.Duration `mapstructure:"backoff-initial"`
	BackoffMax     time.Duration `mapstructure:"backoff-max"`

	// Fetch command
	Workers   int    `mapstructure:"workers"`
	OutputDir string `mapstructure:"output"`

	// Logging
	Verbose bool   `mapstructure:"verbose"`
	LogFile string `mapstructure:"log-file"`
}

// BackoffConfig holds exponential backoff settings
type BackoffConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultBackoffConfig returns sensible default backoff settings
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval:     time.Second,
		MaxInterval:         60 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// SetupFlags configures persistent flags shared by every subcommand
// and binds them to viper.
func SetupFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()

	flags.String("config", "", "Config file (YAML); also POSCTL_CONFIG")

	// API flags
	flags.String("base-url", DefaultBaseURL, "Base URL of the POS API")
	flags.Duration("http-timeout", 30*time.Second, "Timeout for a single HTTP request")

	// Session storage flags
	flags.String("token-store", "file", "Where credentials are kept: file, redis or memory")
	flags.String("token-file", "", "Credential file for the file store (default: user config dir)")
	flags.String("redis-url", "", "Redis URL for the redis store (or set POSCTL_REDIS_URL)")
	flags.String("redis-prefix", "", "Key prefix for the redis store")

	// Reauthentication flags
	flags.Duration("refresh-timeout", 30*time.Second, "Upper bound on one token refresh")
	flags.Int("max-pending", 0, "Maximum requests queued behind a token refresh (0=unbounded)")

	// Retry flags
	flags.Int("max-retries", 3, "Maximum attempts for rate-limited or failing requests")
	flags.Duration("backoff-initial", time.Second, "Initial backoff interval")
	flags.Duration("backoff-max", 60*time.Second, "Maximum backoff interval")

	// Fetch flags
	flags.IntP("workers", "w", 4, "Number of parallel workers for fetch")
	flags.StringP("output", "o", "./export", "Output directory for fetched JSONL files")

	// Other flags
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.String("log-file", "", "Write log messages to this file")

	// Bind flags to viper
	v.BindPFlags(flags)

	// Bind environment variables
	v.SetEnvPrefix("POSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads the optional config file, unmarshals and validates the configuration
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base-url must be an absolute URL, got %q", c.BaseURL)
	}

	switch c.TokenStore {
	case "file", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("redis-url is required when token-store is redis")
		}
	default:
		return fmt.Errorf("token-store must be file, redis or memory, got %q", c.TokenStore)
	}

	if c.MaxPending < 0 {
		return fmt.Errorf("max-pending must be >= 0 (0 means unbounded)")
	}
	if c.RefreshTimeout < 0 {
		return fmt.Errorf("refresh-timeout must be >= 0")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max-retries must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	return nil
}

// GetBackoffConfig returns backoff configuration from the config
func (c *Config) GetBackoffConfig() BackoffConfig {
	cfg := DefaultBackoffConfig()
	if c.BackoffInitial > 0 {
		cfg.InitialInterval = c.BackoffInitial
	}
	if c.BackoffMax > 0 {
		cfg.MaxInterval = c.BackoffMax
	}
	return cfg
}
