// The application's root configuration. Everything target-specific, including
// the success heuristic and the proxy classification heuristic, lives here so
// the engine stays policy-free.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Target   TargetConfig   `mapstructure:"target"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Attack   AttackConfig   `mapstructure:"attack"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Success  SuccessConfig  `mapstructure:"success"`
	Network  NetworkConfig  `mapstructure:"network"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ColorConfig defines the color settings for different log levels. Used for
// console output only; the file core is always JSON.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// TargetConfig describes the endpoint under assessment and the identity the
// OTP belongs to.
type TargetConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	VerifyPath string `mapstructure:"verify_path"`
	ResendPath string `mapstructure:"resend_path"`
	LoginPath  string `mapstructure:"login_path"`
	UserID     string `mapstructure:"user_id"`
	Password   string `mapstructure:"password"`
}

// ProxyConfig holds settings for the intercepting proxy and its monitor.
type ProxyConfig struct {
	// URL of the intercepting proxy, e.g. http://127.0.0.1:8080. Empty
	// disables the proxy path entirely.
	URL string `mapstructure:"url"`
	// Force aborts the session when the proxy dies instead of falling back
	// to a direct connection.
	Force bool `mapstructure:"force"`
	// RestoreOnRecovery switches back to the proxy transport once the
	// monitor reports it reachable again.
	RestoreOnRecovery bool          `mapstructure:"restore_on_recovery"`
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	// SentinelURL is the harmless URL fetched through the proxy when
	// classifying its kind.
	SentinelURL string `mapstructure:"sentinel_url"`
}

// AttackConfig holds settings for the dispatch loop and the prioritizer.
type AttackConfig struct {
	Mode            string `mapstructure:"mode"`
	Digits          int    `mapstructure:"digits"`
	SampleSize      int    `mapstructure:"sample_size"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	RetrainEvery    int    `mapstructure:"retrain_every"`
	MinTrainRecords int    `mapstructure:"min_train_records"`
	// Seed fixes the RNG used for sampling and cold-start ordering. Zero
	// means time-seeded.
	Seed int64 `mapstructure:"seed"`
}

// PacingConfig throttles guess issuance. A zero mean delay disables pacing.
type PacingConfig struct {
	MeanDelay time.Duration `mapstructure:"mean_delay"`
	Jitter    time.Duration `mapstructure:"jitter"`
}

// SuccessConfig defines the pluggable success heuristic: a response is a
// success if its status code is listed or its body matches the regex.
type SuccessConfig struct {
	StatusCodes []int  `mapstructure:"status_codes"`
	BodyRegex   string `mapstructure:"body_regex"`
}

// NetworkConfig holds settings for HTTP requests.
type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors"`
	Headers         map[string]string `mapstructure:"headers"`
}

// PostgresConfig holds settings for the optional audit sink.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// SetDefaults registers defaults so the app can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "harpy-cli")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("target.verify_path", "/auth/verify-otp")
	v.SetDefault("target.resend_path", "/auth/resend-otp")

	v.SetDefault("proxy.check_interval", 3*time.Second)
	v.SetDefault("proxy.probe_timeout", 2*time.Second)
	v.SetDefault("proxy.restore_on_recovery", true)
	v.SetDefault("proxy.sentinel_url", "http://example.com/")

	v.SetDefault("attack.mode", "brute")
	v.SetDefault("attack.digits", 6)
	v.SetDefault("attack.sample_size", 20)
	v.SetDefault("attack.retrain_every", 3)
	v.SetDefault("attack.min_train_records", 10)

	v.SetDefault("pacing.mean_delay", 200*time.Millisecond)
	v.SetDefault("pacing.jitter", 80*time.Millisecond)

	v.SetDefault("success.status_codes", []int{200})
	v.SetDefault("success.body_regex", `(?i)success`)

	v.SetDefault("network.timeout", 10*time.Second)
}

// Validate rejects configurations the engine must never start with. Setup
// failures surface here, before the session enters Running.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.Target.BaseURL); err != nil {
		return fmt.Errorf("target.base_url is not a valid URL: %w", err)
	}
	if c.Target.UserID == "" {
		return fmt.Errorf("target.user_id is required")
	}
	if c.Proxy.URL != "" {
		u, err := url.Parse(c.Proxy.URL)
		if err != nil || u.Hostname() == "" || u.Port() == "" {
			return fmt.Errorf("proxy.url must include scheme, host and port: %q", c.Proxy.URL)
		}
	}
	if c.Proxy.CheckInterval < time.Second || c.Proxy.CheckInterval > 30*time.Second {
		return fmt.Errorf("proxy.check_interval must be between 1s and 30s, got %s", c.Proxy.CheckInterval)
	}
	switch c.Attack.Mode {
	case "fingerprint", "brute", "ai":
	default:
		return fmt.Errorf("attack.mode must be one of fingerprint, brute, ai; got %q", c.Attack.Mode)
	}
	if c.Attack.Digits < 1 || c.Attack.Digits > 9 {
		return fmt.Errorf("attack.digits must be between 1 and 9, got %d", c.Attack.Digits)
	}
	if c.Attack.SampleSize < 1 {
		return fmt.Errorf("attack.sample_size must be positive, got %d", c.Attack.SampleSize)
	}
	if c.Attack.RetrainEvery < 1 {
		return fmt.Errorf("attack.retrain_every must be positive, got %d", c.Attack.RetrainEvery)
	}
	if c.Success.BodyRegex != "" {
		if _, err := regexp.Compile(c.Success.BodyRegex); err != nil {
			return fmt.Errorf("success.body_regex does not compile: %w", err)
		}
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set stores a configuration instance directly. Intended for tests and for
// callers that build the config themselves.
func Set(cfg *Config) {
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
