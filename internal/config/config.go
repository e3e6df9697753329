// Package config loads configuration from environment variables, optionally
// layered over a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for both the SDK client and the backend daemon.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ClientConfig configures the records SDK.
type ClientConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Token              string        `yaml:"token"`
	AuthScheme         string        `yaml:"auth_scheme"` // Token | Bearer
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Mode               string        `yaml:"mode"` // direct | import
	ProgressInterval   time.Duration `yaml:"progress_interval"`
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr"`
	MetricsPath string   `yaml:"metrics_path"`
	DataDir     string   `yaml:"data_dir"`
	DataKey     string   `yaml:"data_key"` // hex AES-256 key, encrypts the data file
	SeedFile    string   `yaml:"seed_file"`
	APITokens   []string `yaml:"api_tokens"`
	DisableTLS  bool     `yaml:"disable_tls"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:          "http://127.0.0.1:8000",
			AuthScheme:       "Token",
			Timeout:          30 * time.Second,
			Mode:             "direct",
			ProgressInterval: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			ListenAddr:  ":8000",
			MetricsPath: "/metrics",
			DataDir:     "./data",
			DisableTLS:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration: defaults, then the YAML file named by
// CELERIX_RECORDS_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CELERIX_RECORDS_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	c := &cfg.Client
	c.BaseURL = envOr("CELERIX_RECORDS_URL", c.BaseURL)
	c.Token = envOr("CELERIX_RECORDS_TOKEN", c.Token)
	c.AuthScheme = envOr("CELERIX_RECORDS_AUTH_SCHEME", c.AuthScheme)
	c.Timeout = envDuration("CELERIX_RECORDS_TIMEOUT", c.Timeout)
	c.InsecureSkipVerify = envBool("CELERIX_RECORDS_INSECURE", c.InsecureSkipVerify)
	c.Mode = envOr("CELERIX_RECORDS_MODE", c.Mode)
	c.ProgressInterval = envDuration("CELERIX_RECORDS_PROGRESS_INTERVAL", c.ProgressInterval)

	s := &cfg.Server
	s.ListenAddr = envOr("CELERIX_RECORDS_LISTEN_ADDR", s.ListenAddr)
	s.MetricsPath = envOr("CELERIX_RECORDS_METRICS_PATH", s.MetricsPath)
	s.DataDir = envOr("CELERIX_RECORDS_DATA_DIR", s.DataDir)
	s.DataKey = envOr("CELERIX_RECORDS_DATA_KEY", s.DataKey)
	s.SeedFile = envOr("CELERIX_RECORDS_SEED_FILE", s.SeedFile)
	s.APITokens = envList("CELERIX_RECORDS_API_TOKENS", s.APITokens)
	s.DisableTLS = envBool("CELERIX_RECORDS_DISABLE_TLS", s.DisableTLS)

	cfg.Log.Level = envOr("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("LOG_FORMAT", cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Client.Mode {
	case "direct", "import":
	default:
		return fmt.Errorf("config: mode must be direct or import, got %q", c.Client.Mode)
	}
	switch c.Client.AuthScheme {
	case "Token", "Bearer":
	default:
		return fmt.Errorf("config: auth scheme must be Token or Bearer, got %q", c.Client.AuthScheme)
	}
	if c.Client.ProgressInterval < 0 {
		return fmt.Errorf("config: progress interval must not be negative")
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
