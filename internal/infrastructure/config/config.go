package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Sandbox   SandboxConfig
	Verify    VerifyConfig
	Share     ShareConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3000" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	// CORSOrigins is a comma-separated allowlist; "*" allows any origin.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*" yaml:"cors_origins"`
}

// StorageConfig holds fiddle persistence configuration.
type StorageConfig struct {
	// Backend selects the store implementation: "fs" or "redis".
	Backend  string `envconfig:"STORAGE_BACKEND" default:"fs" yaml:"backend"`
	Root     string `envconfig:"STORAGE_ROOT" default:"/var/lib/fiddle" yaml:"root"`
	RedisURL string `envconfig:"REDIS_URL" default:"" yaml:"redis_url"`
}

// SandboxConfig holds script execution sandbox configuration.
type SandboxConfig struct {
	// Runtime selects the sandbox implementation: "containerd" or "process".
	Runtime        string        `envconfig:"SANDBOX_RUNTIME" default:"containerd" yaml:"runtime"`
	Address        string        `envconfig:"SANDBOX_ADDR" default:"/run/containerd/containerd.sock" yaml:"address"`
	Namespace      string        `envconfig:"SANDBOX_NAMESPACE" default:"fiddle" yaml:"namespace"`
	Image          string        `envconfig:"SANDBOX_IMAGE" default:"docker.io/library/pawn-runner:latest" yaml:"image"`
	Interpreter    string        `envconfig:"SANDBOX_INTERPRETER" default:"/usr/bin/pawnrun" yaml:"interpreter"`
	StartupTimeout time.Duration `envconfig:"SANDBOX_STARTUP_TIMEOUT" default:"30s" yaml:"startup_timeout"`
	RunTimeout     time.Duration `envconfig:"SANDBOX_RUN_TIMEOUT" default:"5m" yaml:"run_timeout"`
}

// VerifyConfig holds human-verification provider configuration.
type VerifyConfig struct {
	Secret    string        `envconfig:"VERIFY_SECRET" default:"" yaml:"secret"`
	SiteKey   string        `envconfig:"VERIFY_SITE_KEY" default:"" yaml:"site_key"`
	VerifyURL string        `envconfig:"VERIFY_URL" default:"https://www.google.com/recaptcha/api/siteverify" yaml:"verify_url"`
	WaitLimit time.Duration `envconfig:"VERIFY_WAIT_LIMIT" default:"1h" yaml:"wait_limit"`
}

// ShareConfig holds publish/share configuration.
type ShareConfig struct {
	BaseURL string `envconfig:"SHARE_BASE_URL" default:"http://localhost:3000" yaml:"base_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables. When CONFIG_FILE is
// set, keys present in the YAML file override the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "3000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Backend: "fs",
			Root:    "/var/lib/fiddle",
		},
		Sandbox: SandboxConfig{
			Runtime:        "containerd",
			Address:        "/run/containerd/containerd.sock",
			Namespace:      "fiddle",
			Image:          "docker.io/library/pawn-runner:latest",
			Interpreter:    "/usr/bin/pawnrun",
			StartupTimeout: 30 * time.Second,
			RunTimeout:     5 * time.Minute,
		},
		Verify: VerifyConfig{
			VerifyURL: "https://www.google.com/recaptcha/api/siteverify",
			WaitLimit: time.Hour,
		},
		Share: ShareConfig{
			BaseURL: "http://localhost:3000",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
