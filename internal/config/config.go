package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Execution ExecutionConfig `toml:"execution"`
	Toolchain ToolchainConfig `toml:"toolchain"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
}

type ExecutionConfig struct {
	TimeoutSeconds float64 `toml:"timeout_seconds"`
	MemoryPercent  int     `toml:"memory_percent"`
}

type ToolchainConfig struct {
	Home     string `toml:"home"`
	Bundle   string `toml:"bundle"`
	CacheDir string `toml:"cache_dir"`
}

type RuntimeConfig struct {
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	DiskCache        bool   `toml:"disk_cache"`
}

type ServerConfig struct {
	Port  int     `toml:"port"`
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Empty means the header is ignored.
	TrustedProxies []string `toml:"trusted_proxies"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Execution: ExecutionConfig{TimeoutSeconds: 5, MemoryPercent: 50},
		Runtime:   RuntimeConfig{MemoryLimitPages: 16384},
		Server:    ServerConfig{Port: 8080, Rate: 5, Burst: 10},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}

// Timeout is the execution timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Execution.TimeoutSeconds * float64(time.Second))
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "gosnip.toml"
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	// Env overrides
	if v := os.Getenv("GOSNIP_TOOLCHAIN_HOME"); v != "" {
		cfg.Toolchain.Home = v
	}
	if v := os.Getenv("GOSNIP_TOOLCHAIN_BUNDLE"); v != "" {
		cfg.Toolchain.Bundle = v
	}
	if v := os.Getenv("GOSNIP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GOSNIP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("GOSNIP_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	return cfg, cfg.Validate()
}

// Validate rejects values the governor would refuse anyway.
func (c Config) Validate() error {
	var errs []error
	if c.Execution.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("execution.timeout_seconds must be positive, got %v", c.Execution.TimeoutSeconds))
	}
	if c.Execution.MemoryPercent < 1 || c.Execution.MemoryPercent > 90 {
		errs = append(errs, fmt.Errorf("execution.memory_percent must be between 1 and 90, got %d", c.Execution.MemoryPercent))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.Rate < 0 || c.Server.Burst < 0 {
		errs = append(errs, errors.New("server.rate and server.burst must not be negative"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
