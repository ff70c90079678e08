package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the client settings.
type Config struct {
	Server     string
	StreamPath string

	StatusInterval    time.Duration
	RosterInterval    time.Duration
	FilamentInterval  time.Duration
	ReconnectDelay    time.Duration
	KeepaliveInterval time.Duration

	LogLevel    string
	LogFormat   string
	LogFile     string
	MetricsBind string
}

const (
	defaultConfigPath = "~/.config/printfarm/config.toml"
	defaultServer     = "127.0.0.1:8000"
	defaultStreamPath = "/ws"
	defaultLogLevel   = "info"
	defaultLogFormat  = "json"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server:            defaultServer,
		StreamPath:        defaultStreamPath,
		StatusInterval:    5 * time.Second,
		RosterInterval:    10 * time.Second,
		FilamentInterval:  30 * time.Second,
		ReconnectDelay:    2 * time.Second,
		KeepaliveInterval: 15 * time.Second,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Server            string `toml:"server"`
		StreamPath        string `toml:"stream_path"`
		StatusInterval    string `toml:"status_interval"`
		RosterInterval    string `toml:"roster_interval"`
		FilamentInterval  string `toml:"filament_interval"`
		ReconnectDelay    string `toml:"reconnect_delay"`
		KeepaliveInterval string `toml:"keepalive_interval"`
		LogLevel          string `toml:"log_level"`
		LogFormat         string `toml:"log_format"`
		LogFile           string `toml:"log_file"`
		MetricsBind       string `toml:"metrics_bind"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Server = orDefault(raw.Server, defaultServer)
	cfg.StreamPath = orDefault(raw.StreamPath, defaultStreamPath)
	if !strings.HasPrefix(cfg.StreamPath, "/") {
		cfg.StreamPath = "/" + cfg.StreamPath
	}
	cfg.LogLevel = orDefault(raw.LogLevel, defaultLogLevel)
	cfg.LogFormat = orDefault(raw.LogFormat, defaultLogFormat)
	cfg.MetricsBind = strings.TrimSpace(raw.MetricsBind)
	if logFile := strings.TrimSpace(raw.LogFile); logFile != "" {
		cfg.LogFile, err = expandPath(logFile)
		if err != nil {
			return Config{}, fmt.Errorf("log_file: %w", err)
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"status_interval", raw.StatusInterval, &cfg.StatusInterval},
		{"roster_interval", raw.RosterInterval, &cfg.RosterInterval},
		{"filament_interval", raw.FilamentInterval, &cfg.FilamentInterval},
		{"reconnect_delay", raw.ReconnectDelay, &cfg.ReconnectDelay},
		{"keepalive_interval", raw.KeepaliveInterval, &cfg.KeepaliveInterval},
	}
	for _, d := range durations {
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func parseDuration(key, raw string, dst *time.Duration) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("parse %s: %q must be positive", key, trimmed)
	}
	*dst = d
	return nil
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
