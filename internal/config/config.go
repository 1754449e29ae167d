package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
)

const (
	minTickSeconds            = 1
	maxTickSeconds            = 3600
	minProcessIntervalSeconds = 1
	maxProcessIntervalSeconds = 86400
	minDPMSPollSeconds        = 1
	maxDPMSPollSeconds        = 600
	minRetentionDays          = 0
	maxRetentionDays          = 3650
	minCleanupIntervalHours   = 1
	maxCleanupIntervalHours   = 720
	minLogSizeMB              = 1
	maxLogSizeMB              = 1024
)

type Config struct {
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Collection CollectionConfig `toml:"collection" json:"collection"`
	Events     EventsConfig     `toml:"events" json:"events"`
	Cleanup    CleanupConfig    `toml:"cleanup" json:"cleanup"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
	DBus       DBusConfig       `toml:"dbus" json:"dbus"`
	HTTP       HTTPConfig       `toml:"http" json:"http"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path" json:"db_path"`
}

type CollectionConfig struct {
	TickSeconds            int `toml:"tick_seconds" json:"tick_seconds"`
	ProcessIntervalSeconds int `toml:"process_interval_seconds" json:"process_interval_seconds"`
}

type EventsConfig struct {
	ScreenSaver     bool `toml:"screensaver" json:"screensaver"`
	Logind          bool `toml:"logind" json:"logind"`
	DPMS            bool `toml:"dpms" json:"dpms"`
	DPMSPollSeconds int  `toml:"dpms_poll_seconds" json:"dpms_poll_seconds"`
}

// CleanupConfig controls the optional retention task. RetentionDays of 0
// disables it, so rows are only removed by an explicit reset.
type CleanupConfig struct {
	RetentionDays int `toml:"retention_days" json:"retention_days"`
	IntervalHours int `toml:"interval_hours" json:"interval_hours"`
}

// LoggingConfig selects the log destination. An empty File logs to stderr.
type LoggingConfig struct {
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress"`
}

type DBusConfig struct {
	Bus string `toml:"bus" json:"bus"`
}

type HTTPConfig struct {
	Enabled     bool     `toml:"enabled" json:"enabled"`
	Addr        string   `toml:"addr" json:"addr"`
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath: "/var/lib/activity-defender/stats.db",
		},
		Collection: CollectionConfig{
			TickSeconds:            5,
			ProcessIntervalSeconds: 10,
		},
		Events: EventsConfig{
			ScreenSaver:     true,
			Logind:          true,
			DPMS:            false,
			DPMSPollSeconds: 2,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 0,
			IntervalHours: 24,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		DBus: DBusConfig{
			Bus: "session",
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9477",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

// LoadOrDefault loads path, falling back to the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return NormalizeAndValidate(DefaultConfig())
	}
	return cfg, err
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sanitized.Logging.File) != "" {
		sanitized.Logging.File, err = sanitizePath("logging.file", sanitized.Logging.File)
		if err != nil {
			return nil, err
		}
	}

	checks := []struct {
		name     string
		value    int
		min, max int
	}{
		{"collection.tick_seconds", sanitized.Collection.TickSeconds, minTickSeconds, maxTickSeconds},
		{"collection.process_interval_seconds", sanitized.Collection.ProcessIntervalSeconds, minProcessIntervalSeconds, maxProcessIntervalSeconds},
		{"events.dpms_poll_seconds", sanitized.Events.DPMSPollSeconds, minDPMSPollSeconds, maxDPMSPollSeconds},
		{"cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays},
		{"cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours},
		{"logging.max_size_mb", sanitized.Logging.MaxSizeMB, minLogSizeMB, maxLogSizeMB},
	}
	for _, c := range checks {
		if err := validateRange(c.name, c.value, c.min, c.max); err != nil {
			return nil, err
		}
	}
	if sanitized.Logging.MaxBackups < 0 {
		return nil, fmt.Errorf("logging.max_backups must not be negative, got %d", sanitized.Logging.MaxBackups)
	}
	if sanitized.Logging.MaxAgeDays < 0 {
		return nil, fmt.Errorf("logging.max_age_days must not be negative, got %d", sanitized.Logging.MaxAgeDays)
	}

	sanitized.DBus.Bus = strings.ToLower(strings.TrimSpace(sanitized.DBus.Bus))
	if sanitized.DBus.Bus != "session" && sanitized.DBus.Bus != "system" {
		return nil, fmt.Errorf("dbus.bus must be \"session\" or \"system\", got %q", cfg.DBus.Bus)
	}

	sanitized.HTTP.Addr = strings.TrimSpace(sanitized.HTTP.Addr)
	if sanitized.HTTP.Enabled && sanitized.HTTP.Addr == "" {
		return nil, fmt.Errorf("http.addr must not be empty when http.enabled is set")
	}
	sanitized.HTTP.CORSOrigins = append([]string(nil), cfg.HTTP.CORSOrigins...)

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(trimmedPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := renameio.WriteFile(trimmedPath, data.Bytes(), 0o644); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
