// Package config locates the treeline config directory and loads the global
// settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"treeline/internal/artifacts"
)

// getConfigDir returns the config directory path.
// Uses TREELINE_CONFIG_DIR env var if set, otherwise defaults to ~/.treeline.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("TREELINE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".treeline")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the global settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// DefaultDatabasePath returns the default database file path
func DefaultDatabasePath() string {
	return filepath.Join(getConfigDir(), "treeline.db")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with the default settings
// file when missing.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := SettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings represents the global treeline settings
type Settings struct {
	Database    string `yaml:"database"`     // Database path, empty = {config_dir}/treeline.db
	BackupsPath string `yaml:"backups_path"` // Directory holding backup snapshot files
	LogLevel    string `yaml:"log_level"`    // Log level: trace, debug, info, warn, off (default: info)
	BusyTimeout int    `yaml:"busy_timeout"` // SQLite busy_timeout (ms), 0 = use default
	DaysLimit   int    `yaml:"days_limit"`   // Max files per import run, 0 = all
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.Database == "" {
		s.Database = DefaultDatabasePath()
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

// LoggingEnabled returns whether logging is enabled (any level other than "off").
func (s *Settings) LoggingEnabled() bool {
	return strings.ToLower(s.LogLevel) != "off"
}

func defaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	s.ApplyDefaults()
	return s
}

// LoadSettings loads the global settings from {config_dir}/settings.yaml.
// Falls back to embedded defaults if the file doesn't exist.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			s := defaultSettings()
			return &s, nil
		}
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// SaveSettings saves the global settings to {config_dir}/settings.yaml
func SaveSettings(s *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# Treeline settings\n# See: treeline settings --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}
