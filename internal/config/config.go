// Package config provides configuration loading and defaults for the
// cutpresence daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package covers the Discord connection, how the editor is detected,
// engine timing, presence formatting, privacy controls, the local control
// surface and logging.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/renameio/v2"

	cutpresence "tools.zach/dev/cutpresence"
	"tools.zach/dev/cutpresence/internal/paths"
)

// DefaultDiscordAppID is the Discord application that owns the Final Cut Pro
// artwork.
const DefaultDiscordAppID = "1446513431623631032"

// MaxFieldLength is the longest details/state string Discord accepts.
const MaxFieldLength = 128

// ///////////////////////////////////////////////
// Duration
// ///////////////////////////////////////////////

// Duration is a time.Duration that round-trips through TOML as a
// Go duration string ("1s", "250ms").
type Duration struct {
	time.Duration
}

// D is shorthand for constructing a [Duration].
func D(d time.Duration) Duration { return Duration{d} }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Discord holds Discord connection settings.
	Discord DiscordConfig `toml:"discord"`
	// App identifies the monitored application.
	App AppConfig `toml:"app"`
	// Engine holds reconciliation timing.
	Engine EngineConfig `toml:"engine"`
	// Display holds presence display settings.
	Display DisplayConfig `toml:"display"`
	// Privacy holds privacy and library-hiding settings.
	Privacy PrivacyConfig `toml:"privacy"`
	// Context controls where editing context is read from.
	Context ContextConfig `toml:"context"`
	// Control holds the local HTTP control surface settings.
	Control ControlConfig `toml:"control"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	// AppID is the Discord application ID for Rich Presence.
	AppID string `toml:"app_id"`
	// SocketPath overrides IPC socket discovery when set.
	SocketPath string `toml:"socket_path,omitempty"`
}

// AppConfig identifies the monitored application.
type AppConfig struct {
	// BundleID is the macOS bundle identifier used for the foreground check.
	BundleID string `toml:"bundle_id"`
	// ProcessName is the executable name looked up in the process table.
	ProcessName string `toml:"process_name"`
	// DisplayName is shown as the details line while idle.
	DisplayName string `toml:"display_name"`
}

// EngineConfig holds reconciliation timing.
type EngineConfig struct {
	// TickInterval is the polling period.
	TickInterval Duration `toml:"tick_interval"`
	// ReconnectInterval is the wait after a failed connect or a lost connection.
	ReconnectInterval Duration `toml:"reconnect_interval"`
	// ClearGrace keeps the presence up briefly after the app disappears.
	ClearGrace Duration `toml:"clear_grace"`
	// MinTimelineUpdateInterval throttles timecode-only updates.
	MinTimelineUpdateInterval Duration `toml:"min_timeline_update_interval"`
	// StartEnabled controls whether publishing is on at startup.
	StartEnabled bool `toml:"start_enabled"`
}

// DisplayConfig holds presence display settings.
type DisplayConfig struct {
	// LargeImage is the Discord asset key for the large image.
	LargeImage string `toml:"large_image"`
	// LargeText is the tooltip for the large image.
	LargeText string `toml:"large_text"`
	// ShowTimecode appends the playhead timecode to the details line.
	ShowTimecode bool `toml:"show_timecode"`
	// ShowFormat appends resolution and frame rate to the state line.
	ShowFormat bool `toml:"show_format"`
}

// PrivacyConfig holds privacy settings.
type PrivacyConfig struct {
	// HideProjectName replaces project and clip names with HiddenText.
	HideProjectName bool `toml:"hide_project_name"`
	// HiddenText is the replacement shown when HideProjectName is true.
	HiddenText string `toml:"hidden_text"`
	// IgnoreLibraries lists glob patterns; a matching library clears presence.
	IgnoreLibraries []string `toml:"ignore_libraries"`
}

// ContextConfig controls the editing-context sources.
type ContextConfig struct {
	// ContextFile is the JSON document written by the workflow extension.
	// Empty means <data-dir>/context.json.
	ContextFile string `toml:"context_file,omitempty"`
	// PrefsPaths overrides the preference plist candidates, tried in order.
	PrefsPaths []string `toml:"prefs_paths,omitempty"`
	// ScanLibrary enables the on-disk project scan fallback.
	ScanLibrary bool `toml:"scan_library"`
	// SkipDirs adds glob patterns to the scan denylist.
	SkipDirs []string `toml:"skip_dirs,omitempty"`
}

// ControlConfig holds the local control surface settings.
type ControlConfig struct {
	// Listen is the loopback address for the HTTP control surface. Empty disables it.
	Listen string `toml:"listen"`
	// RateLimitPerMinute bounds control POST requests per client.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Stderr copies log lines to standard error.
	Stderr bool `toml:"stderr"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Discord: DiscordConfig{
			AppID: DefaultDiscordAppID,
		},
		App: AppConfig{
			BundleID:    paths.FCPBundleID,
			ProcessName: "Final Cut Pro",
			DisplayName: "Final Cut Pro",
		},
		Engine: EngineConfig{
			TickInterval:              D(time.Second),
			ReconnectInterval:         D(5 * time.Second),
			ClearGrace:                D(3 * time.Second),
			MinTimelineUpdateInterval: D(3 * time.Second),
			StartEnabled:              true,
		},
		Display: DisplayConfig{
			LargeImage:   "fcp",
			LargeText:    "Final Cut Pro",
			ShowTimecode: true,
			ShowFormat:   true,
		},
		Privacy: PrivacyConfig{
			HiddenText:      "a project",
			IgnoreLibraries: []string{},
		},
		Context: ContextConfig{
			ScanLibrary: true,
		},
		Control: ControlConfig{
			Listen:             "127.0.0.1:38917",
			RateLimitPerMinute: 60,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	migrated := version < CurrentVersion
	if version > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", version, CurrentVersion)
	}
	if migrated {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		data, err = runMigrations(data, version)
		if err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// WriteDefault copies the embedded default config to dataDir/config.toml
// unless a config already exists. Reports whether a file was written.
func WriteDefault(dataDir string) (bool, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return false, fmt.Errorf("create data dir: %w", err)
	}
	if err := renameio.WriteFile(path, cutpresence.DefaultConfigTOML, 0o644); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// Save writes the config to disk as TOML, replacing the file atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.AppID) == "" {
		return fmt.Errorf("discord.app_id must not be empty")
	}
	if c.App.ProcessName == "" && c.App.BundleID == "" {
		return fmt.Errorf("app.process_name or app.bundle_id must be set")
	}

	if c.Engine.TickInterval.Duration < 100*time.Millisecond {
		return fmt.Errorf("engine.tick_interval must be >= 100ms, got %s", c.Engine.TickInterval)
	}
	if c.Engine.ReconnectInterval.Duration <= 0 {
		return fmt.Errorf("engine.reconnect_interval must be > 0, got %s", c.Engine.ReconnectInterval)
	}
	if c.Engine.ClearGrace.Duration < 0 {
		return fmt.Errorf("engine.clear_grace must be >= 0, got %s", c.Engine.ClearGrace)
	}
	if c.Engine.MinTimelineUpdateInterval.Duration < 0 {
		return fmt.Errorf("engine.min_timeline_update_interval must be >= 0, got %s", c.Engine.MinTimelineUpdateInterval)
	}

	if len(c.Display.LargeText) > MaxFieldLength {
		return fmt.Errorf("display.large_text exceeds %d characters", MaxFieldLength)
	}

	for _, p := range c.Privacy.IgnoreLibraries {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid privacy.ignore_libraries pattern %q", p)
		}
	}
	for _, p := range c.Context.SkipDirs {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid context.skip_dirs pattern %q", p)
		}
	}

	if c.Control.RateLimitPerMinute < 0 {
		return fmt.Errorf("control.rate_limit_per_minute must be >= 0, got %d", c.Control.RateLimitPerMinute)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	return nil
}

// ///////////////////////////////////////////////
// Derived Values
// ///////////////////////////////////////////////

// ContextFile returns the configured context document path, defaulting to
// the data directory.
func (c *Config) ContextFile(dataDir string) string {
	if c.Context.ContextFile != "" {
		return paths.ExpandHome(c.Context.ContextFile)
	}
	return paths.DataDir{Root: dataDir}.Context()
}

// PrefsCandidates returns the preference plist paths to try, in order.
func (c *Config) PrefsCandidates() []string {
	if len(c.Context.PrefsPaths) == 0 {
		return paths.FCPPrefsCandidates()
	}
	out := make([]string, len(c.Context.PrefsPaths))
	for i, p := range c.Context.PrefsPaths {
		out[i] = paths.ExpandHome(p)
	}
	return out
}

// ///////////////////////////////////////////////
// Privacy Helpers
// ///////////////////////////////////////////////

// IsLibraryIgnored reports whether library matches any ignore pattern.
// Patterns are matched against the bare library name.
func (c *Config) IsLibraryIgnored(library string) bool {
	if library == "" {
		return false
	}
	for _, pattern := range c.Privacy.IgnoreLibraries {
		matched, err := doublestar.Match(pattern, library)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ProjectName returns the display name for a project, respecting privacy settings.
func (c *Config) ProjectName(realName string) string {
	if c.Privacy.HideProjectName && realName != "" {
		return c.Privacy.HiddenText
	}
	return realName
}
