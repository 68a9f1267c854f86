// Tests for the config package covering [Load] behavior (defaults, overrides,
// missing files, malformed input, migration), the embedded default file,
// privacy helpers, validation and serialization round-trips.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	cutpresence "tools.zach/dev/cutpresence"
	"tools.zach/dev/cutpresence/internal/paths"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, paths.ConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		noFile  bool
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Discord.AppID != DefaultDiscordAppID {
					t.Errorf("AppID = %q, want %q", cfg.Discord.AppID, DefaultDiscordAppID)
				}
				if cfg.Engine.TickInterval.Duration != time.Second {
					t.Errorf("TickInterval = %s, want 1s", cfg.Engine.TickInterval)
				}
			},
		},
		{
			name:   "defaults from minimal config",
			config: "version = 2\n",
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if cfg.Engine.ClearGrace != def.Engine.ClearGrace {
					t.Errorf("ClearGrace = %s, want %s", cfg.Engine.ClearGrace, def.Engine.ClearGrace)
				}
				if cfg.Display.LargeImage != "fcp" {
					t.Errorf("LargeImage = %q, want fcp", cfg.Display.LargeImage)
				}
			},
		},
		{
			name: "user overrides applied",
			config: `
version = 2

[discord]
app_id = "custom-app-id"
socket_path = "/tmp/discord-ipc-3"

[engine]
tick_interval = "250ms"
reconnect_interval = "10s"
start_enabled = false

[privacy]
hide_project_name = true
ignore_libraries = ["Client*"]
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Discord.AppID != "custom-app-id" {
					t.Errorf("AppID = %q", cfg.Discord.AppID)
				}
				if cfg.Discord.SocketPath != "/tmp/discord-ipc-3" {
					t.Errorf("SocketPath = %q", cfg.Discord.SocketPath)
				}
				if cfg.Engine.TickInterval.Duration != 250*time.Millisecond {
					t.Errorf("TickInterval = %s, want 250ms", cfg.Engine.TickInterval)
				}
				if cfg.Engine.ReconnectInterval.Duration != 10*time.Second {
					t.Errorf("ReconnectInterval = %s, want 10s", cfg.Engine.ReconnectInterval)
				}
				if cfg.Engine.StartEnabled {
					t.Error("StartEnabled should be false")
				}
				if cfg.Engine.MinTimelineUpdateInterval.Duration != 3*time.Second {
					t.Errorf("unset MinTimelineUpdateInterval should keep default, got %s", cfg.Engine.MinTimelineUpdateInterval)
				}
				if !cfg.Privacy.HideProjectName {
					t.Error("HideProjectName should be true")
				}
			},
		},
		{
			name:    "malformed toml",
			config:  "version = 2\n[engine\n",
			wantErr: true,
		},
		{
			name:    "bad duration",
			config:  "version = 2\n[engine]\ntick_interval = \"soon\"\n",
			wantErr: true,
		},
		{
			name:    "validation failure",
			config:  "version = 2\n[log]\nlevel = \"loud\"\n",
			wantErr: true,
		},
		{
			name:    "future version rejected",
			config:  "version = 99\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dir string
			if tt.noFile {
				dir = t.TempDir()
			} else {
				dir = writeConfig(t, tt.config)
			}

			cfg, err := Load(dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_Migration(t *testing.T) {
	dir := writeConfig(t, `
[discord]
app_id = "legacy"

[engine]
tick_seconds = 2
reconnect_seconds = 30
clear_grace_seconds = 1.5
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Discord.AppID != "legacy" {
		t.Errorf("AppID = %q, want legacy", cfg.Discord.AppID)
	}
	if cfg.Engine.TickInterval.Duration != 2*time.Second {
		t.Errorf("TickInterval = %s, want 2s", cfg.Engine.TickInterval)
	}
	if cfg.Engine.ReconnectInterval.Duration != 30*time.Second {
		t.Errorf("ReconnectInterval = %s, want 30s", cfg.Engine.ReconnectInterval)
	}
	if cfg.Engine.ClearGrace.Duration != 1500*time.Millisecond {
		t.Errorf("ClearGrace = %s, want 1.5s", cfg.Engine.ClearGrace)
	}

	path := filepath.Join(dir, paths.ConfigFile)
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("expected backup file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if PeekVersion(data) != CurrentVersion {
		t.Errorf("re-saved config version = %d, want %d", PeekVersion(data), CurrentVersion)
	}
	if strings.Contains(string(data), "tick_seconds") {
		t.Error("re-saved config still contains v1 keys")
	}
}

func TestLoad_MigrationRejectsNonNumeric(t *testing.T) {
	dir := writeConfig(t, "[engine]\ntick_seconds = \"two\"\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected migration error")
	}
}

func TestPeekVersion(t *testing.T) {
	tests := []struct {
		data string
		want int
	}{
		{"", 1},
		{"version = 0", 1},
		{"version = 2", 2},
		{"not toml [", 1},
		{"[discord]\napp_id = \"x\"", 1},
	}
	for _, tt := range tests {
		if got := PeekVersion([]byte(tt.data)); got != tt.want {
			t.Errorf("PeekVersion(%q) = %d, want %d", tt.data, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Embedded Default
// ///////////////////////////////////////////////

func TestEmbeddedDefaultMatchesDefaultConfig(t *testing.T) {
	var cfg Config
	if _, err := toml.Decode(string(cutpresence.DefaultConfigTOML), &cfg); err != nil {
		t.Fatalf("decode embedded default: %v", err)
	}
	def := DefaultConfig()

	if cfg.Version != def.Version {
		t.Errorf("Version = %d, want %d", cfg.Version, def.Version)
	}
	if cfg.Discord != def.Discord {
		t.Errorf("Discord = %+v, want %+v", cfg.Discord, def.Discord)
	}
	if cfg.App != def.App {
		t.Errorf("App = %+v, want %+v", cfg.App, def.App)
	}
	if cfg.Engine != def.Engine {
		t.Errorf("Engine = %+v, want %+v", cfg.Engine, def.Engine)
	}
	if cfg.Display != def.Display {
		t.Errorf("Display = %+v, want %+v", cfg.Display, def.Display)
	}
	if cfg.Control != def.Control {
		t.Errorf("Control = %+v, want %+v", cfg.Control, def.Control)
	}
	if cfg.Log != def.Log {
		t.Errorf("Log = %+v, want %+v", cfg.Log, def.Log)
	}
	if cfg.Context.ScanLibrary != def.Context.ScanLibrary {
		t.Errorf("ScanLibrary = %v, want %v", cfg.Context.ScanLibrary, def.Context.ScanLibrary)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("embedded default fails validation: %v", err)
	}
}

func TestWriteDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	wrote, err := WriteDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !wrote {
		t.Fatal("expected first WriteDefault to write")
	}

	path := filepath.Join(dir, paths.ConfigFile)
	if err := os.WriteFile(path, []byte("version = 2\n[log]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wrote, err = WriteDefault(dir)
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Error("WriteDefault must not overwrite an existing config")
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, user edit lost", cfg.Log.Level)
	}
}

// ///////////////////////////////////////////////
// Save
// ///////////////////////////////////////////////

func TestConfig_Save_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Engine.ClearGrace = D(7 * time.Second)
	cfg.Privacy.IgnoreLibraries = []string{"Client*", "**/Secret"}
	cfg.Context.SkipDirs = []string{"Exports"}

	if err := cfg.Save(filepath.Join(dir, paths.ConfigFile)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Engine.ClearGrace.Duration != 7*time.Second {
		t.Errorf("ClearGrace = %s, want 7s", got.Engine.ClearGrace)
	}
	if strings.Join(got.Privacy.IgnoreLibraries, ",") != "Client*,**/Secret" {
		t.Errorf("IgnoreLibraries = %v", got.Privacy.IgnoreLibraries)
	}
	if len(got.Context.SkipDirs) != 1 || got.Context.SkipDirs[0] != "Exports" {
		t.Errorf("SkipDirs = %v", got.Context.SkipDirs)
	}
}

func TestDuration_Text(t *testing.T) {
	d := D(1500 * time.Millisecond)
	b, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "1.5s" {
		t.Errorf("MarshalText = %q, want 1.5s", b)
	}
	var back Duration
	if err := back.UnmarshalText([]byte(" 1.5s ")); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Errorf("UnmarshalText = %s, want %s", back, d)
	}
	if err := back.UnmarshalText([]byte("5")); err == nil {
		t.Error("expected error for unitless duration")
	}
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty app id", func(c *Config) { c.Discord.AppID = " " }},
		{"no process identity", func(c *Config) { c.App.ProcessName = ""; c.App.BundleID = "" }},
		{"tick too fast", func(c *Config) { c.Engine.TickInterval = D(10 * time.Millisecond) }},
		{"zero reconnect", func(c *Config) { c.Engine.ReconnectInterval = D(0) }},
		{"negative grace", func(c *Config) { c.Engine.ClearGrace = D(-time.Second) }},
		{"negative throttle", func(c *Config) { c.Engine.MinTimelineUpdateInterval = D(-time.Second) }},
		{"long large text", func(c *Config) { c.Display.LargeText = strings.Repeat("x", MaxFieldLength+1) }},
		{"bad ignore glob", func(c *Config) { c.Privacy.IgnoreLibraries = []string{"[unclosed"} }},
		{"bad skip glob", func(c *Config) { c.Context.SkipDirs = []string{"{a,b"} }},
		{"negative rate limit", func(c *Config) { c.Control.RateLimitPerMinute = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"zero log size", func(c *Config) { c.Log.MaxSizeMB = 0 }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_Validate_Accepts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.ProcessName = ""
	cfg.Engine.ClearGrace = D(0)
	cfg.Engine.MinTimelineUpdateInterval = D(0)
	cfg.Control.Listen = ""
	cfg.Log.Level = "TRACE"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// ///////////////////////////////////////////////
// Privacy and Derived Paths
// ///////////////////////////////////////////////

func TestConfig_IsLibraryIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Privacy.IgnoreLibraries = []string{"Client *", "NDA-*", "Personal"}

	tests := []struct {
		library string
		want    bool
	}{
		{"Client Work", true},
		{"NDA-Acme", true},
		{"Personal", true},
		{"Personal 2", false},
		{"Vacation", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cfg.IsLibraryIgnored(tt.library); got != tt.want {
			t.Errorf("IsLibraryIgnored(%q) = %v, want %v", tt.library, got, tt.want)
		}
	}
}

func TestConfig_ProjectName(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ProjectName("Trailer"); got != "Trailer" {
		t.Errorf("ProjectName = %q, want Trailer", got)
	}

	cfg.Privacy.HideProjectName = true
	cfg.Privacy.HiddenText = "something secret"
	if got := cfg.ProjectName("Trailer"); got != "something secret" {
		t.Errorf("ProjectName = %q, want hidden text", got)
	}
	if got := cfg.ProjectName(""); got != "" {
		t.Errorf("unknown name should stay unknown, got %q", got)
	}
}

func TestConfig_ContextFile(t *testing.T) {
	t.Setenv("HOME", "/Users/editor")
	cfg := DefaultConfig()

	if got, want := cfg.ContextFile("/data"), filepath.Join("/data", paths.ContextFile); got != want {
		t.Errorf("ContextFile = %q, want %q", got, want)
	}
	cfg.Context.ContextFile = "~/ctx.json"
	if got, want := cfg.ContextFile("/data"), "/Users/editor/ctx.json"; got != want {
		t.Errorf("ContextFile = %q, want %q", got, want)
	}
}

func TestConfig_PrefsCandidates(t *testing.T) {
	t.Setenv("HOME", "/Users/editor")
	cfg := DefaultConfig()

	def := cfg.PrefsCandidates()
	if len(def) != 2 || !strings.Contains(def[0], "Containers") {
		t.Errorf("default candidates = %v, want container first", def)
	}

	cfg.Context.PrefsPaths = []string{"~/custom.plist", "/abs.plist"}
	got := cfg.PrefsCandidates()
	if got[0] != "/Users/editor/custom.plist" || got[1] != "/abs.plist" {
		t.Errorf("PrefsCandidates = %v", got)
	}
}
