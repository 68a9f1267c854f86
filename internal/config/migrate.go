package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 2

// migration upgrades raw TOML from the prior version to Version.
type migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// Upgrade transforms data from the prior version to Version.
	Upgrade func(data []byte) ([]byte, error)
}

// migrations is the ordered upgrade path for config.toml.
var migrations = []migration{
	{Version: 2, Description: "engine timings as duration strings", Upgrade: upgradeDurations},
}

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// runMigrations applies every migration newer than fromVersion in order.
func runMigrations(data []byte, fromVersion int) ([]byte, error) {
	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	version := fromVersion
	for _, m := range sorted {
		if version >= m.Version {
			continue
		}
		slog.Info("applying config migration", "version", m.Version, "description", m.Description)
		var err error
		data, err = m.Upgrade(data)
		if err != nil {
			return nil, fmt.Errorf("migration to v%d failed: %w", m.Version, err)
		}
		version = m.Version
	}
	return data, nil
}

// A config without a version field is v1. Those files give engine timings
// as bare seconds under *_seconds keys, matching the earlier macOS agent,
// which hard-coded its timings in seconds. v2 switched to
// duration strings so sub-second values read naturally.
var v1DurationKeys = map[string]string{
	"tick_seconds":                "tick_interval",
	"reconnect_seconds":           "reconnect_interval",
	"clear_grace_seconds":         "clear_grace",
	"min_timeline_update_seconds": "min_timeline_update_interval",
}

// upgradeDurations rewrites [engine] *_seconds integers into duration strings.
func upgradeDurations(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode v1 config: %w", err)
	}

	if engine, ok := doc["engine"].(map[string]any); ok {
		for oldKey, newKey := range v1DurationKeys {
			raw, ok := engine[oldKey]
			if !ok {
				continue
			}
			delete(engine, oldKey)
			secs, ok := toSeconds(raw)
			if !ok {
				return nil, fmt.Errorf("engine.%s: expected a number, got %T", oldKey, raw)
			}
			engine[newKey] = time.Duration(secs * float64(time.Second)).String()
		}
	}
	doc["version"] = 2

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode v2 config: %w", err)
	}
	return buf.Bytes(), nil
}

func toSeconds(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
