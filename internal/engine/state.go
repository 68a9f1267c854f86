package engine

import (
	"fmt"
	"time"

	"tools.zach/dev/cutpresence/internal/config"
	"tools.zach/dev/cutpresence/internal/fcp"
)

// ///////////////////////////////////////////////
// Modes
// ///////////////////////////////////////////////

// Mode is what the engine last decided to show.
type Mode int

const (
	// ModeDisabled means publishing is switched off.
	ModeDisabled Mode = iota
	// ModeCleared means no presence is shown.
	ModeCleared
	// ModeIdle means the app runs in the background.
	ModeIdle
	// ModeActive means the app is frontmost and its context is shown.
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeCleared:
		return "cleared"
	case ModeIdle:
		return "idle"
	case ModeActive:
		return "active"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText renders the mode by name in JSON status documents.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	for c := ModeDisabled; c <= ModeActive; c++ {
		if c.String() == string(b) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", b)
}

// ConnState is the engine's view of the Discord connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (c ConnState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(c))
	}
}

// MarshalText renders the connection state by name in JSON status documents.
func (c ConnState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses a connection state name.
func (c *ConnState) UnmarshalText(b []byte) error {
	for s := Disconnected; s <= Connected; s++ {
		if s.String() == string(b) {
			*c = s
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// ///////////////////////////////////////////////
// Settings
// ///////////////////////////////////////////////

// Settings is the engine's view of the configuration.
type Settings struct {
	TickInterval              time.Duration
	ReconnectInterval         time.Duration
	ClearGrace                time.Duration
	MinTimelineUpdateInterval time.Duration
	StartEnabled              bool

	// DisplayName is the details line while idle and the last-resort
	// library label.
	DisplayName string
	LargeImage  string
	LargeText   string

	ShowTimecode bool
	ShowFormat   bool

	// ProjectName maps a project or clip name to what may be shown. Nil
	// shows names unchanged.
	ProjectName func(name string) string
	// IgnoreLibrary reports whether a library must never be shown.
	IgnoreLibrary func(library string) bool
}

// DefaultSettings mirrors config.DefaultConfig.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

// SettingsFromConfig extracts the engine settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TickInterval:              cfg.Engine.TickInterval.Duration,
		ReconnectInterval:         cfg.Engine.ReconnectInterval.Duration,
		ClearGrace:                cfg.Engine.ClearGrace.Duration,
		MinTimelineUpdateInterval: cfg.Engine.MinTimelineUpdateInterval.Duration,
		StartEnabled:              cfg.Engine.StartEnabled,
		DisplayName:               cfg.App.DisplayName,
		LargeImage:                cfg.Display.LargeImage,
		LargeText:                 cfg.Display.LargeText,
		ShowTimecode:              cfg.Display.ShowTimecode,
		ShowFormat:                cfg.Display.ShowFormat,
		ProjectName:               cfg.ProjectName,
		IgnoreLibrary:             cfg.IsLibraryIgnored,
	}
}

// ///////////////////////////////////////////////
// Engine State
// ///////////////////////////////////////////////

// idleSignature marks an idle presence in lastSignature.
const idleSignature = "IDLE"

// state is owned by the engine goroutine. Nothing outside it reads or
// writes these fields; Status exposes a copy.
type state struct {
	enabled bool
	mode    Mode

	conn            ConnState
	nextReconnectAt time.Time
	// connectFailures counts consecutive failed attempts.
	connectFailures int

	sessionStart time.Time
	appSeenAt    time.Time

	// De-duplication memory.
	lastSignature        string
	lastBase             string
	lastActive           bool
	lastTimecode         string
	lastTimelineUpdateAt time.Time
	lastSnapshot         *fcp.Snapshot

	// Idle fallbacks; they survive a clear.
	lastProject string
	lastEvent   string
	lastLibrary string

	lastDetails   string
	lastState     string
	lastPublishAt time.Time
	lastError     string
}

// forget wipes the de-duplication memory and the session.
func (s *state) forget() {
	s.lastSignature = ""
	s.lastBase = ""
	s.lastActive = false
	s.lastTimecode = ""
	s.lastTimelineUpdateAt = time.Time{}
	s.lastSnapshot = nil
	s.sessionStart = time.Time{}
	s.appSeenAt = time.Time{}
	s.lastDetails = ""
	s.lastState = ""
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is a point-in-time copy of the engine state.
type Status struct {
	Enabled         bool          `json:"enabled"`
	Mode            Mode          `json:"mode"`
	Connection      ConnState     `json:"connection"`
	Details         string        `json:"details,omitempty"`
	State           string        `json:"state,omitempty"`
	Snapshot        *fcp.Snapshot `json:"snapshot,omitempty"`
	SessionStart    *time.Time    `json:"session_start,omitempty"`
	LastPublishAt   *time.Time    `json:"last_publish_at,omitempty"`
	NextReconnectAt *time.Time    `json:"next_reconnect_at,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (s *state) status(now time.Time) *Status {
	st := &Status{
		Enabled:         s.enabled,
		Mode:            s.mode,
		Connection:      s.conn,
		Details:         s.lastDetails,
		State:           s.lastState,
		SessionStart:    timePtr(s.sessionStart),
		LastPublishAt:   timePtr(s.lastPublishAt),
		NextReconnectAt: timePtr(s.nextReconnectAt),
		LastError:       s.lastError,
		UpdatedAt:       now,
	}
	if s.lastSnapshot != nil {
		snap := *s.lastSnapshot
		st.Snapshot = &snap
	}
	if s.conn == Connected {
		st.NextReconnectAt = nil
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
