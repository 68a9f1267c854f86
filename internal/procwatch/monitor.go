// Package procwatch answers two questions about the monitored application:
// is it running, and is it the frontmost application.
package procwatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrUnsupported is returned by platform probes that do not exist on the
// current OS.
var ErrUnsupported = errors.New("procwatch: unsupported platform")

// probeTimeout bounds a single external probe.
const probeTimeout = 2 * time.Second

// Monitor reports the application's process state.
type Monitor interface {
	Running(ctx context.Context) bool
	Foreground(ctx context.Context) bool
}

// App identifies the monitored application.
type App struct {
	// ProcessName is the executable name as it appears in the process table.
	ProcessName string
	// BundleID is the macOS bundle identifier of the frontmost check.
	BundleID string
}

// System probes the operating system.
type System struct {
	app App
	log *slog.Logger

	// listProcs returns the names of all running processes.
	listProcs func(ctx context.Context) ([]string, error)
	// frontBundle returns the bundle identifier of the frontmost app.
	// Nil means the platform has no such notion; Foreground then follows Running.
	frontBundle func(ctx context.Context) (string, error)

	// warned suppresses repeated probe failure logs.
	warned sync.Map
}

// New returns a Monitor backed by the platform's process table.
func New(app App, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		app:         app,
		log:         logger,
		listProcs:   platformProcesses,
		frontBundle: platformFrontBundle,
	}
}

// Running reports whether a process with the application's name exists.
// Probe failures count as not running.
func (s *System) Running(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	names, err := s.listProcs(ctx)
	if err != nil {
		s.warnOnce("processes", err)
		return false
	}
	for _, n := range names {
		if matchProcess(n, s.app.ProcessName) {
			return true
		}
	}
	return false
}

// Foreground reports whether the application is frontmost. Platforms
// without a window server notion of frontmost report Running instead.
func (s *System) Foreground(ctx context.Context) bool {
	if s.frontBundle == nil || s.app.BundleID == "" {
		return s.Running(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	bundle, err := s.frontBundle(ctx)
	if errors.Is(err, ErrUnsupported) {
		return s.Running(ctx)
	}
	if err != nil {
		s.warnOnce("frontmost", err)
		return false
	}
	return strings.EqualFold(bundle, s.app.BundleID)
}

func (s *System) warnOnce(probe string, err error) {
	if _, seen := s.warned.LoadOrStore(probe, true); seen {
		s.log.Debug("process probe failed", "probe", probe, "error", err)
		return
	}
	s.log.Warn("process probe failed", "probe", probe, "error", err)
}

// matchProcess compares a process table name with the wanted name. Kernels
// truncate command names, so a long wanted name also matches its prefix
// when the table entry is at the truncation length.
func matchProcess(have, want string) bool {
	if want == "" {
		return false
	}
	if strings.EqualFold(have, want) {
		return true
	}
	const minTruncated = 15
	return len(have) >= minTruncated && len(have) < len(want) &&
		strings.EqualFold(have, want[:len(have)])
}

// Static is a Monitor with fixed answers.
type Static struct {
	IsRunning    bool
	IsForeground bool
}

// Running implements [Monitor].
func (s Static) Running(context.Context) bool { return s.IsRunning }

// Foreground implements [Monitor].
func (s Static) Foreground(context.Context) bool { return s.IsForeground }
