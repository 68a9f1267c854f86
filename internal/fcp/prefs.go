package fcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"howett.net/plist"

	"tools.zach/dev/cutpresence/internal/paths"
)

// ///////////////////////////////////////////////
// PrefsProvider
// ///////////////////////////////////////////////

// Preference keys holding file references.
const (
	keyRecentProjects  = "FFRecentProjects"
	keyActiveLibraries = "FFActiveLibraries"
	keyRecentLibraries = "FFRecentLibraries"
)

// DefaultRescanInterval bounds how often the library bundle is rescanned
// while the preference file is unchanged.
const DefaultRescanInterval = 15 * time.Second

// PrefsProvider derives the context from the application's preference plist.
// Only library, event and project can be recovered this way.
type PrefsProvider struct {
	// Paths are the plist candidates; the first existing one is used.
	Paths []string
	// Resolver turns recent-item entries into paths. Nil uses [PathResolver].
	Resolver Resolver
	// Scan enables [FindLatestProject] when only a library is known.
	Scan bool
	// SkipDirs extends the scan denylist.
	SkipDirs []string
	// RescanInterval bounds rescans of an unchanged plist. Zero uses
	// [DefaultRescanInterval].
	RescanInterval time.Duration
	// Logger receives diagnostics. Nil uses slog.Default.
	Logger *slog.Logger

	mu       sync.Mutex
	path     string
	modTime  time.Time
	readAt   time.Time
	snapshot *Snapshot
}

// Snapshot implements [Provider]. The plist is re-read when it changes and
// the result cached in between.
func (p *PrefsProvider) Snapshot(ctx context.Context) *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, info := p.locate()
	if path == "" {
		p.snapshot = nil
		return nil
	}

	interval := p.RescanInterval
	if interval <= 0 {
		interval = DefaultRescanInterval
	}
	fresh := path == p.path && info.ModTime().Equal(p.modTime) && time.Since(p.readAt) < interval
	if fresh {
		return copySnapshot(p.snapshot)
	}

	snap, err := p.read(ctx, path)
	if err != nil {
		p.logger().Debug("preferences unreadable", "path", path, "error", err)
	}
	p.path, p.modTime, p.readAt, p.snapshot = path, info.ModTime(), time.Now(), snap
	return copySnapshot(snap)
}

// locate returns the first candidate that exists.
func (p *PrefsProvider) locate() (string, os.FileInfo) {
	for _, c := range p.Paths {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, info
		}
	}
	return "", nil
}

// read decodes the plist at path and extracts the context.
func (p *PrefsProvider) read(ctx context.Context, path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var prefs map[string]any
	if _, err := plist.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("decode plist: %w", err)
	}

	r := p.Resolver
	if r == nil {
		r = PathResolver{}
	}

	if projectPath, ok := resolveFirst(r, prefs[keyRecentProjects]); ok {
		snap := ParseProjectPath(projectPath)
		return &snap, nil
	}

	libs, ok := prefs[keyActiveLibraries]
	if !ok || libs == nil {
		libs = prefs[keyRecentLibraries]
	}
	libPath, ok := resolveFirst(r, libs)
	if !ok {
		return nil, nil
	}

	snap := Snapshot{Library: bundleName(libPath)}
	if p.Scan && ctx.Err() == nil {
		latest, found, err := FindLatestProject(libPath, p.SkipDirs)
		switch {
		case err != nil:
			p.logger().Debug("library scan failed", "library", libPath, "error", err)
		case found:
			snap.Event, snap.Project = latest.Event, latest.Project
		}
	}
	snap = snap.Normalize()
	return &snap, nil
}

func (p *PrefsProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// ///////////////////////////////////////////////
// Path Parsing
// ///////////////////////////////////////////////

// ParseProjectPath splits a recent-project path into its context.
//
// The library is the last component ending in .fcpbundle. The event is the
// component after it, or the one after that when it is Projects.localized,
// provided it is not the final component. The project is the final
// component without its extension.
func ParseProjectPath(p string) Snapshot {
	p = filepath.Clean(p)
	trimmed := strings.TrimSuffix(p, filepath.Ext(p))
	parts := strings.Split(trimmed, string(filepath.Separator))

	snap := Snapshot{Project: parts[len(parts)-1]}

	lib := -1
	for i, c := range parts {
		if strings.HasSuffix(c, paths.FCPLibraryExtension) {
			lib = i
		}
	}
	if lib >= 0 {
		snap.Library = strings.TrimSuffix(parts[lib], paths.FCPLibraryExtension)
		next := lib + 1
		if next < len(parts)-1 {
			if parts[next] != projectsFolder {
				snap.Event = parts[next]
			} else if next+1 < len(parts)-1 {
				snap.Event = parts[next+1]
			}
		}
	}
	return snap.Normalize()
}

// bundleName returns the last path component without its extension.
func bundleName(p string) string {
	base := filepath.Base(filepath.Clean(p))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func copySnapshot(s *Snapshot) *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
