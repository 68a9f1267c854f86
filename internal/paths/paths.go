// Package paths centralizes file and directory names used across the project.
// Data directory names and the Final Cut Pro locations the daemon reads are
// defined here as the single source of truth.
package paths

import (
	"os"
	"path/filepath"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile     = "daemon.pid"
	ConfigFile  = "config.toml"
	LogFile     = "daemon.log"
	ContextFile = "context.json"
	BinaryName  = "cutpresence"
	DataDirRel  = ".cutpresence" // relative to $HOME
)

// Final Cut Pro preference locations, relative to $HOME. The sandboxed
// container copy is newer and preferred over the legacy one.
const (
	FCPBundleID         = "com.apple.FinalCut"
	FCPPrefsContainer   = "Library/Containers/com.apple.FinalCut/Data/Library/Preferences/com.apple.FinalCut.plist"
	FCPPrefsLegacy      = "Library/Preferences/com.apple.FinalCut.plist"
	FCPLibraryExtension = ".fcpbundle"
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Context returns the default path of the context document exported by the
// Final Cut Pro workflow extension.
func (d DataDir) Context() string { return filepath.Join(d.Root, ContextFile) }

// ///////////////////////////////////////////////
// Home-relative helpers
// ///////////////////////////////////////////////

// FCPPrefsCandidates returns the preference plist locations in lookup order.
// Returns nil when the home directory cannot be determined.
func FCPPrefsCandidates() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, FCPPrefsContainer),
		filepath.Join(home, FCPPrefsLegacy),
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory. Paths
// without the prefix, or when the home directory is unknown, are returned
// unchanged.
func ExpandHome(p string) string {
	if len(p) < 2 || p[0] != '~' || (p[1] != '/' && p[1] != filepath.Separator) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
