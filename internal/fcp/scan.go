package fcp

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ///////////////////////////////////////////////
// Library Scan
// ///////////////////////////////////////////////

const (
	// projectMarker is written into a project directory on every save.
	projectMarker = "CurrentVersion.fcpevent"
	// libraryMarker is written at the bundle root on library-level saves.
	libraryMarker = "CurrentVersion.flexolibrary"
	// projectsFolder groups projects inside an event on some releases.
	projectsFolder = "Projects.localized"
)

// DefaultSkipDirs are bundle directories that never hold project markers.
// Entries are doublestar patterns matched against a single path element.
var DefaultSkipDirs = []string{
	"Original Media",
	"Transcoded Media",
	"Render Files",
	"Analysis Files",
	"Shared Items",
	"Backups",
	"Motion Templates.localized",
	"__Temp",
	"__Sync",
	".*",
	"*.lock",
	"*.lck",
}

// LatestProject is the most recently saved project found in a library.
type LatestProject struct {
	Event   string
	Project string
	ModTime time.Time
}

// FindLatestProject scans the library bundle at libraryPath for the project
// whose marker was modified last. extraSkip adds patterns to
// [DefaultSkipDirs].
//
// It reports false when no project marker exists, or when the library-level
// marker is newer than every project marker (the last save touched the
// library, not a project). Ties keep the first marker in lexical order.
func FindLatestProject(libraryPath string, extraSkip []string) (LatestProject, bool, error) {
	return findLatestProject(os.DirFS(libraryPath), extraSkip)
}

func findLatestProject(fsys fs.FS, extraSkip []string) (LatestProject, bool, error) {
	skip := append(append([]string{}, DefaultSkipDirs...), extraSkip...)

	var best LatestProject
	found := false

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return err
			}
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == "." {
			return nil
		}

		parts := strings.Split(p, "/")
		if skipped(d.Name(), skip) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			// event/project, or event/Projects.localized/project.
			if len(parts) > 3 || (len(parts) == 3 && parts[1] != projectsFolder) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != projectMarker {
			return nil
		}

		var event, project string
		switch {
		case len(parts) == 3 && parts[1] != projectsFolder:
			event, project = parts[0], parts[1]
		case len(parts) == 4 && parts[1] == projectsFolder:
			event, project = parts[0], parts[2]
		default:
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !found || info.ModTime().After(best.ModTime) {
			best = LatestProject{Event: event, Project: project, ModTime: info.ModTime()}
			found = true
		}
		return nil
	})
	if err != nil {
		return LatestProject{}, false, err
	}
	if !found {
		return LatestProject{}, false, nil
	}

	if info, err := fs.Stat(fsys, libraryMarker); err == nil && info.ModTime().After(best.ModTime) {
		return LatestProject{}, false, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("library marker unreadable", "error", err)
	}

	return best, true, nil
}

// skipped reports whether name matches any skip pattern.
func skipped(name string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}
