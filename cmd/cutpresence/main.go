// Package main implements cutpresence, a daemon that mirrors the Final Cut
// Pro editing context to Discord Rich Presence, and the CLI that controls it.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	"tools.zach/dev/cutpresence/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set, resolveVersion reads the VCS info that Go embeds
// automatically.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state produce a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns ~/.cutpresence, or ./.cutpresence when the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

// cliOptions holds the persistent flags shared by every subcommand.
type cliOptions struct {
	dataDir string
	addr    string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:   paths.BinaryName,
		Short: "Show what you are editing in Final Cut Pro on Discord",
		Long: `cutpresence watches Final Cut Pro and publishes the current library,
event, project, clip and timecode as Discord Rich Presence.

Run "cutpresence run" to start the daemon; the other commands talk to a
running daemon over its local control address.`,
		Version:       resolveVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", defaultDataDir(), "Data directory for config, PID file and logs")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "Control address of the daemon (default: control.listen from the config)")

	root.AddCommand(
		newRunCmd(opts),
		newEnableCmd(opts),
		newDisableCmd(opts),
		newRefreshCmd(opts),
		newStatusCmd(opts),
		newLogsCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
