package discord

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ///////////////////////////////////////////////
// Socket Discovery
// ///////////////////////////////////////////////

// socketVariants are the socket name prefixes for Discord stable, Canary and PTB.
var socketVariants = []string{"discord-ipc", "discordcanary-ipc", "discordptb-ipc"}

// socketCandidates lists every IPC socket path worth probing, in order:
// XDG_RUNTIME_DIR, TMPDIR (where the macOS client listens), /tmp, then the
// Snap and Flatpak sandboxes. Duplicates are removed.
func socketCandidates(getenv func(string) string, uid int) []string {
	var dirs []string
	if dir := getenv("XDG_RUNTIME_DIR"); dir != "" {
		dirs = append(dirs, dir)
	}
	if dir := getenv("TMPDIR"); dir != "" {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, "/tmp")

	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, dir := range dirs {
		for _, v := range socketVariants {
			for i := range maxIPCSlots {
				add(filepath.Join(dir, v+"-"+strconv.Itoa(i)))
			}
		}
	}

	runUser := filepath.Join("/run/user", strconv.Itoa(uid))
	for _, sd := range []string{"snap.discord", "snap.discord-canary", "snap.discord-ptb"} {
		for i := range maxIPCSlots {
			add(filepath.Join(runUser, sd, "discord-ipc-"+strconv.Itoa(i)))
		}
	}
	for _, app := range []string{
		"com.discordapp.Discord",
		"com.discordapp.DiscordCanary",
		"com.discordapp.DiscordPTB",
	} {
		for i := range maxIPCSlots {
			add(filepath.Join(runUser, "app", app, "discord-ipc-"+strconv.Itoa(i)))
		}
	}
	return out
}

// dialDiscord connects to the override socket when one is configured, or to
// the first reachable discovered socket. It returns the path it connected to.
func dialDiscord(ctx context.Context, override string, timeout time.Duration) (net.Conn, string, error) {
	d := net.Dialer{Timeout: timeout}

	if override != "" {
		conn, err := d.DialContext(ctx, "unix", override)
		if err != nil {
			return nil, override, fmt.Errorf("%w: %v", ErrIPCNotAvailable, err)
		}
		return conn, override, nil
	}

	for _, path := range socketCandidates(os.Getenv, os.Getuid()) {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, path, nil
		}
	}
	return nil, "", ErrIPCNotAvailable
}
