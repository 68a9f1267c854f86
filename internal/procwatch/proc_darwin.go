//go:build darwin

package procwatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"

	"golang.org/x/sys/unix"
)

// platformProcesses reads the process table via the kern.proc.all sysctl.
func platformProcesses(context.Context) ([]string, error) {
	procs, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, fmt.Errorf("sysctl kern.proc.all: %w", err)
	}
	names := make([]string, 0, len(procs))
	for i := range procs {
		names = append(names, unix.ByteSliceToString(procs[i].Proc.P_comm[:]))
	}
	return names, nil
}

var (
	asnRe      = regexp.MustCompile(`ASN:0x[0-9a-fA-F]+-0x[0-9a-fA-F]+:`)
	bundleIDRe = regexp.MustCompile(`"CFBundleIdentifier"\s*=\s*"([^"]*)"`)
)

// platformFrontBundle asks LaunchServices for the frontmost application.
func platformFrontBundle(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "lsappinfo", "front").Output()
	if err != nil {
		return "", fmt.Errorf("lsappinfo front: %w", err)
	}
	asn := asnRe.Find(out)
	if asn == nil {
		return "", fmt.Errorf("lsappinfo front: no ASN in %q", bytes.TrimSpace(out))
	}

	out, err = exec.CommandContext(ctx, "lsappinfo", "info", "-only", "bundleid", string(asn)).Output()
	if err != nil {
		return "", fmt.Errorf("lsappinfo info: %w", err)
	}
	return parseBundleID(out), nil
}

// parseBundleID extracts the bundle identifier from lsappinfo info output.
func parseBundleID(out []byte) string {
	m := bundleIDRe.FindSubmatch(out)
	if m == nil {
		return ""
	}
	return string(m[1])
}
