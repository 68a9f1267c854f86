//go:build linux

package procwatch

import (
	"context"

	"github.com/prometheus/procfs"
)

// procRoot is the procfs mount; overridden in tests.
var procRoot = procfs.DefaultMountPoint

// platformProcesses returns the comm name of every process. Processes that
// exit mid-scan are skipped.
func platformProcesses(ctx context.Context) ([]string, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		comm, err := p.Comm()
		if err != nil {
			continue
		}
		names = append(names, comm)
	}
	return names, nil
}

// platformFrontBundle has no equivalent without a specific desktop
// environment.
func platformFrontBundle(context.Context) (string, error) {
	return "", ErrUnsupported
}
