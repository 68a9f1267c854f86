//go:build !darwin && !linux

package procwatch

import "context"

func platformProcesses(context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func platformFrontBundle(context.Context) (string, error) {
	return "", ErrUnsupported
}
