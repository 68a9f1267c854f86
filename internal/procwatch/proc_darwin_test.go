//go:build darwin

package procwatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBundleID(t *testing.T) {
	assert.Equal(t, "com.apple.FinalCut", parseBundleID([]byte(`"CFBundleIdentifier"="com.apple.FinalCut"`+"\n")))
	assert.Equal(t, "", parseBundleID([]byte("\n")))
}

func TestPlatformProcesses_Darwin(t *testing.T) {
	names, err := platformProcesses(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "launchd")
}
