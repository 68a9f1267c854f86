package fcp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, w *Watcher, within time.Duration) bool {
	t.Helper()
	select {
	case <-w.Events():
		return true
	case <-time.After(within):
		return false
	}
}

func TestWatcher_NativeWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "context.json")
	w := NewWatcher([]string{target}, 50*time.Millisecond, nil)
	defer w.Close()

	if w.Polling() {
		t.Skip("fsnotify unavailable on this system")
	}

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	assert.False(t, waitSignal(t, w, 200*time.Millisecond))

	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))
	assert.True(t, waitSignal(t, w, 2*time.Second))
}

func TestWatcher_NativeRenameReplace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "com.apple.FinalCut.plist")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	w := NewWatcher([]string{target}, 50*time.Millisecond, nil)
	defer w.Close()
	if w.Polling() {
		t.Skip("fsnotify unavailable on this system")
	}

	tmp := filepath.Join(dir, "com.apple.FinalCut.plist.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("v2"), 0o644))
	require.NoError(t, os.Rename(tmp, target))
	assert.True(t, waitSignal(t, w, 2*time.Second))
}

func TestWatcher_PollingFallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	target := filepath.Join(dir, "context.json")

	// The directory does not exist yet, so fsnotify cannot watch it.
	w := NewWatcher([]string{target}, 20*time.Millisecond, nil)
	defer w.Close()
	require.True(t, w.Polling())

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0o644))
	assert.True(t, waitSignal(t, w, 2*time.Second))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(target, future, future))
	assert.True(t, waitSignal(t, w, 2*time.Second))
}

func TestWatcher_PollingSeesWriteBeforeFirstTick(t *testing.T) {
	base := t.TempDir()
	existing := filepath.Join(base, "context.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o644))
	missing := filepath.Join(base, "absent", "com.apple.FinalCut.plist")

	w := NewWatcher([]string{existing, missing}, 20*time.Millisecond, nil)
	defer w.Close()
	require.True(t, w.Polling())

	// Written straight away, before the polling goroutine has had a chance
	// to run.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(existing, future, future))
	assert.True(t, waitSignal(t, w, 2*time.Second))
}

func TestWatcher_CoalescesAndCloses(t *testing.T) {
	w := NewWatcher(nil, time.Hour, nil)
	w.notify()
	w.notify()
	w.notify()
	assert.Len(t, w.events, 1)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "Close is idempotent")
}
