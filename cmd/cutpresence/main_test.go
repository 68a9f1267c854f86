package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tools.zach/dev/cutpresence/internal/paths"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	got := resolveVersion()
	if got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// Test binaries may or may not carry VCS info.
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

// ///////////////////////////////////////////////
// defaultDataDir Tests
// ///////////////////////////////////////////////

func TestDefaultDataDir(t *testing.T) {
	dir := defaultDataDir()
	if dir == "" {
		t.Fatal("defaultDataDir() returned empty string")
	}
	if filepath.Base(dir) != paths.DataDirRel {
		t.Errorf("defaultDataDir() = %q, want path ending in %q", dir, paths.DataDirRel)
	}
}

// ///////////////////////////////////////////////
// pidToken Tests
// ///////////////////////////////////////////////

func TestPidToken_Unique(t *testing.T) {
	a := pidToken()
	b := pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
}

func TestPidToken_Length(t *testing.T) {
	tok := pidToken()
	if len(tok) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(tok))
	}
}

// ///////////////////////////////////////////////
// writePID / removePID Tests
// ///////////////////////////////////////////////

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	data, err := os.ReadFile(dp.PID())
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	expected := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if string(data) != expected {
		t.Errorf("PID file content = %q, want %q", string(data), expected)
	}
}

func TestWritePID_SecondInstanceFails(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer removePID(dp, token, f)

	if _, err := writePID(dp, pidToken()); err == nil {
		t.Fatal("second writePID() succeeded while the lock is held")
	}
	alive, pid := checkStalePID(dp)
	if !alive {
		t.Error("checkStalePID() returned alive=false while the lock is held")
	}
	if pid != os.Getpid() {
		t.Errorf("checkStalePID() pid = %d, want %d", pid, os.Getpid())
	}
}

func TestRemovePID_MatchingToken(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, token, f)

	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("PID file should have been removed with matching token")
	}
}

func TestRemovePID_MismatchedToken(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, "wrong-token", f)

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Error("PID file should NOT have been removed with mismatched token")
	}
}

func TestRemovePID_NilFile(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}

	// Should not panic with a nil file handle.
	removePID(dp, "any-token", nil)
}

// ///////////////////////////////////////////////
// checkStalePID Tests
// ///////////////////////////////////////////////

func TestCheckStalePID_NoFile(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}

	alive, pid := checkStalePID(dp)
	if alive {
		t.Error("checkStalePID() returned alive=true with no PID file")
	}
	if pid != 0 {
		t.Errorf("checkStalePID() pid = %d, want 0", pid)
	}
}

func TestCheckStalePID_StalePID(t *testing.T) {
	dp := paths.DataDir{Root: t.TempDir()}

	// A PID file without a lock holder simulates a dead process.
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	alive, pid := checkStalePID(dp)
	if alive {
		t.Error("checkStalePID() returned alive=true for stale PID")
	}
	if pid != 0 {
		t.Errorf("checkStalePID() pid = %d, want 0 for stale", pid)
	}
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

// ///////////////////////////////////////////////
// Root Command Tests
// ///////////////////////////////////////////////

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"run", "enable", "disable", "refresh", "status", "logs"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err %v)", name, err)
		}
	}
	if cmd, _, _ := root.Find([]string{"daemon"}); cmd.Name() != "run" {
		t.Errorf("alias daemon resolves to %q, want run", cmd.Name())
	}
}

func TestRootCmd_Version(t *testing.T) {
	original := version
	defer func() { version = original }()
	version = "1.2.3"

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(out.String(), "1.2.3") {
		t.Errorf("version output = %q, want it to contain 1.2.3", out.String())
	}
}
