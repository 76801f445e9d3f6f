package models

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLaunchConfigValidate(t *testing.T) {
	ok := &LaunchConfig{HDA: "dos.qcow2", Mode: ModeHeadless}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := []*LaunchConfig{
		{Mode: ModeReplay},
		{Mode: ModeRecord},
		{Mode: "turbo"},
		{Headless: true, VNC: 5901},
		{MemoryMB: -1},
	}
	for i, cfg := range bad {
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("case %d accepted", i)
		}
		if !IsArgument(err) {
			t.Fatalf("case %d: want argument error, got %v", i, err)
		}
	}
}

func TestWorkspacePaths(t *testing.T) {
	ws := &Workspace{Root: t.TempDir()}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	if ws.CapturesDir() != filepath.Join(ws.Root, "captures") {
		t.Fatalf("captures dir = %s", ws.CapturesDir())
	}
	for _, dir := range []string{ws.CapturesDir(), ws.GoldenDir(), ws.StatesDir(), ws.SessionsDir()} {
		if !dirExists(t, dir) {
			t.Fatalf("missing %s", dir)
		}
	}
}

func dirExists(t *testing.T, path string) bool {
	t.Helper()
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.IsDir()
}
