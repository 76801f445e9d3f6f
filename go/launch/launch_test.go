package launch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/doscope/doscope/go/models"
)

func argvString(t *testing.T, cfg *models.LaunchConfig) string {
	t.Helper()
	args, err := Argv(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Join(args, " ")
}

func TestArgvRequiresDisk(t *testing.T) {
	if _, err := Argv(&models.LaunchConfig{}); !models.IsArgument(err) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
}

func TestArgvDriveTopology(t *testing.T) {
	base := models.LaunchConfig{HDA: "dos.qcow2", Headless: true}

	both := base
	both.GameISO = "game.iso"
	both.SharedISO = "tools.iso"
	s := argvString(t, &both)
	if !strings.Contains(s, "file=game.iso,format=raw,if=ide,index=2,media=cdrom") {
		t.Fatalf("game ISO not on primary slot: %s", s)
	}
	if !strings.Contains(s, "file=tools.iso,format=raw,if=ide,index=3,media=cdrom") {
		t.Fatalf("shared ISO not on secondary slot: %s", s)
	}

	shared := base
	shared.SharedISO = "tools.iso"
	s = argvString(t, &shared)
	if !strings.Contains(s, "file=tools.iso,format=raw,if=ide,index=2,media=cdrom") {
		t.Fatalf("lone shared ISO should take the primary slot: %s", s)
	}

	s = argvString(t, &base)
	if strings.Contains(s, "cdrom") {
		t.Fatalf("no optical drives requested: %s", s)
	}
	if !strings.Contains(s, "file=dos.qcow2,format=qcow2,if=ide,index=0,media=disk") {
		t.Fatalf("hard disk missing: %s", s)
	}
}

func TestArgvDisplay(t *testing.T) {
	s := argvString(t, &models.LaunchConfig{HDA: "d.qcow2", Headless: true})
	if !strings.Contains(s, "-display none") {
		t.Fatalf("headless wants -display none: %s", s)
	}
	if !strings.Contains(s, "-audiodev none,id=snd0") {
		t.Fatalf("headless wants null audio: %s", s)
	}
	if !strings.Contains(s, "-device sb16,audiodev=snd0") {
		t.Fatalf("sb16 is always attached: %s", s)
	}

	s = argvString(t, &models.LaunchConfig{HDA: "d.qcow2", VNC: 5901})
	if !strings.Contains(s, "-vnc :1") {
		t.Fatalf("vnc port 5901 is display 1: %s", s)
	}
	s = argvString(t, &models.LaunchConfig{HDA: "d.qcow2", VNC: 2})
	if !strings.Contains(s, "-vnc :2") {
		t.Fatalf("small vnc values are display indices: %s", s)
	}

	s = argvString(t, &models.LaunchConfig{HDA: "d.qcow2", Display: "gtk"})
	if !strings.Contains(s, "-display gtk") {
		t.Fatalf("windowed display honored: %s", s)
	}
}

func TestArgvDebugAndControl(t *testing.T) {
	s := argvString(t, &models.LaunchConfig{HDA: "d.qcow2", Headless: true})
	if !strings.Contains(s, "-gdb tcp::1234") {
		t.Fatalf("default gdb port: %s", s)
	}
	s = argvString(t, &models.LaunchConfig{
		HDA: "d.qcow2", Headless: true, GDBPort: 4321, QMPSocket: "/tmp/q.sock",
	})
	if !strings.Contains(s, "-gdb tcp::4321") {
		t.Fatalf("gdb port override: %s", s)
	}
	if !strings.Contains(s, "-qmp unix:/tmp/q.sock,server,nowait") {
		t.Fatalf("qmp socket: %s", s)
	}
}

func TestArgvMonitorAndReplay(t *testing.T) {
	s := argvString(t, &models.LaunchConfig{
		HDA: "d.qcow2", Monitor: true, Mode: models.ModeInteractive,
	})
	if !strings.Contains(s, "-monitor stdio") {
		t.Fatalf("interactive monitor: %s", s)
	}
	s = argvString(t, &models.LaunchConfig{
		HDA: "d.qcow2", Monitor: true, Mode: models.ModeReplay, ReplayFile: "run.rr",
	})
	if strings.Contains(s, "-monitor stdio") {
		t.Fatalf("replay mode never gets a monitor: %s", s)
	}
	if !strings.Contains(s, "-icount shift=auto,rr=replay,rrfile=run.rr") {
		t.Fatalf("replay flag: %s", s)
	}
	if !strings.Contains(s, "snapshot=on") {
		t.Fatalf("replay disk must be write-discarding: %s", s)
	}

	s = argvString(t, &models.LaunchConfig{
		HDA: "d.qcow2", Headless: true, Mode: models.ModeRecord, ReplayFile: "run.rr",
	})
	if !strings.Contains(s, "rr=record,rrfile=run.rr") {
		t.Fatalf("record flag: %s", s)
	}
}

func TestArgvSnapshotAndExtras(t *testing.T) {
	s := argvString(t, &models.LaunchConfig{
		HDA: "d.qcow2", Headless: true, Snapshot: "boot",
		ExtraArgs: []string{"-no-reboot"},
	})
	if !strings.Contains(s, "-loadvm boot") {
		t.Fatalf("initial snapshot: %s", s)
	}
	if !strings.HasSuffix(s, "-no-reboot") {
		t.Fatalf("extra args go last: %s", s)
	}
}

func TestStartEarlyExit(t *testing.T) {
	l := &Launcher{Binary: "/bin/sh", Args: []string{"-c", "echo boom >&2; exit 3"}}
	err := l.Start(context.Background())
	if !models.IsConnection(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("stderr tail missing from error: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	l := &Launcher{Binary: "/bin/sh", Args: []string{"-c", "sleep 30"}}
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.Running() {
		t.Fatal("child should be running")
	}
	if l.Pid() == 0 {
		t.Fatal("pid should be set")
	}
	if err := l.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
	if l.Running() {
		t.Fatal("child should be gone")
	}
}
