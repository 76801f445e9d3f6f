package dosbox

import (
	"strings"
	"testing"

	"github.com/doscope/doscope/go/models"
)

func TestConfRender(t *testing.T) {
	c := DefaultConf("/tmp/run.log")
	c.Set("debugger", "debugrunfile", "/tmp/debug.cmd")
	c.Autoexec(`MOUNT C "/games"`, "C:", "GAME.EXE")
	out := c.Render()

	// sections keep insertion order; autoexec renders last
	idx := func(s string) int { return strings.Index(out, s) }
	order := []string{"[sdl]", "[dosbox]", "[cpu]", "[sblaster]", "[log]", "[debugger]", "[autoexec]"}
	last := -1
	for _, sec := range order {
		i := idx(sec)
		if i < 0 {
			t.Fatalf("section %s missing:\n%s", sec, out)
		}
		if i < last {
			t.Fatalf("section %s out of order:\n%s", sec, out)
		}
		last = i
	}
	for _, want := range []string{
		"output=opengl", "windowresolution=640x400", "autolock=false",
		"memsize=16", "machine=svga_s3",
		"cputype=auto", "cycles=max",
		"sbtype=sb16", "sbbase=220", "irq=5", "dma=1", "hdma=5",
		"logfile=/tmp/run.log",
		"debugrunfile=/tmp/debug.cmd",
	} {
		if !strings.Contains(out, want+"\n") {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "[autoexec]\nMOUNT C \"/games\"\nC:\nGAME.EXE\n") {
		t.Fatalf("autoexec block wrong:\n%s", out)
	}
}

func TestConfSetOverwrites(t *testing.T) {
	c := NewConf()
	c.Set("cpu", "cycles", "max")
	c.Set("cpu", "cycles", "3000")
	out := c.Render()
	if strings.Count(out, "cycles=") != 1 || !strings.Contains(out, "cycles=3000") {
		t.Fatalf("overwrite failed:\n%s", out)
	}
}

func TestScriptRender(t *testing.T) {
	addr, _ := models.ParseAddress("A000:0000")
	s := NewScript().
		Break(models.Address{Segment: 0x1234, Offset: 0x100}).
		BreakInt(0x21, 0x4c).
		BreakInt(0x10, -1).
		BreakMem(models.Address{Segment: 0xB800, Offset: 0}).
		Continue().
		Step(5).
		ShowRegs().
		MemDump(addr, 256).
		MemDumpBin(addr, 64000, "/tmp/fb.bin").
		Log(100).
		Raw("DV")
	want := "BP 1234:0100\n" +
		"BPINT 21 4C\n" +
		"BPINT 10\n" +
		"BPM B800:0000\n" +
		"C\n" +
		"T 5\n" +
		"SR\n" +
		"MEMDUMP A000:0000 100\n" +
		"MEMDUMPBIN A000:0000 FA00 /tmp/fb.bin\n" +
		"LOG 100\n" +
		"DV\n"
	if got := s.Render(); got != want {
		t.Fatalf("script mismatch:\ngot:\n%swant:\n%s", got, want)
	}
}

func TestAutotypeLine(t *testing.T) {
	got := AutotypeLine([]string{"right", "right", "enter"}, 5, 0.15)
	want := "AUTOTYPE -w 5.0 -p 0.15 right right enter"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
