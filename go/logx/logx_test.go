package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Logf(Debug, "qmp", "dropped")
	l.Logf(Info, "qmp", "kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug leaked at info level: %s", out)
	}
	if !strings.Contains(out, "[qmp] kept") {
		t.Fatalf("info missing: %s", out)
	}

	l.SetLevel(Debug)
	l.Logf(Debug, "qmp", "now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatal("debug still hidden")
	}
}

func TestRepeatCollapse(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	for i := 0; i < 5; i++ {
		l.Logf(Info, "watch", "unchanged")
	}
	l.Logf(Info, "watch", "moved")
	out := buf.String()
	if strings.Count(out, "unchanged") != 1 {
		t.Fatalf("duplicates not collapsed:\n%s", out)
	}
	if !strings.Contains(out, "repeated 4 times") {
		t.Fatalf("repeat note missing:\n%s", out)
	}
	if !strings.Contains(out, "moved") {
		t.Fatalf("follow-up line missing:\n%s", out)
	}
}
