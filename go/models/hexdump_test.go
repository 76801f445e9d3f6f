package models

import (
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	mem := []byte("Hello, DOS!\x00\x01\x02\x03\x04\x05\x06")
	lines := HexDump(0xA0000, mem)
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "000a0000:") {
		t.Fatalf("bad base: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "000a0010:") {
		t.Fatalf("bad second base: %s", lines[1])
	}
	if !strings.Contains(lines[0], "48 65 6c 6c 6f") {
		t.Fatalf("bad hex: %s", lines[0])
	}
	if !strings.Contains(lines[0], "[Hello, DOS!....") {
		t.Fatalf("bad tail: %s", lines[0])
	}
}
