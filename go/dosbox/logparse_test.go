package dosbox

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleLog = `
DEBUG: starting
EAX:00000001 EBX:00000002 ECX:00000003 EDX:00000004
ESI:00000005 EDI:00000006 EBP:00000007 ESP:00000008
DS:0070 ES:0070 FS:0000 GS:0000 SS:0070 CS:0070
EIP:00000100
... game runs ...
EAX:0000BEEF EBX:00001111 ECX:00002222 EDX:00003333
ESI:00004444 EDI:00005555 EBP:00006666 ESP:00007777
DS:1234 ES:1234 FS:0000 GS:0000 SS:2345 CS:3456
EIP:00000200 EFLAGS:00000246
`

func TestParseLastRegistersTakesFinalBlock(t *testing.T) {
	regs := ParseLastRegisters(sampleLog)
	if regs["eax"] != 0xBEEF {
		t.Fatalf("eax from last block: %#x", regs["eax"])
	}
	if regs["eip"] != 0x200 {
		t.Fatalf("eip: %#x", regs["eip"])
	}
	if regs["cs"] != 0x3456 || regs["ss"] != 0x2345 {
		t.Fatalf("segments: cs=%#x ss=%#x", regs["cs"], regs["ss"])
	}
	if regs["eflags"] != 0x246 {
		t.Fatalf("eflags: %#x", regs["eflags"])
	}
}

func TestParseLastRegistersEquals(t *testing.T) {
	regs := ParseLastRegisters("EAX=0000CAFE EBX=00000000\nCS=0123\n")
	if regs["eax"] != 0xCAFE || regs["cs"] != 0x123 {
		t.Fatalf("'=' separator not handled: %v", regs)
	}
}

func TestParseLastRegistersEmpty(t *testing.T) {
	if regs := ParseLastRegisters("no registers here"); len(regs) != 0 {
		t.Fatalf("expected empty map, got %v", regs)
	}
	if regs := ParseLastRegisters(""); len(regs) != 0 {
		t.Fatalf("expected empty map, got %v", regs)
	}
}

func TestParseLogRegisters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte(sampleLog), 0644); err != nil {
		t.Fatal(err)
	}
	regs, err := ParseLogRegisters(path)
	if err != nil {
		t.Fatal(err)
	}
	if regs.EAX != 0xBEEF || regs.CS != 0x3456 {
		t.Fatalf("bad parse: %+v", regs)
	}

	// missing file is an empty register file, not an error
	regs, err = ParseLogRegisters(filepath.Join(t.TempDir(), "absent.log"))
	if err != nil {
		t.Fatal(err)
	}
	if regs.EAX != 0 || regs.CS != 0 {
		t.Fatalf("missing log should parse to zero registers: %+v", regs)
	}
}
