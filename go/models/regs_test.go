package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRegistersJSON(t *testing.T) {
	r := &Registers{EAX: 0x1234, EIP: 0x100, CS: 0x1A2B, EFLAGS: 0x246}
	p, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]uint32
	if err := json.Unmarshal(p, &m); err != nil {
		t.Fatal(err)
	}
	if m["eax"] != 0x1234 || m["cs"] != 0x1A2B || m["eflags"] != 0x246 {
		t.Fatalf("bad json map: %v", m)
	}
	if len(m) != len(RegNames) {
		t.Fatalf("want %d keys, got %d", len(RegNames), len(m))
	}
}

func TestRegistersMapRoundTrip(t *testing.T) {
	r := &Registers{EAX: 1, EBX: 2, CS: 0xF000, GS: 0x40}
	back := RegistersFromMap(r.Map())
	if *back != *r {
		t.Fatalf("round trip: %+v != %+v", back, r)
	}
}

func TestRegistersAliases(t *testing.T) {
	r := &Registers{}
	if !r.Set("flags", 0x246) {
		t.Fatal("flags alias rejected")
	}
	if v, _ := r.Get("eflags"); v != 0x246 {
		t.Fatalf("eflags = %#x", v)
	}
	if !r.Set("ip", 0x100) {
		t.Fatal("ip alias rejected")
	}
	if r.EIP != 0x100 {
		t.Fatalf("eip = %#x", r.EIP)
	}
	if r.Set("xyz", 1) {
		t.Fatal("bogus register accepted")
	}
}

func TestRegistersPretty(t *testing.T) {
	r := &Registers{EAX: 0xDEADBEEF, CS: 0x1A2B}
	out := r.Pretty()
	if !strings.Contains(out, "EAX=DEADBEEF") {
		t.Fatalf("missing eax: %s", out)
	}
	if !strings.Contains(out, "CS=1A2B") {
		t.Fatalf("missing cs: %s", out)
	}
}

func TestDiffRegs(t *testing.T) {
	old := &Registers{EAX: 0x1000}
	cur := &Registers{EAX: 0x1004}
	out := DiffRegs(old, cur, false)
	if !strings.Contains(out, "+    eax 0x00001004") {
		t.Fatalf("changed eax not marked:\n%s", out)
	}
	if !strings.Contains(out, "     ebx 0x00000000") {
		t.Fatalf("unchanged ebx marked:\n%s", out)
	}
}
