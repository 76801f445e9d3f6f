package models

import "testing"

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in  string
		seg uint16
		off uint16
	}{
		{"A000:0000", 0xA000, 0x0000},
		{"a000:1f", 0xA000, 0x001F},
		{"0:0", 0, 0},
		{"FFFF:FFFF", 0xFFFF, 0xFFFF},
		{"0xA0000", 0xA000, 0x0},
		{"0x10", 0x1, 0x0},
		{"655360", 0xA000, 0x0},
		{"16", 0x1, 0x0},
		{"0", 0, 0},
	}
	for _, c := range cases {
		addr, err := ParseAddress(c.in)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", c.in, err)
		}
		if addr.Segment != c.seg || addr.Offset != c.off {
			t.Fatalf("ParseAddress(%q) = %s, want %04X:%04X", c.in, addr, c.seg, c.off)
		}
	}
}

func TestParseAddressRejects(t *testing.T) {
	bad := []string{"", "xyz", "A000:", ":10", "12345:0", "A000:12345", "0x", "-16", "0xZZ", "10:20:30"}
	for _, s := range bad {
		if _, err := ParseAddress(s); err == nil {
			t.Fatalf("ParseAddress(%q) should fail", s)
		} else if !IsArgument(err) {
			t.Fatalf("ParseAddress(%q): want argument error, got %v", s, err)
		}
	}
}

func TestLinearRoundTrip(t *testing.T) {
	for _, lin := range []uint32{0, 0xF, 0x10, 0xA0000, 0xFFFFF, 0x12345} {
		addr := FromLinear(lin)
		if addr.Linear() != lin {
			t.Fatalf("FromLinear(%#x).Linear() = %#x", lin, addr.Linear())
		}
		if addr.Offset > 0xF {
			t.Fatalf("FromLinear(%#x) offset %#x not canonical", lin, addr.Offset)
		}
	}
}

func TestAddressPairLinear(t *testing.T) {
	addr := Address{Segment: 0x1234, Offset: 0x5678}
	if addr.Linear() != 0x179B8 {
		t.Fatalf("linear = %#x", addr.Linear())
	}
	if addr.String() != "1234:5678" {
		t.Fatalf("string = %s", addr.String())
	}
}

func TestAddressJSON(t *testing.T) {
	p, err := FramebufferAddr.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(p) != `"A000:0000"` {
		t.Fatalf("marshal = %s", p)
	}
	var addr Address
	if err := addr.UnmarshalJSON([]byte(`"1234:0010"`)); err != nil {
		t.Fatal(err)
	}
	if addr.Segment != 0x1234 || addr.Offset != 0x10 {
		t.Fatalf("unmarshal = %s", addr)
	}
	if err := addr.UnmarshalJSON([]byte(`655360`)); err != nil {
		t.Fatal(err)
	}
	if addr.Segment != 0xA000 {
		t.Fatalf("numeric unmarshal = %s", addr)
	}
}
