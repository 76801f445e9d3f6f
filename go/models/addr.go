package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// mode 13h framebuffer window
const FramebufferSize = 64000

var FramebufferAddr = FromLinear(0xA0000)

var (
	segOffRe = regexp.MustCompile(`^([0-9A-Fa-f]{1,4}):([0-9A-Fa-f]{1,4})$`)
	hexRe    = regexp.MustCompile(`^0[xX]([0-9A-Fa-f]+)$`)
	decRe    = regexp.MustCompile(`^[0-9]+$`)
)

// Address is a real-mode segment:offset pair. Linear() collapses it to the
// flat 20-bit view the debug stub speaks.
type Address struct {
	Segment uint16
	Offset  uint16
}

func (a Address) Linear() uint32 {
	return uint32(a.Segment)<<4 + uint32(a.Offset)
}

func (a Address) String() string {
	return fmt.Sprintf("%04X:%04X", a.Segment, a.Offset)
}

// FromLinear produces the canonical pair for a linear address: the offset
// keeps only the low nibble so the pair round-trips below 1MB.
func FromLinear(lin uint32) Address {
	return Address{
		Segment: uint16((lin >> 4) & 0xffff),
		Offset:  uint16(lin & 0xf),
	}
}

// ParseAddress accepts a seg:off pair ("A000:0000"), a hex linear literal
// ("0xA0000"), or a decimal linear literal ("655360"). Nothing else.
func ParseAddress(s string) (Address, error) {
	if m := segOffRe.FindStringSubmatch(s); m != nil {
		seg, _ := strconv.ParseUint(m[1], 16, 16)
		off, _ := strconv.ParseUint(m[2], 16, 16)
		return Address{Segment: uint16(seg), Offset: uint16(off)}, nil
	}
	if m := hexRe.FindStringSubmatch(s); m != nil {
		lin, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			return Address{}, Argumentf("address out of range: %s", s)
		}
		return FromLinear(uint32(lin)), nil
	}
	if decRe.MatchString(s) {
		lin, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return Address{}, Argumentf("address out of range: %s", s)
		}
		return FromLinear(uint32(lin)), nil
	}
	return Address{}, Argumentf("bad address %q: want SEG:OFF, 0xHEX, or decimal", s)
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(p []byte) error {
	var s string
	if err := json.Unmarshal(p, &s); err != nil {
		// tolerate a bare linear number
		var lin uint32
		if err2 := json.Unmarshal(p, &lin); err2 == nil {
			*a = FromLinear(lin)
			return nil
		}
		return err
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
