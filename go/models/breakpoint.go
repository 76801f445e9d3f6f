package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type BreakKind int

const (
	BreakExec BreakKind = iota
	BreakInterrupt
	BreakMemory
)

func (k BreakKind) String() string {
	switch k {
	case BreakExec:
		return "exec"
	case BreakInterrupt:
		return "int"
	case BreakMemory:
		return "mem"
	}
	return "unknown"
}

var (
	breakIntRe = regexp.MustCompile(`^int\s+([0-9A-Fa-f]{1,2})(?:\s+ah=([0-9A-Fa-f]{1,2}))?$`)
	breakMemRe = regexp.MustCompile(`^mem\s+(\S+)$`)
)

// Breakpoint is an armed stop condition. IDs are issued by the backend
// that accepted it. AH is -1 when no function filter applies.
type Breakpoint struct {
	ID      int
	Kind    BreakKind
	Addr    Address
	Int     uint8
	AH      int
	Enabled bool
}

// ParseBreak reads the monitor grammar: an address literal ("CS:IP" pair,
// "0x1234", decimal), "int NN [ah=XX]" with hex numbers, or "mem SEG:OFF".
func ParseBreak(s string) (*Breakpoint, error) {
	s = strings.TrimSpace(s)
	if m := breakIntRe.FindStringSubmatch(s); m != nil {
		num, _ := strconv.ParseUint(m[1], 16, 8)
		bp := &Breakpoint{Kind: BreakInterrupt, Int: uint8(num), AH: -1, Enabled: true}
		if m[2] != "" {
			ah, _ := strconv.ParseUint(m[2], 16, 8)
			bp.AH = int(ah)
		}
		return bp, nil
	}
	if m := breakMemRe.FindStringSubmatch(s); m != nil {
		addr, err := ParseAddress(m[1])
		if err != nil {
			return nil, err
		}
		return &Breakpoint{Kind: BreakMemory, Addr: addr, AH: -1, Enabled: true}, nil
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return nil, err
	}
	return &Breakpoint{Kind: BreakExec, Addr: addr, AH: -1, Enabled: true}, nil
}

func (b *Breakpoint) String() string {
	switch b.Kind {
	case BreakInterrupt:
		if b.AH >= 0 {
			return fmt.Sprintf("int %02X ah=%02X", b.Int, b.AH)
		}
		return fmt.Sprintf("int %02X", b.Int)
	case BreakMemory:
		return "mem " + b.Addr.String()
	}
	return b.Addr.String()
}

type breakpointJSON struct {
	ID      int     `json:"id"`
	Kind    string  `json:"kind"`
	Address Address `json:"address"`
	Int     uint8   `json:"int,omitempty"`
	AH      *int    `json:"ah,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

func (b *Breakpoint) MarshalJSON() ([]byte, error) {
	en := b.Enabled
	out := breakpointJSON{
		ID: b.ID, Kind: b.Kind.String(), Address: b.Addr, Int: b.Int, Enabled: &en,
	}
	if b.AH >= 0 {
		ah := b.AH
		out.AH = &ah
	}
	return json.Marshal(&out)
}

func (b *Breakpoint) UnmarshalJSON(p []byte) error {
	var in breakpointJSON
	if err := json.Unmarshal(p, &in); err != nil {
		return err
	}
	b.ID = in.ID
	b.Addr = in.Address
	b.Int = in.Int
	b.AH = -1
	if in.AH != nil {
		b.AH = *in.AH
	}
	// enabled unless the caller says otherwise
	b.Enabled = true
	if in.Enabled != nil {
		b.Enabled = *in.Enabled
	}
	switch in.Kind {
	case "", "exec":
		b.Kind = BreakExec
	case "int":
		b.Kind = BreakInterrupt
	case "mem":
		b.Kind = BreakMemory
	default:
		return Argumentf("bad breakpoint kind %q", in.Kind)
	}
	return nil
}
