package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"
)

// Registers is the 32-bit debug-stub view of the guest CPU. Field order is
// the stub's register block order and the canonical JSON order.
type Registers struct {
	EAX    uint32 `json:"eax"`
	ECX    uint32 `json:"ecx"`
	EDX    uint32 `json:"edx"`
	EBX    uint32 `json:"ebx"`
	ESP    uint32 `json:"esp"`
	EBP    uint32 `json:"ebp"`
	ESI    uint32 `json:"esi"`
	EDI    uint32 `json:"edi"`
	EIP    uint32 `json:"eip"`
	EFLAGS uint32 `json:"eflags"`
	CS     uint16 `json:"cs"`
	SS     uint16 `json:"ss"`
	DS     uint16 `json:"ds"`
	ES     uint16 `json:"es"`
	FS     uint16 `json:"fs"`
	GS     uint16 `json:"gs"`
}

// RegNames is the canonical register order.
var RegNames = []string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"eip", "eflags", "cs", "ss", "ds", "es", "fs", "gs",
}

func (r *Registers) Get(name string) (uint32, bool) {
	switch strings.ToLower(name) {
	case "eax":
		return r.EAX, true
	case "ecx":
		return r.ECX, true
	case "edx":
		return r.EDX, true
	case "ebx":
		return r.EBX, true
	case "esp":
		return r.ESP, true
	case "ebp":
		return r.EBP, true
	case "esi":
		return r.ESI, true
	case "edi":
		return r.EDI, true
	case "eip", "ip":
		return r.EIP, true
	case "eflags", "flags", "efl":
		return r.EFLAGS, true
	case "cs":
		return uint32(r.CS), true
	case "ss":
		return uint32(r.SS), true
	case "ds":
		return uint32(r.DS), true
	case "es":
		return uint32(r.ES), true
	case "fs":
		return uint32(r.FS), true
	case "gs":
		return uint32(r.GS), true
	}
	return 0, false
}

func (r *Registers) Set(name string, val uint32) bool {
	switch strings.ToLower(name) {
	case "eax":
		r.EAX = val
	case "ecx":
		r.ECX = val
	case "edx":
		r.EDX = val
	case "ebx":
		r.EBX = val
	case "esp":
		r.ESP = val
	case "ebp":
		r.EBP = val
	case "esi":
		r.ESI = val
	case "edi":
		r.EDI = val
	case "eip", "ip":
		r.EIP = val
	case "eflags", "flags", "efl":
		r.EFLAGS = val
	case "cs":
		r.CS = uint16(val)
	case "ss":
		r.SS = uint16(val)
	case "ds":
		r.DS = uint16(val)
	case "es":
		r.ES = uint16(val)
	case "fs":
		r.FS = uint16(val)
	case "gs":
		r.GS = uint16(val)
	default:
		return false
	}
	return true
}

func (r *Registers) Map() map[string]uint32 {
	out := make(map[string]uint32, len(RegNames))
	for _, name := range RegNames {
		val, _ := r.Get(name)
		out[name] = val
	}
	return out
}

func RegistersFromMap(m map[string]uint32) *Registers {
	r := &Registers{}
	for name, val := range m {
		r.Set(name, val)
	}
	return r
}

// hexWidth is 4 for segment registers, 8 for everything else.
func hexWidth(name string) int {
	switch name {
	case "cs", "ss", "ds", "es", "fs", "gs":
		return 4
	}
	return 8
}

// Pretty renders the file the way the emulator's own monitor would.
func (r *Registers) Pretty() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("EAX=%08X ECX=%08X EDX=%08X EBX=%08X", r.EAX, r.ECX, r.EDX, r.EBX))
	lines = append(lines, fmt.Sprintf("ESP=%08X EBP=%08X ESI=%08X EDI=%08X", r.ESP, r.EBP, r.ESI, r.EDI))
	lines = append(lines, fmt.Sprintf("EIP=%08X EFL=%08X", r.EIP, r.EFLAGS))
	lines = append(lines, fmt.Sprintf("CS=%04X SS=%04X DS=%04X ES=%04X FS=%04X GS=%04X", r.CS, r.SS, r.DS, r.ES, r.FS, r.GS))
	return strings.Join(lines, "\n")
}

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = strings.Repeat(" ", pad-length) + s
	}
	return s
}

type changeMask struct {
	Old, New string
	Changed  bool
}

// RegChange is one register's movement between two reads.
type RegChange struct {
	Name     string
	Old, New uint32
	Hex      int
}

func (c *RegChange) Changed() bool { return c.Old != c.New }

// masks splits the hex rendering into runs of matching and differing
// digits so only the digits that moved light up.
func (c *RegChange) masks() []changeMask {
	hexFmt := fmt.Sprintf("%%0%dx", c.Hex)
	s1, s2 := fmt.Sprintf(hexFmt, c.New), fmt.Sprintf(hexFmt, c.Old)
	pos := 0
	matching := true
	out := make([]changeMask, 0, len(s1))
	for i := range s1 {
		if (s1[i] == s2[i]) != matching {
			if i > pos {
				out = append(out, changeMask{New: s1[pos:i], Old: s2[pos:i], Changed: !matching})
				pos = i
			}
			matching = !matching
		}
	}
	if pos < len(s1) {
		out = append(out, changeMask{New: s1[pos:], Old: s2[pos:], Changed: !matching})
	}
	return out
}

func (c *RegChange) String(color bool) string {
	hexFmt := fmt.Sprintf("%%0%dx", c.Hex)
	if !c.Changed() || !color {
		marker := " "
		if c.Changed() {
			marker = "+"
		}
		return fmt.Sprintf("%s %6s 0x"+hexFmt, marker, c.Name, c.New)
	}
	var out []string
	out = append(out, fmt.Sprintf("  %s 0x", colorPad(c.Name, chNew, 6)))
	for _, m := range c.masks() {
		col := chSame
		if m.Changed {
			col = chNew
		}
		out = append(out, col+m.New)
	}
	out = append(out, ansi.Reset)
	return strings.Join(out, "")
}

// DiffRegs lines up two register files, four to a row, highlighting what
// moved. prev may be nil for a first read.
func DiffRegs(prev, cur *Registers, color bool) string {
	if prev == nil {
		prev = &Registers{}
	}
	var out []string
	for i, name := range RegNames {
		oldVal, _ := prev.Get(name)
		newVal, _ := cur.Get(name)
		c := &RegChange{Name: name, Old: oldVal, New: newVal, Hex: hexWidth(name)}
		out = append(out, c.String(color))
		if (i+1)%4 == 0 {
			out = append(out, "\n")
		} else {
			out = append(out, " ")
		}
	}
	return strings.Join(out, "")
}
