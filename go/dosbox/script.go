package dosbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doscope/doscope/go/models"
)

// Script builds a DOSBox-X debugger command file, one command per line.
// The debugger runs it on startup when the config names it in
// debugger.debugrunfile.
type Script struct {
	commands []string
}

func NewScript() *Script { return &Script{} }

func (s *Script) add(line string) *Script {
	s.commands = append(s.commands, line)
	return s
}

func (s *Script) Break(addr models.Address) *Script {
	return s.add(fmt.Sprintf("BP %04X:%04X", addr.Segment, addr.Offset))
}

// BreakInt arms an interrupt breakpoint; ah < 0 means any sub-function.
func (s *Script) BreakInt(num uint8, ah int) *Script {
	if ah >= 0 {
		return s.add(fmt.Sprintf("BPINT %02X %02X", num, ah))
	}
	return s.add(fmt.Sprintf("BPINT %02X", num))
}

func (s *Script) BreakMem(addr models.Address) *Script {
	return s.add(fmt.Sprintf("BPM %04X:%04X", addr.Segment, addr.Offset))
}

func (s *Script) Continue() *Script {
	return s.add("C")
}

func (s *Script) Step(count int) *Script {
	return s.add(fmt.Sprintf("T %d", count))
}

func (s *Script) ShowRegs() *Script {
	return s.add("SR")
}

// MemDump hex-dumps to the debug log.
func (s *Script) MemDump(addr models.Address, length int) *Script {
	return s.add(fmt.Sprintf("MEMDUMP %04X:%04X %X", addr.Segment, addr.Offset, length))
}

// MemDumpBin dumps raw bytes to a file on the host.
func (s *Script) MemDumpBin(addr models.Address, length int, path string) *Script {
	return s.add(fmt.Sprintf("MEMDUMPBIN %04X:%04X %X %s", addr.Segment, addr.Offset, length, path))
}

func (s *Script) Log(count int) *Script {
	return s.add(fmt.Sprintf("LOG %d", count))
}

func (s *Script) Raw(line string) *Script {
	return s.add(line)
}

func (s *Script) Render() string {
	if len(s.commands) == 0 {
		return ""
	}
	return strings.Join(s.commands, "\n") + "\n"
}

func (s *Script) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s.Render()), 0644)
}
