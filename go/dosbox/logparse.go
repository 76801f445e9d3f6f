package dosbox

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/doscope/doscope/go/models"
)

var (
	regBlockRe = regexp.MustCompile(`EAX[=:][0-9A-Fa-f]{8}`)
	reg32Re    = regexp.MustCompile(`(EAX|EBX|ECX|EDX|ESI|EDI|EBP|ESP|EIP|EFLAGS)[=:]([0-9A-Fa-f]{8})`)
	reg16Re    = regexp.MustCompile(`(CS|DS|ES|SS|FS|GS)[=:]([0-9A-Fa-f]{4})`)
)

// ParseLastRegisters extracts the final register dump block from a
// debugger log. The block starts at the last EAX assignment and runs to
// the end of the text. No block means an empty map, not an error.
func ParseLastRegisters(text string) map[string]uint32 {
	regs := make(map[string]uint32)
	starts := regBlockRe.FindAllStringIndex(text, -1)
	if starts == nil {
		return regs
	}
	block := text[starts[len(starts)-1][0]:]

	for _, m := range reg32Re.FindAllStringSubmatch(block, -1) {
		name := strings.ToLower(m[1])
		if _, seen := regs[name]; seen {
			continue
		}
		val, err := strconv.ParseUint(m[2], 16, 32)
		if err == nil {
			regs[name] = uint32(val)
		}
	}
	for _, m := range reg16Re.FindAllStringSubmatch(block, -1) {
		name := strings.ToLower(m[1])
		if _, seen := regs[name]; seen {
			continue
		}
		val, err := strconv.ParseUint(m[2], 16, 16)
		if err == nil {
			regs[name] = uint32(val)
		}
	}
	return regs
}

// ParseLogRegisters reads the log file and returns the partial register
// file from its last dump block. A missing file yields an empty file.
func ParseLogRegisters(path string) (*models.Registers, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.Registers{}, nil
		}
		return nil, err
	}
	return models.RegistersFromMap(ParseLastRegisters(string(text))), nil
}
