package models

import (
	"fmt"
	"strings"
)

// HexDump renders mem 16 bytes to a line with a linear address column and
// an ascii tail.
func HexDump(base uint32, mem []byte) []string {
	var out []string
	for i := 0; i < len(mem); i += 16 {
		line := mem[i:]
		if len(line) > 16 {
			line = line[:16]
		}
		var hexs, tail []string
		for j := 0; j < 16; j++ {
			if j < len(line) {
				hexs = append(hexs, fmt.Sprintf("%02x", line[j]))
				c := line[j]
				if c < 0x20 || c > 0x7e {
					c = '.'
				}
				tail = append(tail, string(c))
			} else {
				hexs = append(hexs, "  ")
				tail = append(tail, " ")
			}
			if j == 7 {
				hexs = append(hexs, "")
			}
		}
		out = append(out, fmt.Sprintf("%08x: %s [%s]",
			base+uint32(i), strings.Join(hexs, " "), strings.Join(tail, "")))
	}
	return out
}
