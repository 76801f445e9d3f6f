// Package dosbox is the session-based backend: every operation spawns a
// dedicated DOSBox-X with a synthesized config and debugger script, then
// harvests the files the run left behind.
package dosbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Conf is a DOSBox-X configuration: ordered key-value sections plus the
// [autoexec] line block, which always renders last.
type Conf struct {
	order    []string
	sections map[string]*section
	autoexec []string
}

type section struct {
	order  []string
	values map[string]string
}

func NewConf() *Conf {
	return &Conf{sections: make(map[string]*section)}
}

// DefaultConf seeds the emulator profile the captures were tuned on:
// SVGA machine, max cycles, a Sound Blaster 16 on the canonical ports,
// and logging to the given file.
func DefaultConf(logPath string) *Conf {
	c := NewConf()
	c.Set("sdl", "output", "opengl")
	c.Set("sdl", "windowresolution", "640x400")
	c.Set("sdl", "autolock", "false")
	c.Set("dosbox", "memsize", "16")
	c.Set("dosbox", "machine", "svga_s3")
	c.Set("cpu", "cputype", "auto")
	c.Set("cpu", "cycles", "max")
	c.Set("sblaster", "sbtype", "sb16")
	c.Set("sblaster", "sbbase", "220")
	c.Set("sblaster", "irq", "5")
	c.Set("sblaster", "dma", "1")
	c.Set("sblaster", "hdma", "5")
	c.Set("log", "logfile", logPath)
	return c
}

func (c *Conf) Set(sec, key, value string) {
	sec = strings.ToLower(sec)
	s, ok := c.sections[sec]
	if !ok {
		s = &section{values: make(map[string]string)}
		c.sections[sec] = s
		c.order = append(c.order, sec)
	}
	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = value
}

// Autoexec replaces the autoexec block.
func (c *Conf) Autoexec(lines ...string) {
	c.autoexec = append([]string{}, lines...)
}

func (c *Conf) AppendAutoexec(lines ...string) {
	c.autoexec = append(c.autoexec, lines...)
}

func (c *Conf) Render() string {
	var b strings.Builder
	for _, sec := range c.order {
		fmt.Fprintf(&b, "[%s]\n", sec)
		s := c.sections[sec]
		for _, key := range s.order {
			fmt.Fprintf(&b, "%s=%s\n", key, s.values[key])
		}
		b.WriteString("\n")
	}
	b.WriteString("[autoexec]\n")
	for _, line := range c.autoexec {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Conf) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(c.Render()), 0644)
}
