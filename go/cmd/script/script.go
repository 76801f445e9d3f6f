package script

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/dosbox"
	"github.com/doscope/doscope/go/models"
)

type strslice []string

func (s *strslice) String() string { return fmt.Sprintf("%v", *s) }
func (s *strslice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func Main(args []string) {
	c := cmd.New("doscope script")
	c.NoBackend = true

	var bps, dumps strslice
	var sr *bool
	var logN *int
	var out *string
	c.SetupFlags = func() error {
		fs := c.Flags
		fs.Var(&bps, "bp", "breakpoint address (repeatable)")
		fs.Var(&dumps, "dump", "binary dump as ADDR,LEN,PATH (repeatable)")
		sr = fs.Bool("sr", false, "append a register dump")
		logN = fs.Int("log", 0, "log N instructions")
		out = fs.String("o", "", "output file (default stdout)")
		return nil
	}
	c.Run(args, func(args []string) error {
		s := dosbox.NewScript()
		for _, v := range bps {
			addr, err := models.ParseAddress(v)
			if err != nil {
				return err
			}
			s.Break(addr)
		}
		for _, v := range dumps {
			parts := strings.Split(v, ",")
			if len(parts) != 3 {
				return models.Argumentf("bad dump %q: want ADDR,LEN,PATH", v)
			}
			addr, err := models.ParseAddress(parts[0])
			if err != nil {
				return err
			}
			length, err := strconv.ParseUint(parts[1], 0, 32)
			if err != nil || length == 0 {
				return models.Argumentf("bad dump length %q", parts[1])
			}
			s.MemDumpBin(addr, int(length), parts[2])
		}
		if *sr {
			s.ShowRegs()
		}
		if *logN > 0 {
			s.Log(*logN)
		}

		if *out != "" {
			return s.WriteFile(*out)
		}
		fmt.Print(s.Render())
		return nil
	})
}

func init() { cmd.Register("script", "emit a DOSBox-X debugger script", Main) }
