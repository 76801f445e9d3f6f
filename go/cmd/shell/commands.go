package shell

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/lunixbochs/argjoy"
	shellwords "github.com/lunixbochs/go-shellwords"

	capturepkg "github.com/doscope/doscope/go/capture"
	"github.com/doscope/doscope/go/models"
)

// Context is the shared state threaded through every shell command.
type Context struct {
	io.Writer
	B  models.Backend
	WS *models.Workspace

	prev *models.Registers
	quit bool
}

func (c *Context) Printf(format string, a ...interface{}) (int, error) {
	return fmt.Fprintf(c, format, a...)
}

type Command struct {
	Name string
	Desc string
	Run  interface{}
}

var Commands = make(map[string]*Command)
var order []string

func cmd(c *Command) *Command {
	fn := reflect.ValueOf(c.Run)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		panic(fmt.Sprintf("Command.Run must be a func: got (%T) %#v\n", c.Run, c.Run))
	}
	Commands[c.Name] = c
	order = append(order, c.Name)
	return c
}

var aj = argjoy.NewArgjoy()

// addrCodec turns an address token into a models.Address.
func addrCodec(arg interface{}, vals []interface{}) error {
	if s, ok := vals[0].(string); ok {
		if v, ok := arg.(*models.Address); ok {
			addr, err := models.ParseAddress(s)
			if err != nil {
				return err
			}
			*v = addr
			return nil
		}
	}
	return argjoy.NoMatch
}

func init() { aj.Register(addrCodec) }

func Run(c *Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		c.Printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name, args := args[0], args[1:]
	if cmd, ok := Commands[name]; ok {
		out, err := aj.Call(cmd.Run, c, args)
		if err != nil {
			c.Printf("error: %v\n", err)
		}
		if len(out) > 0 {
			if err, ok := out[0].(error); ok && err != nil {
				c.Printf("error: %v\n", err)
			}
		}
	} else {
		c.Printf("command not found.\n")
	}
	return nil
}

var StatusCmd = cmd(&Command{
	Name: "status",
	Desc: "Show backend kind and lifecycle state.",
	Run: func(c *Context) error {
		st := c.B.Status()
		if st.Detail != "" {
			c.Printf("%s: %s (%s)\n", st.Backend, st.Status, st.Detail)
		} else {
			c.Printf("%s: %s\n", st.Backend, st.Status)
		}
		return nil
	},
})

var RegsCmd = cmd(&Command{
	Name: "regs",
	Desc: "Read registers, highlighting changes since the last read.",
	Run: func(c *Context) error {
		regs, err := c.B.RegRead(context.Background())
		if err != nil {
			return err
		}
		c.Printf("%s\n", models.DiffRegs(c.prev, regs, true))
		c.prev = regs
		return nil
	},
})

var MemCmd = cmd(&Command{
	Name: "mem",
	Desc: "Hexdump memory: mem ADDR SIZE.",
	Run: func(c *Context, addr models.Address, size uint64) error {
		data, err := c.B.MemRead(context.Background(), addr, int(size))
		if err != nil {
			return err
		}
		for _, line := range models.HexDump(addr.Linear(), data) {
			c.Printf("  %s\n", line)
		}
		return nil
	},
})

var WriteCmd = cmd(&Command{
	Name: "w",
	Desc: "Write hex bytes: w ADDR deadbeef.",
	Run: func(c *Context, addr models.Address, hexbytes string) error {
		data, err := hex.DecodeString(hexbytes)
		if err != nil {
			return err
		}
		if err := c.B.MemWrite(context.Background(), addr, data); err != nil {
			return err
		}
		c.Printf("wrote %d bytes at %s\n", len(data), addr)
		return nil
	},
})

var KeysCmd = cmd(&Command{
	Name: "keys",
	Desc: "Send keys, comma separated: keys esc,enter.",
	Run: func(c *Context, list string) error {
		return c.B.SendKeys(context.Background(), strings.Split(list, ","), 0)
	},
})

var ScreenshotCmd = cmd(&Command{
	Name: "screenshot",
	Desc: "Grab the display to screenshot.<format>.",
	Run: func(c *Context) error {
		shot, err := c.B.Screenshot(context.Background())
		if err != nil {
			return err
		}
		name := "screenshot." + shot.Format
		if err := os.WriteFile(name, shot.Data, 0644); err != nil {
			return err
		}
		c.Printf("%s: %d bytes\n", name, len(shot.Data))
		return nil
	},
})

var BreakCmd = cmd(&Command{
	Name: "bp",
	Desc: `Set a breakpoint: bp ADDR, bp "int 21 ah=4c", bp "mem A000:0000".`,
	Run: func(c *Context, spec string) error {
		bp, err := models.ParseBreak(spec)
		if err != nil {
			return err
		}
		added, err := c.B.BreakAdd(context.Background(), bp)
		if err != nil {
			return err
		}
		c.Printf("breakpoint %d at %s\n", added.ID, added)
		return nil
	},
})

var BreakListCmd = cmd(&Command{
	Name: "bl",
	Desc: "List breakpoints.",
	Run: func(c *Context) error {
		list, err := c.B.BreakList(context.Background())
		if err != nil {
			return err
		}
		for _, bp := range list {
			c.Printf("  %3d  %s\n", bp.ID, bp)
		}
		return nil
	},
})

var BreakDelCmd = cmd(&Command{
	Name: "bd",
	Desc: "Delete a breakpoint by id.",
	Run: func(c *Context, id uint64) error {
		return c.B.BreakDel(context.Background(), int(id))
	},
})

var PauseCmd = cmd(&Command{
	Name: "pause",
	Desc: "Pause the guest.",
	Run: func(c *Context) error {
		return c.B.Pause(context.Background())
	},
})

var ContCmd = cmd(&Command{
	Name: "cont",
	Desc: "Resume the guest.",
	Run: func(c *Context) error {
		return c.B.Resume(context.Background())
	},
})

var StepCmd = cmd(&Command{
	Name: "step",
	Desc: "Step one instruction and show the register diff.",
	Run: func(c *Context) error {
		regs, err := c.B.Step(context.Background())
		if err != nil {
			return err
		}
		c.Printf("%s\n", models.DiffRegs(c.prev, regs, true))
		c.prev = regs
		return nil
	},
})

var SnapCmd = cmd(&Command{
	Name: "snap",
	Desc: "Save a named snapshot.",
	Run: func(c *Context, name string) error {
		return c.B.SnapshotSave(context.Background(), name)
	},
})

var SnapsCmd = cmd(&Command{
	Name: "snaps",
	Desc: "List snapshots.",
	Run: func(c *Context) error {
		snaps, err := c.B.SnapshotList(context.Background())
		if err != nil {
			return err
		}
		for _, s := range snaps {
			c.Printf("  %-4s %-20s %8s  %s\n", s.ID, s.Tag, s.VMSize, s.Date)
		}
		return nil
	},
})

var LoadCmd = cmd(&Command{
	Name: "load",
	Desc: "Load a named snapshot.",
	Run: func(c *Context, name string) error {
		return c.B.SnapshotLoad(context.Background(), name)
	},
})

var StatesCmd = cmd(&Command{
	Name: "states",
	Desc: "List on-disk save states.",
	Run: func(c *Context) error {
		lister, ok := c.B.(models.StateLister)
		if !ok {
			return models.NotSupported(c.B.Kind(), "save states")
		}
		states, err := lister.States(context.Background())
		if err != nil {
			return err
		}
		for _, s := range states {
			c.Printf("  %-24s %10d  %s\n", s.Name, s.Size, s.ModTime.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
})

var CaptureCmd = cmd(&Command{
	Name: "capture",
	Desc: "Take a default capture under the given prefix.",
	Run: func(c *Context, prefix string) error {
		runner := &capturepkg.Runner{Backend: c.B, Workspace: c.WS}
		res, err := runner.Run(context.Background(), &models.CaptureRequest{Prefix: prefix}, c.WS.CapturesDir())
		if err != nil {
			return err
		}
		for _, art := range res.Artifacts {
			c.Printf("  %s  %8d  %s\n", art.SHA256[:12], art.Size, art.Name)
		}
		return nil
	},
})

var HelpCmd = cmd(&Command{
	Name: "help",
	Desc: "Show this help.",
	Run: func(c *Context) error {
		pad := 0
		for _, name := range order {
			if len(name) > pad {
				pad = len(name)
			}
		}
		for _, name := range order {
			c.Printf("  %-*s  %s\n", pad, name, Commands[name].Desc)
		}
		return nil
	},
})

var QuitCmd = cmd(&Command{
	Name: "quit",
	Desc: "Leave the shell.",
	Run: func(c *Context) error {
		c.quit = true
		return nil
	},
})
