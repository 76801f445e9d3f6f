package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/pkg/errors"

	"github.com/doscope/doscope/go/dosbox"
	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
	"github.com/doscope/doscope/go/qemu"
)

type strslice []string

func (s *strslice) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *strslice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// Cmd is the shared scaffold for every subcommand: common flags, the
// workspace, and a backend built from the selector flags.
type Cmd struct {
	Flags *flag.FlagSet

	Workspace *models.Workspace
	Backend   models.Backend

	// SetupFlags registers subcommand flags before parsing.
	SetupFlags func() error
	// NoBackend skips backend construction for commands that only touch
	// the filesystem.
	NoBackend bool
	// NoConnect builds the backend without dialing it.
	NoConnect bool

	backend    *string
	workspace  *string
	qmpPath    *string
	gdbAddr    *string
	dosboxBin  *string
	verbose    *bool
	quiet      *bool
	cpuprofile *string
	memprofile *string
}

func New(name string) *Cmd {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &Cmd{Flags: fs}
	c.backend = fs.String("backend", "qemu", "emulator backend (qemu or dosbox)")
	c.workspace = fs.String("workspace", "", "workspace root (default: per-user data dir)")
	c.qmpPath = fs.String("qmp", "", "QMP unix socket path (default: <workspace>/qmp.sock)")
	c.gdbAddr = fs.String("gdb", "localhost:1234", "gdbserver address")
	c.dosboxBin = fs.String("dosbox", "dosbox-x", "dosbox-x binary")
	c.verbose = fs.Bool("v", false, "verbose output")
	c.quiet = fs.Bool("q", false, "errors only")
	c.cpuprofile = fs.String("cpuprofile", "", "write cpu profile to <file>")
	c.memprofile = fs.String("memprofile", "", "write mem profile to <file>")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [args...]\n\nOptions:\n", name)
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		models.PrintFlags(flags)
	}
	return c
}

// MakeBackend builds the selected backend without connecting it.
func (c *Cmd) MakeBackend(kind string) (models.Backend, error) {
	switch kind {
	case "qemu":
		qmp := *c.qmpPath
		if qmp == "" {
			qmp = c.Workspace.QMPSocket()
		}
		return qemu.New(qmp, *c.gdbAddr), nil
	case "dosbox":
		return dosbox.New(c.Workspace, *c.dosboxBin), nil
	}
	return nil, models.Argumentf("unknown backend %q", kind)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error with its stacktrace when one is attached.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if err, ok := err.(stackTracer); ok {
		var frames [][]string
		for _, f := range err.StackTrace() {
			fullpath := ""
			fileline := fmt.Sprintf("%s:%d", f, f)
			method := fmt.Sprintf("%n", f)

			frame := fmt.Sprintf("%+s", f)
			tmp := strings.SplitN(frame, "\n", 3)
			if len(tmp) == 2 {
				pathsplit := strings.Split(tmp[0], "/")
				method = pathsplit[len(pathsplit)-1]
				fullpath = strings.TrimSpace(tmp[1])
			}
			frames = append(frames, []string{fullpath, fileline, method})
			if method == "main.main" {
				break
			}
		}
		widths := make([]int, 3)
		for _, f := range frames {
			for i, s := range f {
				if len(s) > widths[i] {
					widths[i] = len(s)
				}
			}
		}
		for _, f := range frames {
			for i := 0; i < 2; i++ {
				if widths[i] > 0 {
					pad := strings.Repeat(" ", widths[i]-len(f[i]))
					fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
				}
			}
			fmt.Fprintf(os.Stderr, "%s()\n", f[2])
		}
	}
}

// Run parses flags, builds workspace and backend, runs body, and tears
// down. Exits the process on failure.
func (c *Cmd) Run(argv []string, body func(args []string) error) {
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			panic(err)
		}
	}
	c.Flags.Parse(argv[1:])

	switch {
	case *c.quiet:
		logx.SetLevel(logx.Error)
	case *c.verbose:
		logx.SetLevel(logx.Debug)
	default:
		logx.SetLevel(logx.Info)
	}

	if *c.cpuprofile != "" {
		f, err := os.Create(*c.cpuprofile)
		if err != nil {
			panic(err)
		}
		pprof.StartCPUProfile(f)
	}
	teardown := func() {
		if *c.cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		if *c.memprofile != "" {
			f, err := os.Create(*c.memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not write heap profile: %s\n", err)
			} else {
				pprof.WriteHeapProfile(f)
			}
		}
		if c.Backend != nil {
			c.Backend.Disconnect()
		}
	}
	defer teardown()

	if *c.workspace != "" {
		c.Workspace = &models.Workspace{Root: *c.workspace}
	} else {
		c.Workspace = models.DefaultWorkspace()
	}
	if err := c.Workspace.EnsureDirs(); err != nil {
		PrintError(err)
		teardown()
		os.Exit(1)
	}

	if !c.NoBackend {
		b, err := c.MakeBackend(*c.backend)
		if err != nil {
			PrintError(err)
			teardown()
			os.Exit(1)
		}
		c.Backend = b
		if !c.NoConnect {
			if err := b.Connect(context.Background()); err != nil {
				PrintError(err)
				teardown()
				os.Exit(1)
			}
		}
	}

	if err := body(c.Flags.Args()); err != nil {
		PrintError(err)
		teardown()
		os.Exit(1)
	}
}
