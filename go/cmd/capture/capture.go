package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/doscope/doscope/go/capture"
	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

type strslice []string

func (s *strslice) String() string  { return fmt.Sprintf("%v", *s) }
func (s *strslice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseRange reads "name,ADDR,LEN" with ADDR in the usual grammar.
func parseRange(v string) (models.MemRange, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return models.MemRange{}, models.Argumentf("bad range %q: want name,addr,len", v)
	}
	addr, err := models.ParseAddress(parts[1])
	if err != nil {
		return models.MemRange{}, err
	}
	size, err := strconv.ParseUint(parts[2], 0, 32)
	if err != nil || size == 0 {
		return models.MemRange{}, models.Argumentf("bad range length %q", parts[2])
	}
	return models.MemRange{Name: parts[0], Addr: addr, Size: int(size)}, nil
}

func Main(args []string) {
	c := cmd.New("doscope capture")

	var prefix, snapshot, keyList, bp *string
	var delay, wait, stopTimeout *int
	var png, golden, noFB, noShot, noRegs *bool
	var ranges strslice
	c.SetupFlags = func() error {
		fs := c.Flags
		prefix = fs.String("prefix", "capture", "artifact filename prefix")
		snapshot = fs.String("snapshot", "", "snapshot to load first")
		keyList = fs.String("keys", "", "comma-separated keys to send")
		delay = fs.Int("delay", 0, "inter-key delay in ms")
		wait = fs.Int("wait", 0, "settle time after keys in ms")
		bp = fs.String("bp", "", "run to this breakpoint before sampling")
		stopTimeout = fs.Int("stop-timeout", 0, "breakpoint stop timeout in ms")
		png = fs.Bool("png", false, "convert the screenshot to png")
		golden = fs.Bool("golden", false, "write into the golden dir instead of captures")
		noFB = fs.Bool("no-framebuffer", false, "skip the framebuffer dump")
		noShot = fs.Bool("no-screenshot", false, "skip the screenshot")
		noRegs = fs.Bool("no-regs", false, "skip the register dump")
		fs.Var(&ranges, "range", "extra dump as name,addr,len (repeatable)")
		return nil
	}
	c.Run(args, func(args []string) error {
		req := &models.CaptureRequest{
			Prefix:          *prefix,
			Snapshot:        *snapshot,
			KeyDelayMS:      *delay,
			WaitMS:          *wait,
			StopTimeoutMS:   *stopTimeout,
			PNG:             *png,
			SkipFramebuffer: *noFB,
			SkipScreenshot:  *noShot,
			SkipRegisters:   *noRegs,
		}
		if *keyList != "" {
			req.Keys = strings.Split(*keyList, ",")
		}
		if *bp != "" {
			addr, err := models.ParseAddress(*bp)
			if err != nil {
				return err
			}
			req.Breakpoint = &addr
		}
		for _, v := range ranges {
			rng, err := parseRange(v)
			if err != nil {
				return err
			}
			req.Ranges = append(req.Ranges, rng)
		}

		runner := &capture.Runner{Backend: c.Backend, Workspace: c.Workspace}
		dir := c.Workspace.CapturesDir()
		if *golden {
			dir = c.Workspace.GoldenDir()
		}
		res, err := runner.Run(context.Background(), req, dir)
		if err != nil {
			return err
		}
		for _, art := range res.Artifacts {
			fmt.Printf("%s  %8d  %s\n", art.SHA256[:12], art.Size, art.Path)
		}
		return nil
	})
}

func init() { cmd.Register("capture", "take a checksummed artifact bundle", Main) }
