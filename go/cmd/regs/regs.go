package regs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

func Main(args []string) {
	c := cmd.New("doscope regs")

	var asJSON, watch, noColor *bool
	var interval *int
	c.SetupFlags = func() error {
		asJSON = c.Flags.Bool("json", false, "print canonical register JSON")
		watch = c.Flags.Bool("w", false, "watch mode: re-read and diff until interrupted")
		noColor = c.Flags.Bool("nocolor", false, "plain +/- markers instead of color")
		interval = c.Flags.Int("n", 1000, "watch interval in ms")
		return nil
	}
	c.Run(args, func(args []string) error {
		ctx := context.Background()
		read := func() (*models.Registers, error) {
			return c.Backend.RegRead(ctx)
		}

		if !*watch {
			regs, err := read()
			if err != nil {
				return err
			}
			if *asJSON {
				data, err := json.MarshalIndent(regs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(regs.Pretty())
			return nil
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		ticker := time.NewTicker(time.Duration(*interval) * time.Millisecond)
		defer ticker.Stop()

		var prev *models.Registers
		for {
			regs, err := read()
			if err != nil {
				return err
			}
			fmt.Println(models.DiffRegs(prev, regs, !*noColor))
			prev = regs
			select {
			case <-stop:
				return nil
			case <-ticker.C:
			}
		}
	})
}

func init() { cmd.Register("regs", "print or watch the guest register file", Main) }
