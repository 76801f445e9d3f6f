package keys

import (
	"context"
	"time"

	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

func Main(args []string) {
	c := cmd.New("doscope keys")

	var delay *int
	c.SetupFlags = func() error {
		delay = c.Flags.Int("delay", 0, "inter-key delay in ms")
		return nil
	}
	c.Run(args, func(args []string) error {
		if len(args) == 0 {
			return models.Argumentf("want at least one key")
		}
		d := time.Duration(*delay) * time.Millisecond
		return c.Backend.SendKeys(context.Background(), args, d)
	})
}

func init() { cmd.Register("keys", "inject keystrokes into the guest", Main) }
