package screenshot

import (
	"context"
	"fmt"
	"os"

	"github.com/doscope/doscope/go/capture"
	"github.com/doscope/doscope/go/cmd"
)

func Main(args []string) {
	c := cmd.New("doscope screenshot")

	var png *bool
	c.SetupFlags = func() error {
		png = c.Flags.Bool("png", false, "convert to png")
		return nil
	}
	c.Run(args, func(args []string) error {
		shot, err := c.Backend.Screenshot(context.Background())
		if err != nil {
			return err
		}
		if *png {
			if shot, err = capture.ToPNG(shot); err != nil {
				return err
			}
		}
		out := "screenshot." + shot.Format
		if len(args) > 0 {
			out = args[0]
		}
		if err := os.WriteFile(out, shot.Data, 0644); err != nil {
			return err
		}
		fmt.Printf("%s: %d bytes\n", out, len(shot.Data))
		return nil
	})
}

func init() { cmd.Register("screenshot", "grab the guest display to a file", Main) }
