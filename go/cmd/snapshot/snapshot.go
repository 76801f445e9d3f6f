package snapshot

import (
	"context"
	"fmt"

	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

func Main(args []string) {
	c := cmd.New("doscope snapshot")
	c.Run(args, func(args []string) error {
		ctx := context.Background()
		verb := "list"
		if len(args) > 0 {
			verb = args[0]
		}
		switch verb {
		case "list":
			snaps, err := c.Backend.SnapshotList(ctx)
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Printf("%-4s %-20s %8s  %s\n", s.ID, s.Tag, s.VMSize, s.Date)
			}
			return nil
		case "save", "load":
			if len(args) < 2 {
				return models.Argumentf("want: snapshot %s NAME", verb)
			}
			if verb == "save" {
				return c.Backend.SnapshotSave(ctx, args[1])
			}
			return c.Backend.SnapshotLoad(ctx, args[1])
		}
		return models.Argumentf("unknown verb %q: want save, load, or list", verb)
	})
}

func init() { cmd.Register("snapshot", "save, load, or list VM snapshots", Main) }
