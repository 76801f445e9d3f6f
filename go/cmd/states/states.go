package states

import (
	"context"
	"fmt"

	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

func Main(args []string) {
	c := cmd.New("doscope states")
	c.Run(args, func(args []string) error {
		lister, ok := c.Backend.(models.StateLister)
		if !ok {
			return models.NotSupported(c.Backend.Kind(), "save states")
		}
		states, err := lister.States(context.Background())
		if err != nil {
			return err
		}
		for _, s := range states {
			fmt.Printf("%-24s %10d  %s\n", s.Name, s.Size, s.ModTime.Format("2006-01-02 15:04:05"))
		}
		return nil
	})
}

func init() { cmd.Register("states", "list on-disk save states", Main) }
