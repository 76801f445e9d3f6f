package shell

import (
	"io"
	"os"

	"github.com/chzyer/readline"

	cmdpkg "github.com/doscope/doscope/go/cmd"
)

func Main(args []string) {
	c := cmdpkg.New("doscope shell")
	c.Run(args, func(args []string) error {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:      "doscope> ",
			HistoryFile: os.ExpandEnv("$HOME/.doscope_history"),
		})
		if err != nil {
			return err
		}
		defer rl.Close()

		ctx := &Context{Writer: os.Stdout, B: c.Backend, WS: c.Workspace}
		for {
			line, err := rl.Readline()
			if err == readline.ErrInterrupt {
				continue
			} else if err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			if err := Run(ctx, line); err != nil {
				return err
			}
			if ctx.quit {
				return nil
			}
		}
	})
}

func init() { cmdpkg.Register("shell", "interactive monitor shell", Main) }
