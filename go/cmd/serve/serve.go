package serve

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/doscope/doscope/go/broker"
	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/launch"
	"github.com/doscope/doscope/go/models"
)

func Main(args []string) {
	c := cmd.New("doscope serve")
	c.NoConnect = true

	var listen, origins *string
	c.SetupFlags = func() error {
		listen = c.Flags.String("listen", "localhost:8086", "HTTP listen address")
		origins = c.Flags.String("origins", "*", "comma-separated allowed CORS origins")
		return nil
	}
	c.Run(args, func(args []string) error {
		holder := &broker.Holder{}
		holder.Swap(c.Backend)
		c.Backend = nil // the holder owns it now
		defer holder.Close()

		factory := func(kind string) (models.Backend, error) {
			return c.MakeBackend(kind)
		}
		srv := broker.NewServer(holder, factory, c.Workspace)
		srv.Defaults = models.LaunchConfig{
			MemoryMB:  16,
			GDBPort:   launch.DefaultGDBPort,
			QMPSocket: c.Workspace.QMPSocket(),
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, *listen, strings.Split(*origins, ","))
	})
}

func init() { cmd.Register("serve", "run the control broker (HTTP + WebSocket)", Main) }
