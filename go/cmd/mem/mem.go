package mem

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/snappy"

	"github.com/doscope/doscope/go/cmd"
	"github.com/doscope/doscope/go/models"
)

func Main(args []string) {
	c := cmd.New("doscope mem")

	var outfile, write *string
	var compress *bool
	c.SetupFlags = func() error {
		outfile = c.Flags.String("o", "", "write bytes to <file> instead of hexdumping")
		compress = c.Flags.Bool("z", false, "snappy-compress the output file")
		write = c.Flags.String("w", "", "write these hex bytes at the address instead of reading")
		return nil
	}
	c.Run(args, func(args []string) error {
		if len(args) < 1 {
			return models.Argumentf("want: mem ADDR [SIZE]")
		}
		addr, err := models.ParseAddress(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()

		if *write != "" {
			clean := strings.Map(func(r rune) rune {
				if r == ' ' || r == '\t' {
					return -1
				}
				return r
			}, *write)
			data, err := hex.DecodeString(clean)
			if err != nil {
				return models.Argumentf("bad hex bytes %q: %v", *write, err)
			}
			if err := c.Backend.MemWrite(ctx, addr, data); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes at %s\n", len(data), addr)
			return nil
		}

		size := 256
		if len(args) > 1 {
			n, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil || n == 0 {
				return models.Argumentf("bad size %q", args[1])
			}
			size = int(n)
		}
		data, err := c.Backend.MemRead(ctx, addr, size)
		if err != nil {
			return err
		}

		if *outfile != "" {
			if *compress {
				data = snappy.Encode(nil, data)
			}
			if err := os.WriteFile(*outfile, data, 0644); err != nil {
				return err
			}
			fmt.Printf("%s: %d bytes\n", *outfile, len(data))
			return nil
		}
		for _, line := range models.HexDump(addr.Linear(), data) {
			fmt.Println(line)
		}
		return nil
	})
}

func init() { cmd.Register("mem", "read or write guest memory", Main) }
