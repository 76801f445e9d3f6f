package main

import (
	"github.com/doscope/doscope/go/cmd"

	_ "github.com/doscope/doscope/go/cmd/serve"

	_ "github.com/doscope/doscope/go/cmd/capture"
	_ "github.com/doscope/doscope/go/cmd/golden"
	_ "github.com/doscope/doscope/go/cmd/keys"
	_ "github.com/doscope/doscope/go/cmd/mem"
	_ "github.com/doscope/doscope/go/cmd/regs"
	_ "github.com/doscope/doscope/go/cmd/screenshot"
	_ "github.com/doscope/doscope/go/cmd/script"
	_ "github.com/doscope/doscope/go/cmd/shell"
	_ "github.com/doscope/doscope/go/cmd/snapshot"
	_ "github.com/doscope/doscope/go/cmd/states"
)

func main() { cmd.Main() }
