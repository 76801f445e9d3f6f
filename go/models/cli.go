package models

import (
	"flag"
	"fmt"
)

// PrintFlags renders a flag list in aligned columns: name, default, usage.
func PrintFlags(flags []*flag.Flag) {
	wname, wdef := 0, 0
	for _, f := range flags {
		if len(f.Name) > wname {
			wname = len(f.Name)
		}
		if len(f.DefValue) > wdef {
			wdef = len(f.DefValue)
		}
	}
	for _, f := range flags {
		def := ""
		if f.DefValue != "" && f.DefValue != "[]" && f.DefValue != "false" {
			def = "(" + f.DefValue + ")"
		}
		fmt.Printf("  -%-*s %-*s %s\n", wname, f.Name, wdef+2, def, f.Usage)
	}
}
