// purgebelt-host runs the purge belt host against a printer config.
//
// Usage:
//
//	purgebelt-host run --config printer.cfg [--script purge.gcode] [--moonraker :7125]
//	purgebelt-host check --config printer.cfg
package main

import (
	"os"

	"purgebelt-go/cmd/purgebelt-host/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
