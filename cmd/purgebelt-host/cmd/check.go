package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"purgebelt-go/pkg/host"
	"purgebelt-go/pkg/purge"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the printer config",
	Long: `Loads the printer config and reports the configured objects and the
derived purge parameters, without executing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := host.LoadFile(configPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		names := make([]string, 0)
		for name := range p.Objects() {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "%s: ok\n", configPath)
		for _, name := range names {
			fmt.Fprintf(out, "  %s\n", name)
		}

		cfg := p.Purge().Config()
		fmt.Fprintf(out, "belt: %s (rotation_distance %.3f)\n", cfg.BeltStepper, p.Belt().RotationDistance())
		fmt.Fprintf(out, "park: X%.1f Y%.1f Z%.1f, belt Z%.1f\n", cfg.ParkX, cfg.ParkY, cfg.ParkZ, cfg.BeltZ)

		params, err := purge.Derive(purge.Request{}, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, params.Summary())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
