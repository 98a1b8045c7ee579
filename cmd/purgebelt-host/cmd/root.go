package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"purgebelt-go/pkg/log"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// Global flags.
var (
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "purgebelt-host",
	Short: "Purge belt host",
	Long: `purgebelt-host loads a printer configuration with a [purgebelt] section and
its belt actuator, executes g-code scripts against it and serves the printer
status over a Moonraker compatible API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configureLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "purgebelt-host %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "printer.cfg", "printer config file (.cfg, .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(versionCmd)
}

func configureLogging() error {
	l := log.Default()
	if logLevel != "" {
		l.SetLevel(log.ParseLevel(logLevel))
	}
	switch logFormat {
	case "":
	case "text":
		l.SetFormat(log.FormatText)
	case "json":
		l.SetFormat(log.FormatJSON)
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}
	if noColor {
		l.SetColorize(false)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
