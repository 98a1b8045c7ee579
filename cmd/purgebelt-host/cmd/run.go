package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"purgebelt-go/pkg/host"
	"purgebelt-go/pkg/log"
	"purgebelt-go/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

var (
	scriptPath    string
	moonrakerAddr string
	metricsAddr   string
	exitAfter     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the printer and serve it",
	Long: `Loads the printer config, optionally executes a g-code script, and serves
the Moonraker compatible API until interrupted. With --exit the command
returns once the script has run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := host.LoadFile(configPath)
		if err != nil {
			return err
		}
		p.OnRespond(func(msg string) {
			_, _ = io.WriteString(cmd.OutOrStdout(), msg+"\n")
		})
		return serve(ctx, stop, p)
	},
}

func init() {
	runCmd.Flags().StringVarP(&scriptPath, "script", "s", "", "g-code script to execute, - for stdin")
	runCmd.Flags().StringVar(&moonrakerAddr, "moonraker", ":7125", "API server address, empty to disable")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "standalone metrics server address")
	runCmd.Flags().BoolVar(&exitAfter, "exit", false, "exit after the script has run")

	rootCmd.AddCommand(runCmd)
}

func serve(ctx context.Context, stop context.CancelFunc, p *host.Printer) error {
	logger := log.GetLogger("host")
	g, gctx := errgroup.WithContext(ctx)

	if moonrakerAddr != "" && !exitAfter {
		mi := host.NewMoonrakerIntegration(p, moonrakerAddr)
		g.Go(mi.Start)
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(mi.Shutdown)
		})
	}
	if metricsAddr != "" && !exitAfter {
		ms := metrics.NewServer(p.Metrics(), metricsAddr, func() bool { return p.State() == "ready" })
		g.Go(ms.Start)
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(ms.Shutdown)
		})
	}
	if scriptPath != "" {
		g.Go(func() error {
			script, err := readScript(scriptPath)
			if err != nil {
				return err
			}
			if err := p.ExecuteScript(gctx, script); err != nil {
				return err
			}
			logger.Info("script %s finished", scriptPath)
			if exitAfter {
				stop()
			}
			return nil
		})
	}

	err := g.Wait()
	p.Shutdown("exit")
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func shutdown(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return fn(ctx)
}

func readScript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
