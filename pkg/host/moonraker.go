// Status server integration.
// This bridges the printer with the Moonraker-compatible API server.
package host

import (
	"context"

	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/moonraker"
)

// MoonrakerIntegration serves the printer's objects and g-code endpoint.
type MoonrakerIntegration struct {
	printer *Printer
	adapter *moonraker.PrinterAdapter
	server  *moonraker.Server
}

// NewMoonrakerIntegration creates a status server for p listening on addr.
// Command responses are pushed to websocket clients.
func NewMoonrakerIntegration(p *Printer, addr string) *MoonrakerIntegration {
	mi := &MoonrakerIntegration{
		printer: p,
		adapter: moonraker.NewPrinterAdapter(),
	}
	for name, provider := range p.Objects() {
		mi.adapter.RegisterStatusProvider(name, provider)
	}
	mi.adapter.SetGCodeExecutor(mi.executeGCode)
	mi.adapter.SetGCodeHelp(p.dispatcher.Help)
	mi.adapter.SetHostStateGetter(p.State)

	mi.server = moonraker.New(moonraker.Config{
		Addr:    addr,
		Printer: mi.adapter,
		History: p.history,
		Metrics: p.metrics.Handler(),
	})
	p.OnRespond(mi.server.NotifyGCodeResponse)
	return mi
}

func (mi *MoonrakerIntegration) executeGCode(ctx context.Context, script string) error {
	if state := mi.printer.State(); state != "ready" {
		return hosterrors.RuntimeError("printer is " + state)
	}
	return mi.printer.ExecuteScript(ctx, script)
}

// Server returns the status server.
func (mi *MoonrakerIntegration) Server() *moonraker.Server {
	return mi.server
}

// Start serves until Shutdown is called.
func (mi *MoonrakerIntegration) Start() error {
	return mi.server.Start()
}

// Shutdown stops the server.
func (mi *MoonrakerIntegration) Shutdown(ctx context.Context) error {
	return mi.server.Shutdown(ctx)
}
