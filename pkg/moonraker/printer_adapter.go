package moonraker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// PrinterAdapter builds a PrinterInterface out of per-object status
// providers and a script executor.
type PrinterAdapter struct {
	mu sync.RWMutex

	statusProviders map[string]StatusProvider
	executor        func(ctx context.Context, script string) error
	help            func() map[string]string
	stateGetter     func() string
}

// StatusProvider returns the full status of one object.
type StatusProvider func() map[string]any

// NewPrinterAdapter creates an adapter with no objects.
func NewPrinterAdapter() *PrinterAdapter {
	return &PrinterAdapter{
		statusProviders: make(map[string]StatusProvider),
	}
}

// RegisterStatusProvider registers the provider for an object.
func (pa *PrinterAdapter) RegisterStatusProvider(name string, provider StatusProvider) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.statusProviders[name] = provider
}

// SetGCodeExecutor sets the script executor.
func (pa *PrinterAdapter) SetGCodeExecutor(executor func(ctx context.Context, script string) error) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.executor = executor
}

// SetGCodeHelp sets the command help source.
func (pa *PrinterAdapter) SetGCodeHelp(help func() map[string]string) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.help = help
}

// SetHostStateGetter sets the host state source.
func (pa *PrinterAdapter) SetHostStateGetter(getter func() string) {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	pa.stateGetter = getter
}

// GetObjectsList implements PrinterInterface.
func (pa *PrinterAdapter) GetObjectsList() []string {
	pa.mu.RLock()
	defer pa.mu.RUnlock()
	objects := make([]string, 0, len(pa.statusProviders))
	for name := range pa.statusProviders {
		objects = append(objects, name)
	}
	sort.Strings(objects)
	return objects
}

// GetObjectStatus implements PrinterInterface.
func (pa *PrinterAdapter) GetObjectStatus(name string, attrs []string) map[string]any {
	pa.mu.RLock()
	provider, ok := pa.statusProviders[name]
	pa.mu.RUnlock()
	if !ok {
		return nil
	}
	return FilterStatus(provider(), attrs)
}

// ExecuteGCode implements PrinterInterface.
func (pa *PrinterAdapter) ExecuteGCode(ctx context.Context, script string) error {
	pa.mu.RLock()
	executor := pa.executor
	pa.mu.RUnlock()
	if executor == nil {
		return fmt.Errorf("g-code execution is not available")
	}
	return executor(ctx, script)
}

// GCodeHelp implements PrinterInterface.
func (pa *PrinterAdapter) GCodeHelp() map[string]string {
	pa.mu.RLock()
	help := pa.help
	pa.mu.RUnlock()
	if help == nil {
		return map[string]string{}
	}
	return help()
}

// GetHostState implements PrinterInterface.
func (pa *PrinterAdapter) GetHostState() string {
	pa.mu.RLock()
	getter := pa.stateGetter
	pa.mu.RUnlock()
	if getter != nil {
		return getter()
	}
	return "ready"
}

// FilterStatus restricts status to attrs. Empty attrs keeps everything.
func FilterStatus(status map[string]any, attrs []string) map[string]any {
	if len(attrs) == 0 || status == nil {
		return status
	}
	filtered := make(map[string]any)
	for _, attr := range attrs {
		if val, ok := status[attr]; ok {
			filtered[attr] = val
		}
	}
	return filtered
}

var _ PrinterInterface = (*PrinterAdapter)(nil)
