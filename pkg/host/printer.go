// Printer object wiring
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package host builds a printer from its configuration: the toolhead and
// extruders, the manual actuators, the belt synchronization controller
// and the purge orchestrator, all sharing one g-code dispatcher.
package host

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"purgebelt-go/pkg/actuator"
	"purgebelt-go/pkg/axisalloc"
	"purgebelt-go/pkg/beltsync"
	"purgebelt-go/pkg/config"
	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/gcode"
	"purgebelt-go/pkg/log"
	"purgebelt-go/pkg/metrics"
	"purgebelt-go/pkg/moonraker"
	"purgebelt-go/pkg/motion"
	"purgebelt-go/pkg/purge"
)

// ActuatorPrefix is the config section prefix of manual actuators.
const ActuatorPrefix = "manual_extruder_stepper "

var reExtruderSection = regexp.MustCompile(`^extruder\d*$`)

// Printer owns every host object. Scripts are executed one at a time;
// status readers of the motion objects wait for the running script.
type Printer struct {
	mu sync.Mutex

	log        *log.Logger
	toolhead   *motion.Toolhead
	registry   *actuator.Registry
	axes       *axisalloc.Allocator
	dispatcher *gcode.Dispatcher
	gmove      *gcodeMove
	belt       *actuator.Actuator
	sync       *beltsync.Controller
	purge      *purge.Orchestrator
	metrics    *metrics.HostMetrics
	history    *moonraker.History

	stateMu sync.RWMutex
	state   string
}

// LoadFile reads a cfg or YAML printer config and builds the printer.
func LoadFile(path string) (*Printer, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New builds a printer from cfg. Unknown options in any read section are
// a config error.
func New(cfg *config.Config) (*Printer, error) {
	p := &Printer{
		log:        log.GetLogger("host"),
		dispatcher: gcode.NewDispatcher(),
		metrics:    metrics.NewHostMetrics(),
		history:    moonraker.NewHistory(0),
		axes:       axisalloc.New(axisalloc.DefaultReserved),
		state:      "startup",
	}
	if err := p.loadToolhead(cfg); err != nil {
		return nil, err
	}
	if err := p.loadExtruders(cfg); err != nil {
		return nil, err
	}
	if err := p.loadActuators(cfg); err != nil {
		return nil, err
	}
	if err := p.loadPurgeBelt(cfg); err != nil {
		return nil, err
	}
	if err := p.registerCommands(); err != nil {
		return nil, err
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		return nil, err
	}
	if unused := cfg.GetUnusedSections(); len(unused) > 0 {
		p.log.WithField("sections", unused).Warn("ignoring unused config sections")
	}

	p.dispatcher.OnCommand(p.metrics.GCodeCommand)
	p.setState("ready")
	p.log.WithFields(log.Fields{
		"extruders": p.toolhead.ExtruderNames(),
		"actuators": len(p.registry.Actuators()),
		"belt":      p.belt.Name(),
	}).Info("printer ready")
	return p, nil
}

func (p *Printer) loadToolhead(cfg *config.Config) error {
	thCfg := motion.DefaultToolheadConfig()
	if sec := cfg.GetSectionOptional("printer"); sec != nil {
		var err error
		if thCfg.MaxVelocity, err = sec.GetFloatWithBounds("max_velocity", config.Above(0), thCfg.MaxVelocity); err != nil {
			return err
		}
		if thCfg.MaxAccel, err = sec.GetFloatWithBounds("max_accel", config.Above(0), thCfg.MaxAccel); err != nil {
			return err
		}
	}
	p.toolhead = motion.NewToolhead(thCfg)
	p.registry = actuator.NewRegistry(p.toolhead)
	p.gmove = newGCodeMove(p.toolhead)
	return nil
}

func (p *Printer) loadExtruders(cfg *config.Config) error {
	for _, name := range cfg.GetSectionNames() {
		if !reExtruderSection.MatchString(name) {
			continue
		}
		sec, err := cfg.GetSection(name)
		if err != nil {
			return err
		}
		rd, err := sec.GetFloat("rotation_distance")
		if err != nil {
			return err
		}
		if rd == 0 {
			return config.NewConfigError(name, "rotation_distance", "must not be zero")
		}
		one := 1
		fullSteps, err := sec.GetIntWithBounds("full_steps_per_rotation", &one, nil, 200)
		if err != nil {
			return err
		}
		microsteps, err := sec.GetIntWithBounds("microsteps", &one, nil, 16)
		if err != nil {
			return err
		}
		// informational, read so they count as used
		if _, err := sec.GetFloatWithBounds("nozzle_diameter", config.Above(0), 0.4); err != nil {
			return err
		}
		if _, err := sec.GetFloatWithBounds("filament_diameter", config.Above(0), 1.75); err != nil {
			return err
		}
		pa, err := sec.GetFloatWithBounds("pressure_advance", config.MinVal(0), 0)
		if err != nil {
			return err
		}
		smooth, err := sec.GetFloatWithBounds("pressure_advance_smooth_time", config.Above(0), 0.040)
		if err != nil {
			return err
		}

		st, err := motion.NewStepper(name, rd, fullSteps*microsteps)
		if err != nil {
			return hosterrors.Wrap(err, hosterrors.ErrConfigValidation, err.Error()).SetSection(name)
		}
		ext := motion.NewExtruder(name, st)
		ext.SetPressureAdvance(pa, smooth)
		if err := p.toolhead.AddExtruder(ext); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) loadActuators(cfg *config.Config) error {
	for _, sec := range cfg.GetPrefixSections(ActuatorPrefix) {
		acfg, err := actuator.LoadConfig(sec)
		if err != nil {
			return err
		}
		a, err := actuator.New(acfg, p.registry)
		if err != nil {
			return err
		}
		a.SetObserver(p.metrics)
		a.SetAxisAllocator(p.axes)
		if err := p.registry.Add(a); err != nil {
			return config.NewConfigError(sec.GetName(), "", err.Error())
		}
		if err := a.RegisterCommands(p.dispatcher); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) loadPurgeBelt(cfg *config.Config) error {
	sec, err := cfg.GetSection("purgebelt")
	if err != nil {
		return err
	}
	pcfg, err := purge.LoadConfig(sec)
	if err != nil {
		return err
	}
	belt, ok := p.registry.LookupActuator(pcfg.BeltStepper)
	if !ok {
		return hosterrors.MissingDependencyError("purgebelt", ActuatorPrefix+pcfg.BeltStepper)
	}
	p.belt = belt

	p.sync, err = beltsync.New(beltsync.Config{
		FilamentDiameter: pcfg.FilamentDiameter,
		LayerHeight:      pcfg.LayerHeight,
		ExtrusionWidth:   pcfg.ExtrusionWidth,
	}, belt, p.toolhead)
	if err != nil {
		return err
	}
	p.sync.OnChange(p.metrics.SetBeltSynced)

	p.purge, err = purge.New(pcfg, p.toolhead, belt, p.sync)
	if err != nil {
		return err
	}
	p.purge.SetObserver(purgeObservers{p.metrics, p.history})
	return nil
}

func (p *Printer) registerCommands() error {
	if err := p.sync.RegisterCommands(p.dispatcher); err != nil {
		return err
	}
	if err := p.purge.RegisterCommands(p.dispatcher); err != nil {
		return err
	}
	return p.registerMotionCommands()
}

// purgeObservers fans purge progress out to several observers.
type purgeObservers []purge.Observer

func (obs purgeObservers) Phase(ev purge.PhaseEvent) {
	for _, o := range obs {
		o.Phase(ev)
	}
}

func (obs purgeObservers) CycleDone(id string, params purge.Params, elapsed time.Duration, err error) {
	for _, o := range obs {
		o.CycleDone(id, params, elapsed, err)
	}
}

// ExecuteScript runs a multi-line g-code script. PURGE_WITH_BELT cycles
// started by the script are cancelled with ctx.
func (p *Printer) ExecuteScript(ctx context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purge.SetContext(ctx)
	defer p.purge.SetContext(context.Background())
	return p.dispatcher.RunScript(ctx, script)
}

// Run executes a single line.
func (p *Printer) Run(line string) error {
	return p.ExecuteScript(context.Background(), line)
}

// OnRespond adds a listener for command responses.
func (p *Printer) OnRespond(fn func(msg string)) {
	p.dispatcher.OnRespond(fn)
}

func (p *Printer) setState(state string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.state = state
}

// State returns the host state.
func (p *Printer) State() string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// Shutdown marks the host as shut down. Further scripts are rejected by
// the status server through the host state.
func (p *Printer) Shutdown(reason string) {
	p.setState("shutdown")
	p.log.WithField("reason", reason).Warn("host shut down")
}

// Toolhead returns the toolhead.
func (p *Printer) Toolhead() *motion.Toolhead { return p.toolhead }

// Dispatcher returns the g-code dispatcher.
func (p *Printer) Dispatcher() *gcode.Dispatcher { return p.dispatcher }

// Actuator returns a configured manual actuator.
func (p *Printer) Actuator(name string) (*actuator.Actuator, bool) {
	return p.registry.LookupActuator(name)
}

// Belt returns the purge belt actuator.
func (p *Printer) Belt() *actuator.Actuator { return p.belt }

// BeltSync returns the belt synchronization controller.
func (p *Printer) BeltSync() *beltsync.Controller { return p.sync }

// Purge returns the purge orchestrator.
func (p *Printer) Purge() *purge.Orchestrator { return p.purge }

// Metrics returns the host metrics.
func (p *Printer) Metrics() *metrics.HostMetrics { return p.metrics }

// History returns the purge cycle history.
func (p *Printer) History() *moonraker.History { return p.history }

// Objects returns the status providers by object name.
func (p *Printer) Objects() map[string]moonraker.StatusProvider {
	objects := map[string]moonraker.StatusProvider{
		"webhooks": func() map[string]any {
			return map[string]any{
				"state":         p.State(),
				"state_message": fmt.Sprintf("Printer is %s", p.State()),
			}
		},
		"toolhead":   p.locked(p.toolhead.GetStatus),
		"gcode_move": p.locked(p.gmove.getStatus),
		"purge_belt": p.locked(p.sync.GetStatus),
		// the orchestrator status is readable while a cycle runs
		"purgebelt": p.purge.GetStatus,
	}
	for _, name := range p.toolhead.ExtruderNames() {
		ext, _ := p.toolhead.LookupExtruder(name)
		objects[name] = p.locked(ext.GetStatus)
	}
	for _, a := range p.registry.Actuators() {
		objects[ActuatorPrefix+a.Name()] = p.locked(a.GetStatus)
	}
	return objects
}

func (p *Printer) locked(fn func() map[string]any) moonraker.StatusProvider {
	return func() map[string]any {
		p.mu.Lock()
		defer p.mu.Unlock()
		return fn()
	}
}

// GetStatus returns the status of one object, or nil if it is unknown.
func (p *Printer) GetStatus(name string) map[string]any {
	provider, ok := p.Objects()[name]
	if !ok {
		return nil
	}
	return provider()
}
