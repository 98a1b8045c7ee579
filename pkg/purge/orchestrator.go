// Package purge runs purge cycles on the purge belt: the toolhead parks,
// extrudes onto the belt while it is synced to the extruder, then the
// belt carries the purged filament away.
package purge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/gcode"
	"purgebelt-go/pkg/log"
)

// Phase names one step of a cycle.
type Phase string

const (
	PhasePark     Phase = "PARK"
	PhaseApproach Phase = "APPROACH"
	PhaseSync     Phase = "SYNC"
	PhaseExtrude  Phase = "EXTRUDE"
	PhaseUnsync   Phase = "UNSYNC"
	PhaseRetract  Phase = "RETRACT"
	PhaseReturnZ  Phase = "RETURN_Z"
	PhaseDwell    Phase = "DWELL"
	PhaseOutfeed  Phase = "OUTFEED"
	PhaseReturn   Phase = "RETURN"
)

// Toolhead is the motion queue the cycle moves on.
type Toolhead interface {
	GetPosition() []float64
	Move(newPos []float64, speed float64) error
	WaitMoves() error
	Dwell(delay float64) error
}

// Belt is the manual actuator carrying the purged filament.
type Belt interface {
	CommandedPosition() float64
	Move(pos, speed, accel float64, sync bool) error
	Velocity() float64
	Accel() float64
}

// Synchronizer couples the belt to the extruder.
type Synchronizer interface {
	Sync(layerHeight, width float64) error
	Unsync() error
}

// PhaseEvent is reported when a phase starts. Segment is 1-based and
// zero for phases outside the segment loop.
type PhaseEvent struct {
	CycleID  string
	Phase    Phase
	Segment  int
	Segments int
}

// Observer is notified of cycle progress.
type Observer interface {
	Phase(ev PhaseEvent)
	CycleDone(cycleID string, p Params, elapsed time.Duration, err error)
}

// Orchestrator runs purge cycles. One cycle runs at a time.
type Orchestrator struct {
	cfg      Config
	toolhead Toolhead
	belt     Belt
	sync     Synchronizer
	log      *log.Logger
	observer Observer
	baseCtx  context.Context

	runMu sync.Mutex

	mu        sync.Mutex
	state     string
	phase     Phase
	segment   int
	segments  int
	cycleID   string
	cycles    int
	lastError string
}

// New creates an orchestrator.
func New(cfg Config, toolhead Toolhead, belt Belt, sync Synchronizer) (*Orchestrator, error) {
	if toolhead == nil {
		return nil, hosterrors.MissingDependencyError("purgebelt", "toolhead")
	}
	if belt == nil {
		return nil, hosterrors.MissingDependencyError("purgebelt", cfg.BeltStepper)
	}
	if sync == nil {
		return nil, hosterrors.MissingDependencyError("purgebelt", "belt synchronizer")
	}
	return &Orchestrator{
		cfg:      cfg,
		toolhead: toolhead,
		belt:     belt,
		sync:     sync,
		log:      log.GetLogger("purge"),
		baseCtx:  context.Background(),
		state:    "ready",
	}, nil
}

// SetObserver installs a progress observer.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// SetContext sets the context PURGE_WITH_BELT runs under.
func (o *Orchestrator) SetContext(ctx context.Context) {
	o.baseCtx = ctx
}

// Config returns the loaded configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Purge derives the parameters of req and runs one cycle.
func (o *Orchestrator) Purge(ctx context.Context, req Request) (Params, error) {
	p, err := Derive(req, o.cfg)
	if err != nil {
		return p, err
	}
	return p, o.Run(ctx, p)
}

type cycle struct {
	o   *Orchestrator
	ctx context.Context
	id  string
	p   Params
	pos []float64
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run executes one cycle with p. Every phase waits for the queue to
// drain before the next starts. A failed or cancelled cycle leaves the
// belt unsynced and is not resumed.
func (o *Orchestrator) Run(ctx context.Context, p Params) (err error) {
	if !o.runMu.TryLock() {
		return hosterrors.RuntimeError("a purge cycle is already running").SetSection("purgebelt")
	}
	defer o.runMu.Unlock()

	c := &cycle{o: o, ctx: ctx, id: newCycleID(), p: p}
	o.mu.Lock()
	o.state = "purging"
	o.cycleID = c.id
	o.segments = p.Segments()
	o.segment = 0
	o.lastError = ""
	o.mu.Unlock()

	entry := o.log.WithFields(log.Fields{
		"cycle":    c.id,
		"length":   p.Length,
		"volume":   p.Volume,
		"segments": p.Segments(),
		"speed":    p.ExtrusionSpeed,
	})
	entry.Info("purge cycle started")
	start := time.Now()

	defer func() {
		if err != nil {
			if uerr := o.sync.Unsync(); uerr != nil {
				err = stderrors.Join(err, uerr)
			}
		}
		o.finish(c, err)
		if o.observer != nil {
			o.observer.CycleDone(c.id, p, time.Since(start), err)
		}
		if err != nil {
			entry.WithError(err).Error("purge cycle failed")
			return
		}
		entry.Infof("purge cycle finished in %s", time.Since(start).Round(time.Millisecond))
	}()

	return c.run()
}

func (o *Orchestrator) finish(c *cycle, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles++
	o.phase = ""
	if err != nil {
		o.state = "error"
		o.lastError = err.Error()
		return
	}
	o.state = "ready"
}

func (c *cycle) run() error {
	cfg := c.o.cfg
	initial := c.o.toolhead.GetPosition()
	if len(initial) < 4 {
		return hosterrors.RuntimeError("toolhead position lacks an extrusion axis")
	}
	c.pos = []float64{cfg.ParkX, cfg.ParkY, cfg.ParkZ, initial[3]}

	if err := c.step(PhasePark, 0, func() error {
		return c.moveAndWait(cfg.TravelSpeed)
	}); err != nil {
		return err
	}

	segLen := c.p.SegmentLength()
	n := c.p.Segments()
	for seg := 1; seg <= n; seg++ {
		if err := c.segment(seg, segLen); err != nil {
			return err
		}
		if seg < n {
			if err := c.step(PhaseDwell, seg, func() error {
				return c.o.toolhead.Dwell(c.p.PauseTime)
			}); err != nil {
				return err
			}
		}
	}

	if err := c.step(PhaseOutfeed, 0, func() error {
		return c.beltForward(cfg.OutfeedLength)
	}); err != nil {
		return err
	}
	if !cfg.ReturnToStartPos {
		return nil
	}
	return c.step(PhaseReturn, 0, func() error {
		e := c.pos[3]
		c.pos = append(c.pos[:0], initial[:3]...)
		c.pos = append(c.pos, e)
		return c.moveAndWait(cfg.TravelSpeed)
	})
}

func (c *cycle) segment(seg int, segLen float64) error {
	cfg := c.o.cfg
	steps := []struct {
		phase Phase
		fn    func() error
	}{
		{PhaseApproach, func() error {
			c.pos[2] = cfg.BeltZ + c.p.LayerHeight
			return c.moveAndWait(cfg.ApproachSpeed)
		}},
		{PhaseSync, func() error {
			return c.o.sync.Sync(c.p.LayerHeight, c.p.ExtrusionWidth)
		}},
		{PhaseExtrude, func() error {
			c.pos[3] += segLen
			return c.moveAndWait(c.p.ExtrusionSpeed)
		}},
		{PhaseUnsync, c.o.sync.Unsync},
		{PhaseRetract, func() error {
			if err := c.beltMove(cfg.RetractTravel); err != nil {
				return err
			}
			c.pos[3] -= cfg.RetractDist
			return c.moveAndWait(cfg.RetractSpeed)
		}},
		{PhaseReturnZ, func() error {
			c.pos[2] = cfg.ParkZ
			return c.moveAndWait(cfg.TravelSpeed)
		}},
	}
	for _, s := range steps {
		if err := c.step(s.phase, seg, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *cycle) step(phase Phase, seg int, fn func() error) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	o := c.o
	o.mu.Lock()
	o.phase = phase
	if seg > 0 {
		o.segment = seg
	}
	o.mu.Unlock()
	o.log.Debug("cycle %s: %s %d/%d", c.id, phase, seg, c.p.Segments())
	if o.observer != nil {
		o.observer.Phase(PhaseEvent{CycleID: c.id, Phase: phase, Segment: seg, Segments: c.p.Segments()})
	}
	err := fn()
	if err == nil {
		return nil
	}
	var he *hosterrors.HostError
	if stderrors.As(err, &he) {
		he.With("phase", string(phase))
		return err
	}
	return hosterrors.Wrap(err, hosterrors.ErrRuntime, fmt.Sprintf("%s: %v", phase, err)).SetSection("purgebelt")
}

func (c *cycle) moveAndWait(speed float64) error {
	if err := c.o.toolhead.Move(c.pos, speed); err != nil {
		return err
	}
	return c.o.toolhead.WaitMoves()
}

func (c *cycle) beltMove(dist float64) error {
	b := c.o.belt
	return b.Move(b.CommandedPosition()+dist, b.Velocity(), b.Accel(), true)
}

func (c *cycle) beltForward(dist float64) error {
	if err := c.beltMove(dist); err != nil {
		return err
	}
	return c.o.toolhead.WaitMoves()
}

// GetStatus returns the orchestrator status.
func (o *Orchestrator) GetStatus() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]any{
		"state":      o.state,
		"phase":      string(o.phase),
		"segment":    o.segment,
		"segments":   o.segments,
		"cycle_id":   o.cycleID,
		"cycles":     o.cycles,
		"last_error": o.lastError,
	}
}

// RegisterCommands adds PURGE_WITH_BELT.
func (o *Orchestrator) RegisterCommands(d *gcode.Dispatcher) error {
	return d.Register("PURGE_WITH_BELT", o.cmdPurge, "Run purge belt cycle")
}

func (o *Orchestrator) cmdPurge(cmd *gcode.Command) error {
	req, err := ParseRequest(cmd)
	if err != nil {
		return err
	}
	p, err := Derive(req, o.cfg)
	if err != nil {
		return err
	}
	cmd.RespondInfo(p.Summary())
	return o.Run(o.baseCtx, p)
}

// ParseRequest reads the PURGE_WITH_BELT parameters.
func ParseRequest(cmd *gcode.Command) (Request, error) {
	var req Request
	floats := []struct {
		name string
		dst  **float64
		b    gcode.Bounds
	}{
		{"LAYER_HEIGHT", &req.LayerHeight, gcode.Above(0)},
		{"EXTRUSION_WIDTH", &req.ExtrusionWidth, gcode.Above(0)},
		{"PURGE_VOLUME", &req.Volume, gcode.Above(0)},
		{"PURGE_LENGTH", &req.Length, gcode.Above(0)},
		{"FLOW_RATE", &req.FlowRate, gcode.Above(0)},
		{"EXTRUSION_SPEED", &req.ExtrusionSpeed, gcode.Above(0)},
		{"PAUSE_TIME", &req.PauseTime, gcode.MinVal(0)},
	}
	for _, f := range floats {
		v, err := cmd.GetFloatPtr(f.name, f.b)
		if err != nil {
			return req, err
		}
		*f.dst = v
	}
	qty, err := cmd.GetIntPtr("PAUSE_QTY", gcode.MinVal(0))
	if err != nil {
		return req, err
	}
	req.PauseQty = qty
	return req, nil
}
