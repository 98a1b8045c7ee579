// Package beltsync slaves the purge belt to the active extruder's motion
// queue with a rescaled rotation distance, so the shared extrusion signal
// drives the belt at a different physical rate than the filament.
package beltsync

import (
	"errors"
	"fmt"
	"math"

	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/gcode"
	"purgebelt-go/pkg/log"
	"purgebelt-go/pkg/motion"
)

// State is the synchronization state of the belt.
type State int

const (
	Free State = iota
	Synced
)

func (s State) String() string {
	if s == Synced {
		return "synced"
	}
	return "free"
}

// Belt is the actuator driven by the controller.
type Belt interface {
	Name() string
	CommandedPosition() float64
	RotationDistance() float64
	SetRotationDistance(rd float64) error
	SetPosition(pos float64) error
	Bind(queue string) error
}

// ExtruderSource reports the active extruder.
type ExtruderSource interface {
	GetExtruder() *motion.Extruder
}

// Config holds the controller defaults.
type Config struct {
	FilamentDiameter float64
	LayerHeight      float64
	ExtrusionWidth   float64
}

// Controller toggles the belt between free running and following the
// active extruder. Sync and Unsync are idempotent.
type Controller struct {
	cfg       Config
	belt      Belt
	extruders ExtruderSource
	log       *log.Logger

	state       State
	savedRD     float64
	savedPos    float64
	layerHeight float64
	width       float64
	extruder    string

	onChange func(synced bool)
}

// New creates a controller for belt.
func New(cfg Config, belt Belt, extruders ExtruderSource) (*Controller, error) {
	if belt == nil {
		return nil, hosterrors.MissingDependencyError("purgebelt", "belt actuator")
	}
	if cfg.FilamentDiameter <= 0 {
		return nil, hosterrors.DerivationError("filament_diameter", "must be above 0")
	}
	return &Controller{
		cfg:       cfg,
		belt:      belt,
		extruders: extruders,
		log:       log.GetLogger("beltsync"),
	}, nil
}

// OnChange sets a hook called after every state transition.
func (c *Controller) OnChange(fn func(synced bool)) {
	c.onChange = fn
}

// FilamentArea returns the cross section of filament of diameter d.
func FilamentArea(d float64) float64 {
	return math.Pi / 4 * d * d
}

// FlowCorrectionFactor is the ratio of filament cross section to the
// cross section of the extruded line.
func FlowCorrectionFactor(filamentDiameter, layerHeight, width float64) float64 {
	return FilamentArea(filamentDiameter) / (layerHeight * width)
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// IsSynced reports whether the belt follows the extruder.
func (c *Controller) IsSynced() bool {
	return c.state == Synced
}

// Sync binds the belt to the active extruder with its rotation distance
// divided by the flow correction factor. It is a no-op while synced.
func (c *Controller) Sync(layerHeight, width float64) error {
	if c.state == Synced {
		return nil
	}
	if !(layerHeight > 0) || !(width > 0) {
		return hosterrors.DerivationError("flow correction factor",
			fmt.Sprintf("layer height %.3f and extrusion width %.3f must be above 0", layerHeight, width))
	}
	var active *motion.Extruder
	if c.extruders != nil {
		active = c.extruders.GetExtruder()
	}
	if active == nil {
		return hosterrors.TargetNotFoundError("Extruder", "", "is not active")
	}

	savedPos := c.belt.CommandedPosition()
	savedRD := c.belt.RotationDistance()
	factor := FlowCorrectionFactor(c.cfg.FilamentDiameter, layerHeight, width)
	if err := c.belt.SetRotationDistance(savedRD / factor); err != nil {
		return err
	}
	if err := c.belt.Bind(active.Name()); err != nil {
		if rerr := c.belt.SetRotationDistance(savedRD); rerr != nil {
			c.log.WithError(rerr).Error("failed to restore rotation distance")
		}
		return err
	}

	c.savedPos = savedPos
	c.savedRD = savedRD
	c.layerHeight = layerHeight
	c.width = width
	c.extruder = active.Name()
	c.state = Synced
	c.log.WithFields(log.Fields{
		"belt":              c.belt.Name(),
		"extruder":          c.extruder,
		"factor":            factor,
		"rotation_distance": savedRD / factor,
	}).Info("belt synced")
	c.changed()
	return nil
}

// Unsync detaches the belt and restores the saved position and rotation
// distance. It is a no-op while free.
func (c *Controller) Unsync() error {
	if c.state == Free {
		return nil
	}
	if err := c.belt.Bind(""); err != nil {
		return err
	}
	// the belt is detached from here on, so the state follows even when a
	// restore fails
	posErr := c.belt.SetPosition(c.savedPos)
	rdErr := c.belt.SetRotationDistance(c.savedRD)
	c.state = Free
	c.extruder = ""
	c.changed()
	if err := errors.Join(posErr, rdErr); err != nil {
		c.log.WithError(err).Error("belt unsynced with a failed restore")
		return err
	}
	c.log.WithField("belt", c.belt.Name()).Info("belt unsynced")
	return nil
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange(c.state == Synced)
	}
}

// GetStatus returns the controller status.
func (c *Controller) GetStatus() map[string]any {
	status := map[string]any{
		"state":             c.state.String(),
		"synced":            c.state == Synced,
		"rotation_distance": c.belt.RotationDistance(),
	}
	if c.state == Synced {
		status["extruder"] = c.extruder
		status["saved_rotation_distance"] = c.savedRD
		status["saved_position"] = c.savedPos
		status["layer_height"] = c.layerHeight
		status["extrusion_width"] = c.width
	}
	return status
}

// RegisterCommands adds SYNC_PURGE_BELT and UNSYNC_PURGE_BELT.
func (c *Controller) RegisterCommands(d *gcode.Dispatcher) error {
	if err := d.Register("SYNC_PURGE_BELT", c.cmdSync,
		"Synchronizes the purge belt to the active extruder"); err != nil {
		return err
	}
	return d.Register("UNSYNC_PURGE_BELT", c.cmdUnsync, "Unsynchronizes the purge belt")
}

func (c *Controller) cmdSync(cmd *gcode.Command) error {
	lh, err := cmd.GetFloat("LAYER_HEIGHT", c.cfg.LayerHeight, gcode.Above(0))
	if err != nil {
		return err
	}
	w, err := cmd.GetFloat("EXTRUSION_WIDTH", c.cfg.ExtrusionWidth, gcode.Above(0))
	if err != nil {
		return err
	}
	return c.Sync(lh, w)
}

func (c *Controller) cmdUnsync(*gcode.Command) error {
	return c.Unsync()
}
