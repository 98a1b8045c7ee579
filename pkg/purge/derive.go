package purge

import (
	"fmt"
	"math"

	hosterrors "purgebelt-go/pkg/errors"
)

// Request holds the optional PURGE_WITH_BELT parameters. A nil field
// falls back to the configured default.
type Request struct {
	LayerHeight    *float64
	ExtrusionWidth *float64
	Volume         *float64
	Length         *float64
	PauseQty       *int
	FlowRate       *float64
	ExtrusionSpeed *float64
	PauseTime      *float64
}

// Params are the values a cycle runs with. They are fixed once derived.
type Params struct {
	LayerHeight    float64
	ExtrusionWidth float64

	// Length is filament length in mm, Volume is in mm³.
	Length float64
	Volume float64

	// PurgedLength is the length of the extruded line laid on the belt.
	PurgedLength float64

	PauseQty       int
	PauseTime      float64
	FlowRate       float64
	ExtrusionSpeed float64
}

// Segments returns the number of extrude segments.
func (p Params) Segments() int {
	return p.PauseQty + 1
}

// SegmentLength returns the filament length of one segment.
func (p Params) SegmentLength() float64 {
	return p.Length / float64(p.Segments())
}

// Summary is the line reported before a cycle starts.
func (p Params) Summary() string {
	return fmt.Sprintf("Purging %.2f mm³ at %.2f mm³/s in %d step(s)", p.Volume, p.FlowRate, p.Segments())
}

func filamentArea(d float64) float64 {
	return math.Pi / 4 * d * d
}

func positive(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return hosterrors.DerivationError(name, fmt.Sprintf("%g must be above 0", v))
	}
	return nil
}

// Derive resolves req against cfg.
//
// Length comes from an explicit volume, else an explicit or default
// length. The pause count is taken from the request, else the smallest
// count keeping each segment's purged length at or under the section
// maximum, else the default. An explicit flow rate is clamped to the
// maximum; an explicit speed sets the flow rate unclamped.
func Derive(req Request, cfg Config) (Params, error) {
	p := Params{
		LayerHeight:    cfg.LayerHeight,
		ExtrusionWidth: cfg.ExtrusionWidth,
		PauseTime:      cfg.PauseTime,
	}
	if req.LayerHeight != nil {
		p.LayerHeight = *req.LayerHeight
	}
	if req.ExtrusionWidth != nil {
		p.ExtrusionWidth = *req.ExtrusionWidth
	}
	if req.PauseTime != nil {
		p.PauseTime = *req.PauseTime
	}
	if err := positive("filament_diameter", cfg.FilamentDiameter); err != nil {
		return p, err
	}
	if err := positive("layer_height", p.LayerHeight); err != nil {
		return p, err
	}
	if err := positive("extrusion_width", p.ExtrusionWidth); err != nil {
		return p, err
	}
	if p.PauseTime < 0 {
		return p, hosterrors.DerivationError("pause_time", "must not be negative")
	}

	area := filamentArea(cfg.FilamentDiameter)
	if req.Volume != nil {
		p.Volume = *req.Volume
		p.Length = p.Volume / area
	} else {
		p.Length = cfg.PurgeLength
		if req.Length != nil {
			p.Length = *req.Length
		}
		p.Volume = area * p.Length
	}
	if err := positive("purge_length", p.Length); err != nil {
		return p, err
	}
	p.PurgedLength = p.Volume / (p.ExtrusionWidth * p.LayerHeight)

	switch {
	case req.PauseQty != nil:
		p.PauseQty = *req.PauseQty
	case cfg.SectionMax > 0 && p.PurgedLength > cfg.SectionMax:
		p.PauseQty = int(math.Ceil(p.PurgedLength / cfg.SectionMax))
	default:
		p.PauseQty = cfg.PauseQty
	}
	if p.PauseQty < 0 {
		return p, hosterrors.DerivationError("pause_qty", "must not be negative")
	}

	switch {
	case req.FlowRate != nil:
		p.FlowRate = math.Min(*req.FlowRate, cfg.MaxFlowRate)
		p.ExtrusionSpeed = p.FlowRate / area
	case req.ExtrusionSpeed != nil:
		p.ExtrusionSpeed = *req.ExtrusionSpeed
		p.FlowRate = p.ExtrusionSpeed * area
	default:
		p.FlowRate = cfg.FlowRate
		p.ExtrusionSpeed = p.FlowRate / area
	}
	if err := positive("extrusion_speed", p.ExtrusionSpeed); err != nil {
		return p, err
	}
	return p, nil
}
