package actuator

import (
	"purgebelt-go/pkg/config"
	"purgebelt-go/pkg/motion"
)

// DefaultEndstop is the name given to endstop_pin.
const DefaultEndstop = "default"

// Config holds the settings of one [manual_extruder_stepper] section.
type Config struct {
	Name             string
	RotationDistance float64
	StepsPerRotation int
	Velocity         float64
	Accel            float64

	// Endstops maps an endstop name to its pin; EndstopOrder keeps the
	// order they were configured in.
	Endstops     map[string]string
	EndstopOrder []string

	PressureAdvance float64
	SmoothTime      float64

	PositionMin *float64
	PositionMax *float64
}

// DefaultConfig returns the defaults of a manual actuator.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		RotationDistance: 40,
		StepsPerRotation: motion.DefaultStepsPerRotation,
		Velocity:         5,
		SmoothTime:       0.040,
		Endstops:         map[string]string{},
	}
}

// LoadConfig reads a manual actuator section.
func LoadConfig(sec *config.Section) (Config, error) {
	cfg := DefaultConfig(sec.ShortName())
	var err error

	if cfg.RotationDistance, err = sec.GetFloat("rotation_distance"); err != nil {
		return cfg, err
	}
	if cfg.RotationDistance == 0 {
		return cfg, config.NewConfigError(sec.GetName(), "rotation_distance", "must not be zero")
	}
	fullSteps, err := sec.GetIntWithBounds("full_steps_per_rotation", intPtr(1), nil, 200)
	if err != nil {
		return cfg, err
	}
	microsteps, err := sec.GetIntWithBounds("microsteps", intPtr(1), nil, 16)
	if err != nil {
		return cfg, err
	}
	cfg.StepsPerRotation = fullSteps * microsteps

	if cfg.Velocity, err = sec.GetFloatWithBounds("velocity", config.Above(0), 5); err != nil {
		return cfg, err
	}
	if cfg.Accel, err = sec.GetFloatWithBounds("accel", config.MinVal(0), 0); err != nil {
		return cfg, err
	}

	if sec.HasOption("endstop_pin") {
		pin, err := sec.Get("endstop_pin")
		if err != nil {
			return cfg, err
		}
		cfg.Endstops[DefaultEndstop] = pin
		cfg.EndstopOrder = append(cfg.EndstopOrder, DefaultEndstop)
	}
	names, extra, err := sec.GetMap("extra_endstops")
	if err != nil {
		return cfg, err
	}
	for _, n := range names {
		if _, dup := cfg.Endstops[n]; dup {
			return cfg, config.NewConfigError(sec.GetName(), "extra_endstops", "duplicate endstop '"+n+"'")
		}
		cfg.Endstops[n] = extra[n]
		cfg.EndstopOrder = append(cfg.EndstopOrder, n)
	}

	if cfg.PressureAdvance, err = sec.GetFloatWithBounds("pressure_advance", config.MinVal(0), 0); err != nil {
		return cfg, err
	}
	maxSmooth := 0.200
	smooth := config.Above(0)
	smooth.MaxVal = &maxSmooth
	if cfg.SmoothTime, err = sec.GetFloatWithBounds("pressure_advance_smooth_time", smooth, 0.040); err != nil {
		return cfg, err
	}

	if sec.HasOption("position_min") {
		v, err := sec.GetFloat("position_min")
		if err != nil {
			return cfg, err
		}
		cfg.PositionMin = &v
	}
	if sec.HasOption("position_max") {
		v, err := sec.GetFloat("position_max")
		if err != nil {
			return cfg, err
		}
		cfg.PositionMax = &v
	}
	if cfg.PositionMin != nil && cfg.PositionMax != nil && *cfg.PositionMin >= *cfg.PositionMax {
		return cfg, config.NewConfigError(sec.GetName(), "position_max", "must be greater than position_min")
	}
	return cfg, nil
}

func intPtr(v int) *int { return &v }
