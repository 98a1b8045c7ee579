package purge

import (
	"purgebelt-go/pkg/config"
)

// DefaultBeltStepper is the actuator the orchestrator drives unless
// belt_stepper says otherwise.
const DefaultBeltStepper = "purge_belt_stepper"

// Config holds the [purgebelt] section.
type Config struct {
	ParkX, ParkY, ParkZ float64
	BeltZ               float64

	FilamentDiameter float64
	PurgeLength      float64
	SectionMax       float64
	LayerHeight      float64
	ExtrusionWidth   float64
	OutfeedLength    float64
	RetractTravel    float64

	ExtrudeSpeed  float64
	TravelSpeed   float64
	ApproachSpeed float64
	RetractSpeed  float64
	RetractDist   float64

	PauseTime        float64
	PauseQty         int
	ReturnToStartPos bool
	MaxFlowRate      float64
	FlowRate         float64

	BeltStepper string
}

// DefaultConfig returns the [purgebelt] defaults.
func DefaultConfig() Config {
	return Config{
		ParkX:            10,
		ParkY:            10,
		ParkZ:            2,
		FilamentDiameter: 1.75,
		PurgeLength:      50,
		SectionMax:       200,
		LayerHeight:      0.4,
		ExtrusionWidth:   0.4,
		OutfeedLength:    100,
		RetractTravel:    10,
		ExtrudeSpeed:     5,
		TravelSpeed:      100,
		ApproachSpeed:    5,
		RetractSpeed:     20,
		RetractDist:      5,
		PauseTime:        1,
		PauseQty:         1,
		ReturnToStartPos: true,
		MaxFlowRate:      40,
		FlowRate:         30,
		BeltStepper:      DefaultBeltStepper,
	}
}

// LoadConfig reads a [purgebelt] section on top of the defaults.
func LoadConfig(sec *config.Section) (Config, error) {
	cfg := DefaultConfig()

	free := []struct {
		opt string
		dst *float64
	}{
		{"park_pos_x", &cfg.ParkX},
		{"park_pos_y", &cfg.ParkY},
		{"park_pos_z", &cfg.ParkZ},
		{"purge_belt_z", &cfg.BeltZ},
	}
	for _, o := range free {
		v, err := sec.GetFloat(o.opt, *o.dst)
		if err != nil {
			return cfg, err
		}
		*o.dst = v
	}

	positive := []struct {
		opt string
		dst *float64
	}{
		{"filament_diameter", &cfg.FilamentDiameter},
		{"purge_length", &cfg.PurgeLength},
		{"purged_length_section_max", &cfg.SectionMax},
		{"purge_layer_height", &cfg.LayerHeight},
		{"purge_extrusion_width", &cfg.ExtrusionWidth},
		{"purge_belt_outfeed_length", &cfg.OutfeedLength},
		{"purge_belt_retract_travel_dist", &cfg.RetractTravel},
		{"extrude_speed", &cfg.ExtrudeSpeed},
		{"travel_speed", &cfg.TravelSpeed},
		{"approach_speed", &cfg.ApproachSpeed},
		{"retract_speed", &cfg.RetractSpeed},
		{"retract_dist", &cfg.RetractDist},
		{"pause_time", &cfg.PauseTime},
		{"max_flow_rate", &cfg.MaxFlowRate},
		{"flow_rate", &cfg.FlowRate},
	}
	for _, o := range positive {
		v, err := sec.GetFloatWithBounds(o.opt, config.Above(0), *o.dst)
		if err != nil {
			return cfg, err
		}
		*o.dst = v
	}

	zero := 0
	var err error
	if cfg.PauseQty, err = sec.GetIntWithBounds("pause_qty", &zero, nil, cfg.PauseQty); err != nil {
		return cfg, err
	}
	if cfg.ReturnToStartPos, err = sec.GetBool("return_to_start_pos", cfg.ReturnToStartPos); err != nil {
		return cfg, err
	}
	if cfg.BeltStepper, err = sec.Get("belt_stepper", cfg.BeltStepper); err != nil {
		return cfg, err
	}
	if cfg.BeltStepper == "" {
		return cfg, config.NewConfigError(sec.GetName(), "belt_stepper", "must not be empty")
	}
	return cfg, nil
}
