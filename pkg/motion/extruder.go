package motion

// Extruder owns the extrusion motion queue and its drive stepper.
type Extruder struct {
	name    string
	trapq   *TrapQ
	stepper *Stepper
	sk      *StepperKinematics

	lastPosition float64
}

// NewExtruder wires stepper to a fresh extrusion queue using extruder
// kinematics.
func NewExtruder(name string, stepper *Stepper) *Extruder {
	e := &Extruder{
		name:    name,
		trapq:   NewTrapQ(name),
		stepper: stepper,
		sk:      NewExtruderKinematics(),
	}
	stepper.SetStepperKinematics(e.sk)
	stepper.SetTrapQ(e.trapq)
	stepper.SetPosition(Coord{})
	return e
}

// Name returns the extruder name.
func (e *Extruder) Name() string {
	return e.name
}

// GetTrapQ returns the extrusion queue.
func (e *Extruder) GetTrapQ() *TrapQ {
	return e.trapq
}

// Stepper returns the extruder drive stepper.
func (e *Extruder) Stepper() *Stepper {
	return e.stepper
}

// LastPosition returns the extrusion position at the end of the last
// queued move.
func (e *Extruder) LastPosition() float64 {
	return e.lastPosition
}

// SetPressureAdvance records pressure advance on the extruder model.
func (e *Extruder) SetPressureAdvance(advance, smoothTime float64) {
	e.sk.SetPressureAdvance(advance, smoothTime)
}

func (e *Extruder) setPosition(printTime, pos float64) {
	e.lastPosition = pos
	e.trapq.SetPosition(printTime, Coord{pos})
}

func (e *Extruder) processMove(printTime, accelT, cruiseT, decelT, start, end, cruiseV float64) {
	e.trapq.Append(printTime, accelT, cruiseT, decelT, Coord{start}, Coord{end}, cruiseV)
	e.lastPosition = end
}

// GetStatus returns the extruder status.
func (e *Extruder) GetStatus() map[string]any {
	pa, st := e.sk.PressureAdvance()
	return map[string]any{
		"position":          e.lastPosition,
		"rotation_distance": e.stepper.RotationDistance(),
		"pressure_advance":  pa,
		"smooth_time":       st,
	}
}
