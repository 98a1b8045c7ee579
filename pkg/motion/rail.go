package motion

// Rail groups the steppers driven together by one actuator.
type Rail struct {
	name     string
	steppers []*Stepper
}

// NewRail creates a rail driving the given steppers.
func NewRail(name string, steppers ...*Stepper) *Rail {
	return &Rail{name: name, steppers: append([]*Stepper(nil), steppers...)}
}

// Name returns the rail name.
func (r *Rail) Name() string {
	return r.name
}

// Steppers returns the current stepper list. The slice is shared; callers
// that keep it for later restore must not modify it.
func (r *Rail) Steppers() []*Stepper {
	return r.steppers
}

// SetSteppers replaces the stepper list.
func (r *Rail) SetSteppers(steppers []*Stepper) {
	r.steppers = steppers
}

// SetTrapQ attaches every stepper to tq.
func (r *Rail) SetTrapQ(tq *TrapQ) {
	for _, s := range r.steppers {
		s.SetTrapQ(tq)
	}
}

// SetPosition seeds every stepper from a queue position.
func (r *Rail) SetPosition(pos Coord) {
	for _, s := range r.steppers {
		s.SetPosition(pos)
	}
}

// GetCommandedPosition returns the first stepper's commanded position.
func (r *Rail) GetCommandedPosition() float64 {
	if len(r.steppers) == 0 {
		return 0
	}
	return r.steppers[0].GetCommandedPosition()
}
