package motion

// KinematicsKind identifies the shape of a stepper kinematics model.
type KinematicsKind int

const (
	// KindCartesian follows one axis of the queue position.
	KindCartesian KinematicsKind = iota
	// KindExtruder follows the extrusion component of an extruder queue.
	KindExtruder
)

func (k KinematicsKind) String() string {
	switch k {
	case KindCartesian:
		return "cartesian"
	case KindExtruder:
		return "extruder"
	default:
		return "unknown"
	}
}

// StepperKinematics maps a queue position to a stepper position and holds
// the commanded position of the stepper using it. Handles are compared by
// identity: two models with the same shape are still different handles,
// and swapping a handle back restores the position it was left at.
type StepperKinematics struct {
	kind         KinematicsKind
	axis         int
	commandedPos float64
	// pressure advance is carried for status only
	pressureAdvance float64
	smoothTime      float64
}

// NewCartesianKinematics allocates a model following axis 'x', 'y' or 'z'.
func NewCartesianKinematics(axis byte) *StepperKinematics {
	idx := 0
	switch axis {
	case 'y':
		idx = 1
	case 'z':
		idx = 2
	}
	return &StepperKinematics{kind: KindCartesian, axis: idx}
}

// NewExtruderKinematics allocates an extruder model.
func NewExtruderKinematics() *StepperKinematics {
	return &StepperKinematics{kind: KindExtruder}
}

// Kind returns the model shape.
func (sk *StepperKinematics) Kind() KinematicsKind {
	return sk.kind
}

// Axis returns the followed axis index.
func (sk *StepperKinematics) Axis() int {
	return sk.axis
}

// CalcPosition returns the stepper position for a queue position.
func (sk *StepperKinematics) CalcPosition(pos Coord) float64 {
	if sk.kind == KindExtruder {
		return pos[0]
	}
	return pos[sk.axis]
}

// CommandedPosition returns the last position this model was driven to.
func (sk *StepperKinematics) CommandedPosition() float64 {
	return sk.commandedPos
}

// SetPressureAdvance records pressure advance settings on an extruder model.
func (sk *StepperKinematics) SetPressureAdvance(advance, smoothTime float64) {
	sk.pressureAdvance = advance
	sk.smoothTime = smoothTime
}

// PressureAdvance returns the recorded pressure advance settings.
func (sk *StepperKinematics) PressureAdvance() (advance, smoothTime float64) {
	return sk.pressureAdvance, sk.smoothTime
}
