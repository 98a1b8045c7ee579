// Stepper motor model
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"math"
)

// DefaultStepsPerRotation is full_steps_per_rotation * microsteps for a
// 1.8 degree motor at 16 microsteps.
const DefaultStepsPerRotation = 200 * 16

// Stepper is one physical drive channel. Its kinematics handle decides
// how positions queued on its trapq map to stepper travel and carries the
// commanded position; the stepper itself only counts steps.
type Stepper struct {
	name string

	stepsPerRotation int
	rotationDistance float64
	stepDist         float64
	invertDir        bool

	sk    *StepperKinematics
	trapq *TrapQ

	steps   float64
	enabled bool
}

// NewStepper creates a stepper with the given rotation distance. A
// negative rotation distance inverts the direction.
func NewStepper(name string, rotationDistance float64, stepsPerRotation int) (*Stepper, error) {
	if stepsPerRotation <= 0 {
		stepsPerRotation = DefaultStepsPerRotation
	}
	s := &Stepper{
		name:             name,
		stepsPerRotation: stepsPerRotation,
		sk:               NewCartesianKinematics('x'),
	}
	if err := s.SetRotationDistance(rotationDistance); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the stepper name.
func (s *Stepper) Name() string {
	return s.name
}

func (s *Stepper) String() string {
	return "stepper(" + s.name + ")"
}

// StepperKinematics returns the current kinematics handle.
func (s *Stepper) StepperKinematics() *StepperKinematics {
	return s.sk
}

// SetStepperKinematics swaps the kinematics handle and returns the previous
// one. The new handle keeps whatever position it held; callers seed it
// with SetPosition.
func (s *Stepper) SetStepperKinematics(sk *StepperKinematics) *StepperKinematics {
	if sk == nil {
		panic("motion: nil stepper kinematics for " + s.name)
	}
	prev := s.sk
	s.sk = sk
	return prev
}

// TrapQ returns the queue this stepper follows, or nil.
func (s *Stepper) TrapQ() *TrapQ {
	return s.trapq
}

// SetTrapQ attaches the stepper to a queue and returns the previous one.
func (s *Stepper) SetTrapQ(tq *TrapQ) *TrapQ {
	prev := s.trapq
	if prev == tq {
		return prev
	}
	if prev != nil {
		prev.detach(s)
	}
	s.trapq = tq
	if tq != nil {
		tq.attach(s)
	}
	return prev
}

// SetPosition sets the commanded position from a queue position without
// generating steps.
func (s *Stepper) SetPosition(pos Coord) {
	s.sk.commandedPos = s.sk.CalcPosition(pos)
}

// GetCommandedPosition returns the last commanded stepper position.
func (s *Stepper) GetCommandedPosition() float64 {
	return s.sk.commandedPos
}

// MCUPosition returns the number of steps taken since start.
func (s *Stepper) MCUPosition() int64 {
	return int64(math.Round(s.steps))
}

// PhysicalTravel returns the distance driven by the motor using the
// configured step distance.
func (s *Stepper) PhysicalTravel(nominalRotationDistance float64) float64 {
	return s.steps * math.Abs(nominalRotationDistance) / float64(s.stepsPerRotation)
}

// RotationDistance returns the signed rotation distance.
func (s *Stepper) RotationDistance() float64 {
	if s.invertDir {
		return -s.rotationDistance
	}
	return s.rotationDistance
}

// SetRotationDistance updates the step distance. The sign selects the
// direction.
func (s *Stepper) SetRotationDistance(rd float64) error {
	if rd == 0 || math.IsNaN(rd) || math.IsInf(rd, 0) {
		return fmt.Errorf("stepper %s: invalid rotation_distance %v", s.name, rd)
	}
	s.invertDir = rd < 0
	s.rotationDistance = math.Abs(rd)
	s.stepDist = s.rotationDistance / float64(s.stepsPerRotation)
	return nil
}

// StepDist returns the distance per step.
func (s *Stepper) StepDist() float64 {
	return s.stepDist
}

// SetEnabled records the motor enable state.
func (s *Stepper) SetEnabled(enable bool) {
	s.enabled = enable
}

// IsEnabled reports the motor enable state.
func (s *Stepper) IsEnabled() bool {
	return s.enabled
}

// follow advances the stepper to a new queue position.
func (s *Stepper) follow(pos Coord) {
	target := s.sk.CalcPosition(pos)
	delta := target - s.sk.commandedPos
	s.sk.commandedPos = target
	if s.invertDir {
		delta = -delta
	}
	s.steps += delta / s.stepDist
}
