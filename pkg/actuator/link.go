package actuator

import (
	stderrors "errors"
	"fmt"

	"purgebelt-go/pkg/endstop"
	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/motion"
)

// LinkSession is a borrowed drive channel riding along with an actuator.
// Acquire it with LinkExtruder or LinkActuator and always call Release.
type LinkSession struct {
	source   *Actuator
	target   string
	lender   *Actuator
	borrowed *motion.Stepper
	endstop  *endstop.Endstop

	prevQueue        string
	prevSteppers     []*motion.Stepper
	prevRailSteppers []*motion.Stepper
	prevSK           *motion.StepperKinematics
	prevTrapQ        *motion.TrapQ
	addedToEndstop   bool

	released bool
}

// Target returns the name of the lending extruder or actuator.
func (s *LinkSession) Target() string {
	return s.target
}

// Borrowed returns the lent drive channel.
func (s *LinkSession) Borrowed() *motion.Stepper {
	return s.borrowed
}

func (a *Actuator) resolveLinkEndstop(name string) (*endstop.Endstop, error) {
	if name == "" {
		return nil, nil
	}
	es, ok := a.endstops.Get(name)
	if !ok {
		return nil, hosterrors.EndstopNotFoundError(a.name, name)
	}
	return es, nil
}

func (a *Actuator) checkCanLink() error {
	if a.borrowedBy != "" {
		return a.conflict()
	}
	if a.gcodeAxis != "" {
		return hosterrors.RuntimeError(fmt.Sprintf("%s must unregister GCODE_AXIS %s first", a.name, a.gcodeAxis)).
			SetSection(a.name)
	}
	return nil
}

// LinkExtruder lends the drive of the active extruder to a. When endstop
// is not empty the extruder drive joins that endstop's trigger group.
func (a *Actuator) LinkExtruder(extruderName, endstopName string) (*LinkSession, error) {
	if err := a.checkCanLink(); err != nil {
		return nil, err
	}
	ext, ok := a.dir.LookupExtruder(extruderName)
	if !ok {
		reason := "is not found"
		if _, isActuator := a.dir.LookupActuator(extruderName); isActuator {
			reason = "is not an extruder"
		}
		return nil, hosterrors.TargetNotFoundError("Extruder", extruderName, reason)
	}
	if active := a.dir.Toolhead().GetExtruder(); active != ext {
		return nil, hosterrors.TargetNotFoundError("Extruder", extruderName, "is not active")
	}
	es, err := a.resolveLinkEndstop(endstopName)
	if err != nil {
		return nil, err
	}
	return a.link(extruderName, nil, ext.Stepper(), es)
}

// LinkActuator lends the first drive channel of another manual actuator
// to a. The lender rejects direct commands until the session is released.
func (a *Actuator) LinkActuator(actuatorName, endstopName string) (*LinkSession, error) {
	if actuatorName == "" {
		return nil, hosterrors.TargetNotFoundError("Manual stepper", actuatorName, "must be provided")
	}
	if err := a.checkCanLink(); err != nil {
		return nil, err
	}
	lender, ok := a.dir.LookupActuator(actuatorName)
	if !ok {
		return nil, hosterrors.TargetNotFoundError("Manual stepper", actuatorName, "is not a valid manual stepper")
	}
	if lender == a {
		return nil, hosterrors.TargetNotFoundError("Manual stepper", actuatorName, "cannot be linked to itself")
	}
	if lender.Role() != RoleFree {
		return nil, lender.conflict()
	}
	if lender.gcodeAxis != "" {
		return nil, hosterrors.RuntimeError(fmt.Sprintf("%s must unregister GCODE_AXIS %s first", lender.name, lender.gcodeAxis)).
			SetSection(lender.name)
	}
	es, err := a.resolveLinkEndstop(endstopName)
	if err != nil {
		return nil, err
	}
	return a.link(actuatorName, lender, lender.ownSteppers[0], es)
}

func (a *Actuator) link(target string, lender *Actuator, borrowed *motion.Stepper, es *endstop.Endstop) (*LinkSession, error) {
	s := &LinkSession{
		source:    a,
		target:    target,
		lender:    lender,
		borrowed:  borrowed,
		endstop:   es,
		prevQueue: a.motionQueue,
	}

	// The extruder queue may still hold moves for the borrowed channel.
	if err := a.dir.Toolhead().FlushStepGeneration(); err != nil {
		return nil, err
	}
	if s.prevQueue != "" {
		if err := a.bind(""); err != nil {
			if rerr := a.bind(s.prevQueue); rerr != nil {
				err = stderrors.Join(err, rerr)
			}
			return nil, err
		}
	}

	s.prevSteppers = a.steppers
	s.prevRailSteppers = a.rail.Steppers()
	a.steppers = appendStepper(s.prevSteppers, borrowed)
	a.rail.SetSteppers(appendStepper(s.prevRailSteppers, borrowed))

	pos := a.ownSteppers[0].GetCommandedPosition()
	s.prevSK = borrowed.SetStepperKinematics(a.linkedSK)
	s.prevTrapQ = borrowed.SetTrapQ(a.trapq)
	borrowed.SetPosition(motion.Coord{pos})

	if es != nil && !es.HasStepper(borrowed) {
		es.AddStepper(borrowed)
		s.addedToEndstop = true
		a.log.Info("added %s stepper to endstop %s", borrowed.Name(), es.GetName())
	}
	if lender != nil {
		lender.borrowedBy = a.name
	}
	a.log.Debug("linked %s at %.3f", target, pos)
	return s, nil
}

func appendStepper(list []*motion.Stepper, s *motion.Stepper) []*motion.Stepper {
	out := make([]*motion.Stepper, 0, len(list)+1)
	out = append(out, list...)
	return append(out, s)
}

// Release restores the state saved when the session was acquired. Every
// restore step runs even if an earlier one fails; calling Release again
// is a no-op.
func (s *LinkSession) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	a := s.source

	var errs []error
	if err := a.dir.Toolhead().FlushStepGeneration(); err != nil {
		errs = append(errs, err)
	}
	if s.addedToEndstop {
		s.endstop.RemoveStepper(s.borrowed)
	}
	a.steppers = s.prevSteppers
	a.rail.SetSteppers(s.prevRailSteppers)
	s.borrowed.SetStepperKinematics(s.prevSK)
	s.borrowed.SetTrapQ(s.prevTrapQ)
	if s.lender != nil {
		s.lender.borrowedBy = ""
	}
	if err := a.bind(s.prevQueue); err != nil {
		errs = append(errs, err)
	}
	a.log.Debug("released %s", s.target)
	return stderrors.Join(errs...)
}

func (a *Actuator) withSession(s *LinkSession, fn func() error) (err error) {
	defer func() {
		if rerr := s.Release(); rerr != nil {
			err = stderrors.Join(err, rerr)
		}
		if a.observer != nil {
			a.observer.LinkSession(a.name, s.target, err)
		}
	}()
	return fn()
}

func (a *Actuator) sessionFailed(target string, err error) error {
	if a.observer != nil {
		a.observer.LinkSession(a.name, target, err)
	}
	return err
}

// WithLinkedExtruder runs fn with the active extruder's drive linked to a.
// The link is released on every exit path before the error of fn is
// returned.
func (a *Actuator) WithLinkedExtruder(extruderName, endstopName string, fn func() error) error {
	s, err := a.LinkExtruder(extruderName, endstopName)
	if err != nil {
		return a.sessionFailed(extruderName, err)
	}
	return a.withSession(s, fn)
}

// WithLinkedActuator runs fn with another actuator's drive linked to a.
func (a *Actuator) WithLinkedActuator(actuatorName, endstopName string, fn func() error) error {
	s, err := a.LinkActuator(actuatorName, endstopName)
	if err != nil {
		return a.sessionFailed(actuatorName, err)
	}
	return a.withSession(s, fn)
}

// LinkedMove moves a with the extruder drive along for the ride.
func (a *Actuator) LinkedMove(extruderName string, movePos, speed, accel float64, sync bool) error {
	if a.IsBound() {
		return a.conflict()
	}
	return a.WithLinkedExtruder(extruderName, "", func() error {
		return a.Move(movePos, speed, accel, sync)
	})
}

// LinkedHomingMove homes a against endstopName with the extruder drive
// in the endstop trigger group.
func (a *Actuator) LinkedHomingMove(extruderName, endstopName string, movePos, speed, accel float64, triggered, checkTrigger bool) error {
	if a.IsBound() {
		return a.conflict()
	}
	return a.WithLinkedExtruder(extruderName, endstopName, func() error {
		return a.HomingMoveEndstop(endstopName, movePos, speed, accel, triggered, checkTrigger)
	})
}

// LinkedActuatorMove moves a with another actuator's drive along.
func (a *Actuator) LinkedActuatorMove(actuatorName string, movePos, speed, accel float64, sync bool) error {
	if a.IsBound() {
		return a.conflict()
	}
	return a.WithLinkedActuator(actuatorName, "", func() error {
		return a.Move(movePos, speed, accel, sync)
	})
}

// LinkedActuatorHomingMove homes a with another actuator's drive in the
// endstop trigger group.
func (a *Actuator) LinkedActuatorHomingMove(actuatorName, endstopName string, movePos, speed, accel float64, triggered, checkTrigger bool) error {
	if a.IsBound() {
		return a.conflict()
	}
	return a.WithLinkedActuator(actuatorName, endstopName, func() error {
		return a.HomingMoveEndstop(endstopName, movePos, speed, accel, triggered, checkTrigger)
	})
}
