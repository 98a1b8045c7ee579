// Manually controlled extruder-capable stepper
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package actuator implements a manually driven stepper that can run on
// its own queue, follow an extruder motion queue, or borrow another drive
// channel for the length of a linked move.
package actuator

import (
	"fmt"
	"math"

	"purgebelt-go/pkg/axisalloc"
	"purgebelt-go/pkg/endstop"
	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/log"
	"purgebelt-go/pkg/motion"
)

// Actuator is one manual stepper axis.
//
// An actuator is single owner: callers must not run two linked sessions
// against the same actuator at once.
type Actuator struct {
	name string
	dir  Directory
	log  *log.Logger

	rail        *motion.Rail
	ownSteppers []*motion.Stepper
	steppers    []*motion.Stepper
	trapq       *motion.TrapQ

	ownSKs      []*motion.StepperKinematics
	extruderSKs []*motion.StepperKinematics
	linkedSK    *motion.StepperKinematics

	endstops *endstop.EndstopGroup

	velocity     float64
	accel        float64
	posMin       *float64
	posMax       *float64
	rdSign       float64
	nextCmdTime  float64
	triggerSteps map[string]int64

	pressureAdvance float64
	smoothTime      float64

	// motionQueue is the extruder this actuator follows, "" when free.
	motionQueue string
	// borrowedBy names the actuator holding this one's drive channel.
	borrowedBy string

	axes       *axisalloc.Allocator
	gcodeAxis  string
	axisLimits axisLimits

	observer Observer
}

// New builds an actuator from cfg. Its steppers start on the actuator's
// own queue at position 0.
func New(cfg Config, dir Directory) (*Actuator, error) {
	if dir == nil {
		return nil, fmt.Errorf("actuator %s: directory is required", cfg.Name)
	}
	s, err := motion.NewStepper(cfg.Name, cfg.RotationDistance, cfg.StepsPerRotation)
	if err != nil {
		return nil, err
	}
	a := &Actuator{
		name:            cfg.Name,
		dir:             dir,
		log:             log.GetLogger("actuator").WithPrefix("actuator." + cfg.Name),
		rail:            motion.NewRail(cfg.Name, s),
		ownSteppers:     []*motion.Stepper{s},
		trapq:           motion.NewTrapQ(cfg.Name),
		linkedSK:        motion.NewCartesianKinematics('x'),
		endstops:        endstop.NewEndstopGroup(cfg.Name),
		velocity:        cfg.Velocity,
		accel:           cfg.Accel,
		posMin:          cfg.PositionMin,
		posMax:          cfg.PositionMax,
		rdSign:          1,
		triggerSteps:    make(map[string]int64),
		pressureAdvance: cfg.PressureAdvance,
		smoothTime:      cfg.SmoothTime,
	}
	if cfg.RotationDistance < 0 {
		a.rdSign = -1
	}
	a.steppers = append([]*motion.Stepper(nil), a.ownSteppers...)

	for _, st := range a.ownSteppers {
		sk := motion.NewCartesianKinematics('x')
		st.SetStepperKinematics(sk)
		a.ownSKs = append(a.ownSKs, sk)

		esk := motion.NewExtruderKinematics()
		esk.SetPressureAdvance(cfg.PressureAdvance, cfg.SmoothTime)
		a.extruderSKs = append(a.extruderSKs, esk)
	}
	a.rail.SetTrapQ(a.trapq)
	a.rail.SetPosition(motion.Coord{})

	for _, name := range cfg.EndstopOrder {
		es := endstop.New(endstop.FromPin(name, cfg.Endstops[name]))
		for _, st := range a.ownSteppers {
			es.AddStepper(st)
		}
		es.SetTriggerCallback(func(pos float64) {
			a.log.WithFields(log.Fields{"endstop": name, "position": pos}).Info("endstop triggered")
		})
		a.endstops.Add(es)
	}
	return a, nil
}

// Name returns the actuator name.
func (a *Actuator) Name() string {
	return a.name
}

// SetObserver installs an event observer.
func (a *Actuator) SetObserver(o Observer) {
	a.observer = o
}

// SetAxisAllocator enables GCODE_AXIS registration.
func (a *Actuator) SetAxisAllocator(alloc *axisalloc.Allocator) {
	a.axes = alloc
}

// Role returns the current ownership state.
func (a *Actuator) Role() Role {
	switch {
	case a.borrowedBy != "":
		return RoleBorrowed
	case a.motionQueue != "":
		return RoleSynced
	default:
		return RoleFree
	}
}

// IsBound reports whether the actuator follows a motion queue.
func (a *Actuator) IsBound() bool {
	return a.motionQueue != ""
}

// MotionQueue returns the bound extruder name, or "".
func (a *Actuator) MotionQueue() string {
	return a.motionQueue
}

// Steppers returns the drive channels currently driven by this actuator,
// including a borrowed one during a linked session.
func (a *Actuator) Steppers() []*motion.Stepper {
	return a.steppers
}

// Rail returns the stepper group.
func (a *Actuator) Rail() *motion.Rail {
	return a.rail
}

// TrapQ returns the actuator's own motion queue.
func (a *Actuator) TrapQ() *motion.TrapQ {
	return a.trapq
}

// Endstop returns a named endstop.
func (a *Actuator) Endstop(name string) (*endstop.Endstop, bool) {
	return a.endstops.Get(name)
}

// EndstopNames returns the endstop names in configuration order.
func (a *Actuator) EndstopNames() []string {
	return a.endstops.Names()
}

// Velocity returns the default move speed.
func (a *Actuator) Velocity() float64 {
	return a.velocity
}

// Accel returns the default move acceleration.
func (a *Actuator) Accel() float64 {
	return a.accel
}

// CommandedPosition returns the commanded position of the first channel.
func (a *Actuator) CommandedPosition() float64 {
	return a.rail.GetCommandedPosition()
}

func (a *Actuator) owner() string {
	if a.borrowedBy != "" {
		return a.borrowedBy
	}
	return a.motionQueue
}

func (a *Actuator) conflict() error {
	if a.observer != nil {
		a.observer.BindingConflict(a.name)
	}
	a.log.Warn("rejected manual command while %s", a.Role())
	return hosterrors.BindingConflictError(a.name, a.owner())
}

func (a *Actuator) require(op capability) error {
	if !a.Role().Capabilities().allows(op) {
		return a.conflict()
	}
	return nil
}

func (a *Actuator) syncPrintTime() error {
	th := a.dir.Toolhead()
	printTime, err := th.GetLastMoveTime()
	if err != nil {
		return err
	}
	if a.nextCmdTime > printTime {
		return th.Dwell(a.nextCmdTime - printTime)
	}
	a.nextCmdTime = printTime
	return nil
}

// Enable switches the motor drivers on or off.
func (a *Actuator) Enable(enable bool) error {
	if err := a.require(capEnable); err != nil {
		return err
	}
	if err := a.syncPrintTime(); err != nil {
		return err
	}
	for _, s := range a.rail.Steppers() {
		s.SetEnabled(enable)
	}
	return nil
}

// SetPosition redefines the current position without moving.
func (a *Actuator) SetPosition(pos float64) error {
	if err := a.require(capSetPosition); err != nil {
		return err
	}
	return a.setPosition(pos)
}

func (a *Actuator) setPosition(pos float64) error {
	if err := a.dir.Toolhead().FlushStepGeneration(); err != nil {
		return err
	}
	a.trapq.SetPosition(0, motion.Coord{pos})
	a.rail.SetPosition(motion.Coord{pos})
	return nil
}

func (a *Actuator) submitMove(moveTime, movePos, speed, accel float64) float64 {
	cp := a.rail.GetCommandedPosition()
	dist := movePos - cp
	_, accelT, cruiseT, cruiseV := motion.CalcMoveTime(dist, speed, accel)
	a.trapq.Append(moveTime, accelT, cruiseT, accelT,
		motion.Coord{cp}, motion.Coord{movePos}, cruiseV)
	a.trapq.FinalizeMoves()
	a.log.Debug("move %.3f -> %.3f speed=%.3f accel=%.3f at %.6f", cp, movePos, speed, accel, moveTime)
	return moveTime + accelT + cruiseT + accelT
}

// Move drives to movePos on the actuator's own queue. With sync set the
// toolhead waits for the move to finish.
func (a *Actuator) Move(movePos, speed, accel float64, sync bool) error {
	if err := a.require(capMove); err != nil {
		return err
	}
	return a.move(movePos, speed, accel, sync)
}

func (a *Actuator) move(movePos, speed, accel float64, sync bool) error {
	if speed <= 0 {
		return hosterrors.RuntimeError(fmt.Sprintf("invalid speed %.3f for %s", speed, a.name))
	}
	if err := a.syncPrintTime(); err != nil {
		return err
	}
	a.nextCmdTime = a.submitMove(a.nextCmdTime, movePos, speed, accel)
	if sync {
		return a.syncPrintTime()
	}
	return nil
}

// HomingMove moves toward movePos until the default endstop changes state.
func (a *Actuator) HomingMove(movePos, speed, accel float64, triggered, checkTrigger bool) error {
	return a.HomingMoveEndstop(DefaultEndstop, movePos, speed, accel, triggered, checkTrigger)
}

// HomingMoveEndstop is HomingMove using a named endstop.
func (a *Actuator) HomingMoveEndstop(name string, movePos, speed, accel float64, triggered, checkTrigger bool) error {
	if err := a.require(capHome); err != nil {
		return err
	}
	return a.homingMove(name, movePos, speed, accel, triggered, checkTrigger)
}

func (a *Actuator) homingMove(name string, movePos, speed, accel float64, triggered, checkTrigger bool) error {
	if a.endstops.Len() == 0 {
		return hosterrors.HomingError("No endstop for this manual stepper").SetSection(a.name)
	}
	if name == "" {
		name = DefaultEndstop
	}
	es, ok := a.endstops.Get(name)
	if !ok {
		return hosterrors.EndstopNotFoundError(a.name, name)
	}
	if speed <= 0 {
		return hosterrors.RuntimeError(fmt.Sprintf("invalid speed %.3f for %s", speed, a.name))
	}
	if err := a.syncPrintTime(); err != nil {
		return err
	}

	start := a.rail.GetCommandedPosition()
	direction := 1
	if movePos < start {
		direction = -1
	}
	if err := es.StartHoming(direction); err != nil {
		return hosterrors.Wrap(err, hosterrors.ErrRuntimeHoming, "homing "+a.name)
	}
	defer es.StopHoming()

	var stopAt float64
	var hit bool
	if triggered {
		stopAt, hit = es.CheckMove(start, movePos)
	} else {
		stopAt, hit = es.CheckRelease(start, movePos, a.rail.Steppers()[0].StepDist())
	}
	if !hit {
		stopAt = movePos
	}
	a.nextCmdTime = a.submitMove(a.nextCmdTime, stopAt, speed, accel)
	if hit {
		for _, s := range a.rail.Steppers() {
			if es.HasStepper(s) {
				a.triggerSteps[s.Name()] = s.MCUPosition()
			}
		}
		if triggered {
			es.HandleTrigger(stopAt)
		} else {
			es.Reset()
		}
	}
	if err := a.syncPrintTime(); err != nil {
		return err
	}
	if !hit && checkTrigger {
		if triggered {
			return hosterrors.HomingError(fmt.Sprintf("No trigger on %s after full movement", a.name)).SetSection(a.name)
		}
		return hosterrors.HomingError(fmt.Sprintf("Endstop %s still triggered after retract", name)).SetSection(a.name)
	}
	return nil
}

// TriggerSteps returns the step counts recorded for each stepper in the
// endstop trigger group at the last trigger.
func (a *Actuator) TriggerSteps() map[string]int64 {
	out := make(map[string]int64, len(a.triggerSteps))
	for k, v := range a.triggerSteps {
		out[k] = v
	}
	return out
}

// Bind attaches the actuator to the named extruder queue, or detaches it
// when queue is empty.
func (a *Actuator) Bind(queue string) error {
	if a.borrowedBy != "" {
		return a.conflict()
	}
	if a.gcodeAxis != "" {
		return hosterrors.RuntimeError(fmt.Sprintf("%s must unregister GCODE_AXIS %s first", a.name, a.gcodeAxis)).
			SetSection(a.name)
	}
	return a.bind(queue)
}

func (a *Actuator) bind(queue string) error {
	th := a.dir.Toolhead()
	if queue == "" {
		if err := th.FlushStepGeneration(); err != nil {
			return err
		}
		a.setManualKinematics()
		a.motionQueue = ""
		return nil
	}

	ext, ok := a.dir.LookupExtruder(queue)
	if !ok {
		reason := "is not found"
		if _, isActuator := a.dir.LookupActuator(queue); isActuator {
			reason = "is not an extruder"
		}
		return hosterrors.TargetNotFoundError("Extruder", queue, reason)
	}
	if err := th.FlushStepGeneration(); err != nil {
		return err
	}
	for i, s := range a.ownSteppers {
		s.SetStepperKinematics(a.extruderSKs[i])
	}
	a.rail.SetPosition(motion.Coord{ext.LastPosition()})
	a.rail.SetTrapQ(ext.GetTrapQ())
	a.motionQueue = queue
	a.log.Info("now syncing with %s", queue)
	return nil
}

func (a *Actuator) setManualKinematics() {
	for i, s := range a.ownSteppers {
		s.SetStepperKinematics(a.ownSKs[i])
	}
	a.rail.SetTrapQ(a.trapq)
}

// RotationDistance returns the signed rotation distance relative to the
// configured direction.
func (a *Actuator) RotationDistance() float64 {
	return a.ownSteppers[0].RotationDistance() * a.rdSign
}

// SetRotationDistance changes the rotation distance of every channel. A
// negative value reverses the configured direction.
func (a *Actuator) SetRotationDistance(rd float64) error {
	if rd == 0 || math.IsNaN(rd) || math.IsInf(rd, 0) {
		return hosterrors.RuntimeError("Rotation distance can not be zero").SetSection(a.name)
	}
	if err := a.dir.Toolhead().FlushStepGeneration(); err != nil {
		return err
	}
	for _, s := range a.ownSteppers {
		if err := s.SetRotationDistance(rd * a.rdSign); err != nil {
			return err
		}
	}
	return nil
}

// SetPressureAdvance updates the pressure advance used while synced.
func (a *Actuator) SetPressureAdvance(advance, smoothTime float64) error {
	if advance < 0 {
		return hosterrors.RuntimeError("pressure_advance must not be negative").SetSection(a.name)
	}
	if smoothTime < 0 || smoothTime > 0.200 {
		return hosterrors.RuntimeError("pressure_advance_smooth_time must be between 0 and 0.2").SetSection(a.name)
	}
	if err := a.dir.Toolhead().FlushStepGeneration(); err != nil {
		return err
	}
	a.pressureAdvance = advance
	a.smoothTime = smoothTime
	for _, sk := range a.extruderSKs {
		sk.SetPressureAdvance(advance, smoothTime)
	}
	return nil
}

// PressureAdvance returns the configured pressure advance and smooth time.
func (a *Actuator) PressureAdvance() (float64, float64) {
	return a.pressureAdvance, a.smoothTime
}

func (a *Actuator) checkBounds(pos float64) error {
	if a.posMin != nil && pos < *a.posMin {
		return hosterrors.RuntimeError(fmt.Sprintf("Move out of range: %.3f < min %.3f", pos, *a.posMin)).SetSection(a.name)
	}
	if a.posMax != nil && pos > *a.posMax {
		return hosterrors.RuntimeError(fmt.Sprintf("Move out of range: %.3f > max %.3f", pos, *a.posMax)).SetSection(a.name)
	}
	return nil
}

// GetStatus returns the actuator status.
func (a *Actuator) GetStatus() map[string]any {
	var mq any
	if a.motionQueue != "" {
		mq = a.motionQueue
	}
	endstops := make(map[string]any, a.endstops.Len())
	for _, name := range a.endstops.Names() {
		es, _ := a.endstops.Get(name)
		st := es.GetStatus()
		entry := map[string]any{
			"pin":           st.Pin,
			"state":         st.State,
			"homing":        st.IsHoming,
			"steppers":      st.Steppers,
			"trigger_count": st.TriggerCount,
		}
		if st.TriggerCount > 0 {
			_, pos := es.GetLastTrigger()
			entry["last_trigger_position"] = pos
		}
		endstops[name] = entry
	}
	status := map[string]any{
		"position":          a.CommandedPosition(),
		"motion_queue":      mq,
		"role":              a.Role().String(),
		"rotation_distance": a.RotationDistance(),
		"pressure_advance":  a.pressureAdvance,
		"smooth_time":       a.smoothTime,
		"enabled":           a.ownSteppers[0].IsEnabled(),
		"endstops":          endstops,
		"endstop_triggered": a.endstops.AnyTriggered(),
	}
	if a.borrowedBy != "" {
		status["borrowed_by"] = a.borrowedBy
	}
	if a.gcodeAxis != "" {
		status["gcode_axis"] = a.gcodeAxis
		status["gcode_axis_limits"] = a.axisLimits.status()
	}
	return status
}
