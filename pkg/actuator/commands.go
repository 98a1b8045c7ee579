package actuator

import (
	"fmt"

	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/gcode"
)

const (
	cmdManualStepperHelp       = "Command a manually configured stepper"
	cmdLinkedMoveHelp          = "Command a manually configured stepper with a linked extruder or stepper"
	cmdSetPressureAdvanceHelp  = "Set pressure advance parameters"
	cmdSetRotationDistanceHelp = "Set extruder rotation distance"
	cmdSyncExtruderMotionHelp  = "Set extruder stepper motion queue"
)

// RegisterCommands adds the actuator's mux commands to d.
func (a *Actuator) RegisterCommands(d *gcode.Dispatcher) error {
	regs := []struct {
		cmd, key string
		fn       gcode.Handler
		desc     string
	}{
		{"MANUAL_STEPPER", "STEPPER", a.cmdManualStepper, cmdManualStepperHelp},
		{"LINKED_ACTUATOR_MOVE", "STEPPER", a.cmdLinkedActuatorMove, cmdLinkedMoveHelp},
		{"MANUAL_EXTRUDER_STEPPER", "STEPPER", a.cmdLinkedActuatorMove, cmdLinkedMoveHelp},
		{"SET_PRESSURE_ADVANCE", "EXTRUDER", a.cmdSetPressureAdvance, cmdSetPressureAdvanceHelp},
		{"SET_EXTRUDER_ROTATION_DISTANCE", "EXTRUDER", a.cmdSetRotationDistance, cmdSetRotationDistanceHelp},
		{"SYNC_EXTRUDER_MOTION", "EXTRUDER", a.cmdSyncExtruderMotion, cmdSyncExtruderMotionHelp},
	}
	for _, r := range regs {
		if err := d.RegisterMux(r.cmd, r.key, a.name, r.fn, r.desc); err != nil {
			return err
		}
	}
	return nil
}

type moveArgs struct {
	speed, accel float64
	homing       int
	movePos      *float64
	sync         int
}

// parseMoveArgs handles the parameters shared by MANUAL_STEPPER and the
// linked move command. ENABLE and SET_POSITION are applied immediately.
func (a *Actuator) parseMoveArgs(cmd *gcode.Command) (moveArgs, error) {
	var args moveArgs
	enable, err := cmd.GetIntPtr("ENABLE", gcode.NoBounds)
	if err != nil {
		return args, err
	}
	if enable != nil {
		if err := a.Enable(*enable != 0); err != nil {
			return args, err
		}
	}
	setPos, err := cmd.GetFloatPtr("SET_POSITION", gcode.NoBounds)
	if err != nil {
		return args, err
	}
	if setPos != nil {
		if err := a.SetPosition(*setPos); err != nil {
			return args, err
		}
	}
	if args.speed, err = cmd.GetFloat("SPEED", a.velocity, gcode.Above(0)); err != nil {
		return args, err
	}
	if args.accel, err = cmd.GetFloat("ACCEL", a.accel, gcode.MinVal(0)); err != nil {
		return args, err
	}
	if args.homing, err = cmd.GetInt("STOP_ON_ENDSTOP", 0, gcode.Range(-2, 2)); err != nil {
		return args, err
	}
	if args.homing != 0 {
		move, err := cmd.RequireFloat("MOVE", gcode.NoBounds)
		if err != nil {
			return args, err
		}
		args.movePos = &move
	} else if args.movePos, err = cmd.GetFloatPtr("MOVE", gcode.NoBounds); err != nil {
		return args, err
	}
	if args.movePos != nil {
		if err := a.checkBounds(*args.movePos); err != nil {
			return args, err
		}
	}
	syncDefault := 0
	if args.movePos != nil {
		syncDefault = 1
	}
	if args.sync, err = cmd.GetInt("SYNC", syncDefault, gcode.NoBounds); err != nil {
		return args, err
	}
	return args, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (a *Actuator) cmdManualStepper(cmd *gcode.Command) error {
	if cmd.Has("GCODE_AXIS") {
		return a.cmdGCodeAxis(cmd)
	}
	if a.gcodeAxis != "" {
		return hosterrors.RuntimeError("Must unregister from gcode axis first").SetSection(a.name)
	}
	if a.Role() != RoleFree {
		return a.conflict()
	}
	args, err := a.parseMoveArgs(cmd)
	if err != nil {
		return err
	}
	switch {
	case args.homing != 0:
		endstopName := cmd.Get("ENDSTOP", DefaultEndstop)
		return a.HomingMoveEndstop(endstopName, *args.movePos, args.speed, args.accel,
			args.homing > 0, abs(args.homing) == 1)
	case args.movePos != nil:
		return a.Move(*args.movePos, args.speed, args.accel, args.sync != 0)
	case args.sync != 0:
		return a.syncPrintTime()
	}
	return nil
}

func (a *Actuator) cmdGCodeAxis(cmd *gcode.Command) error {
	icv, err := cmd.GetFloat("INSTANTANEOUS_CORNER_VELOCITY", 1, gcode.MinVal(0))
	if err != nil {
		return err
	}
	limitV, err := cmd.GetFloat("LIMIT_VELOCITY", 999999.9, gcode.Above(0))
	if err != nil {
		return err
	}
	limitA, err := cmd.GetFloat("LIMIT_ACCEL", 999999.9, gcode.Above(0))
	if err != nil {
		return err
	}
	letter := cmd.Get("GCODE_AXIS", "")
	if letter == "" {
		return a.UnregisterGCodeAxis()
	}
	got, err := a.RegisterGCodeAxis(letter, icv, limitV, limitA)
	if err != nil {
		return err
	}
	cmd.RespondInfo(fmt.Sprintf("Stepper '%s' registered as axis %s", a.name, got))
	return nil
}

func (a *Actuator) cmdLinkedActuatorMove(cmd *gcode.Command) error {
	if a.Role() != RoleFree {
		return a.conflict()
	}
	if a.gcodeAxis != "" {
		return hosterrors.RuntimeError("Must unregister from gcode axis first").SetSection(a.name)
	}
	extruderName := cmd.Get("EXTRUDER", "extruder")
	linkedStepper := cmd.Get("LINKED_STEPPER", "")
	endstopName := cmd.Get("ENDSTOP", DefaultEndstop)
	if cmd.Has("LINKED_STEPPER") && linkedStepper == "" {
		return hosterrors.RuntimeError("Linked stepper name must be provided").SetSection(a.name)
	}

	args, err := a.parseMoveArgs(cmd)
	if err != nil {
		return err
	}
	switch {
	case args.homing != 0:
		triggered, check := args.homing > 0, abs(args.homing) == 1
		if linkedStepper != "" {
			return a.LinkedActuatorHomingMove(linkedStepper, endstopName, *args.movePos,
				args.speed, args.accel, triggered, check)
		}
		return a.LinkedHomingMove(extruderName, endstopName, *args.movePos,
			args.speed, args.accel, triggered, check)
	case args.movePos != nil:
		if linkedStepper != "" {
			return a.LinkedActuatorMove(linkedStepper, *args.movePos, args.speed, args.accel, args.sync != 0)
		}
		return a.LinkedMove(extruderName, *args.movePos, args.speed, args.accel, args.sync != 0)
	case args.sync != 0:
		return a.syncPrintTime()
	}
	return nil
}

func (a *Actuator) cmdSetPressureAdvance(cmd *gcode.Command) error {
	pa, st := a.PressureAdvance()
	advance, err := cmd.GetFloat("ADVANCE", pa, gcode.MinVal(0))
	if err != nil {
		return err
	}
	smooth, err := cmd.GetFloat("SMOOTH_TIME", st, gcode.Range(0, 0.200))
	if err != nil {
		return err
	}
	if err := a.SetPressureAdvance(advance, smooth); err != nil {
		return err
	}
	cmd.RespondInfo(fmt.Sprintf("pressure_advance: %.6f\npressure_advance_smooth_time: %.6f", advance, smooth))
	return nil
}

func (a *Actuator) cmdSetRotationDistance(cmd *gcode.Command) error {
	rd, err := cmd.GetFloatPtr("DISTANCE", gcode.NoBounds)
	if err != nil {
		return err
	}
	if rd != nil {
		if err := a.SetRotationDistance(*rd); err != nil {
			return err
		}
		cmd.RespondInfo(fmt.Sprintf("Extruder '%s' rotation distance set to %0.6f", a.name, a.RotationDistance()))
		return nil
	}
	cmd.RespondInfo(fmt.Sprintf("Extruder '%s' rotation distance is %0.6f", a.name, a.RotationDistance()))
	return nil
}

func (a *Actuator) cmdSyncExtruderMotion(cmd *gcode.Command) error {
	queue, err := cmd.Require("MOTION_QUEUE")
	if err != nil {
		return err
	}
	if err := a.Bind(queue); err != nil {
		return err
	}
	if queue == "" {
		cmd.RespondInfo(fmt.Sprintf("Extruder '%s' now unsynced", a.name))
		return nil
	}
	cmd.RespondInfo(fmt.Sprintf("Extruder '%s' now syncing with '%s'", a.name, queue))
	return nil
}
