package actuator

import (
	"fmt"
	"strings"

	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/motion"
)

type axisLimits struct {
	instantCornerV float64
	velocity       float64
	accel          float64
}

// GCodeAxis returns the toolhead letter this actuator is registered as.
func (a *Actuator) GCodeAxis() string {
	return a.gcodeAxis
}

// RegisterGCodeAxis exposes the actuator as an extra toolhead coordinate.
// letter "AUTO" takes the first free letter.
func (a *Actuator) RegisterGCodeAxis(letter string, instantCornerV, limitVelocity, limitAccel float64) (string, error) {
	if a.axes == nil {
		return "", hosterrors.RuntimeError("GCODE_AXIS is not available").SetSection(a.name)
	}
	if a.gcodeAxis != "" {
		return "", hosterrors.RuntimeError(fmt.Sprintf("%s must unregister axis %s first", a.name, a.gcodeAxis)).
			SetSection(a.name)
	}
	if a.Role() != RoleFree {
		return "", a.conflict()
	}

	var err error
	letter = strings.ToUpper(letter)
	if letter == "AUTO" {
		letter, err = a.axes.Allocate(a.name)
	} else {
		err = a.axes.Reserve(letter, a.name)
	}
	if err != nil {
		return "", err
	}
	if err := a.syncPrintTime(); err != nil {
		a.axes.Free(letter)
		return "", err
	}
	if err := a.dir.Toolhead().AddExtraAxis(letter, a); err != nil {
		a.axes.Free(letter)
		return "", hosterrors.Wrap(err, hosterrors.ErrRuntime, "register axis "+letter).SetSection(a.name)
	}
	a.gcodeAxis = letter
	a.axisLimits = axisLimits{instantCornerV: instantCornerV, velocity: limitVelocity, accel: limitAccel}
	a.log.Info("registered as gcode axis %s", letter)
	return letter, nil
}

// UnregisterGCodeAxis removes the toolhead coordinate. It is a no-op when
// the actuator is not registered.
func (a *Actuator) UnregisterGCodeAxis() error {
	if a.gcodeAxis == "" {
		return nil
	}
	letter := a.gcodeAxis
	if err := a.dir.Toolhead().RemoveExtraAxis(letter); err != nil {
		return hosterrors.Wrap(err, hosterrors.ErrRuntime, "unregister axis "+letter).SetSection(a.name)
	}
	a.axes.Free(letter)
	a.gcodeAxis = ""
	a.axisLimits = axisLimits{}
	a.log.Info("unregistered gcode axis %s", letter)
	return a.syncPrintTime()
}

// ProcessMove queues a toolhead move of the registered axis on the
// actuator's own queue.
func (a *Actuator) ProcessMove(printTime, accelT, cruiseT, decelT, start, end, cruiseV float64) {
	a.trapq.Append(printTime, accelT, cruiseT, decelT, motion.Coord{start}, motion.Coord{end}, cruiseV)
	a.trapq.FinalizeMoves()
}

// AxisLimits returns LIMIT_VELOCITY and LIMIT_ACCEL of the registered axis.
func (a *Actuator) AxisLimits() (velocity, accel float64) {
	return a.axisLimits.velocity, a.axisLimits.accel
}

func (l axisLimits) status() map[string]any {
	return map[string]any{
		"instantaneous_corner_velocity": l.instantCornerV,
		"limit_velocity":                l.velocity,
		"limit_accel":                   l.accel,
	}
}

var _ motion.ExtraAxis = (*Actuator)(nil)
