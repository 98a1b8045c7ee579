// Toolhead motion queue coordination
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"io"
	"math"
	"sort"
)

// ExtraAxis is a coordinate registered on the toolhead beyond X Y Z E,
// for example a manual actuator exposed through GCODE_AXIS.
type ExtraAxis interface {
	CommandedPosition() float64
	ProcessMove(printTime, accelT, cruiseT, decelT, start, end, cruiseV float64)
	// AxisLimits returns the velocity and acceleration limits of the axis
	// alone. A move is slowed so the axis component stays within them.
	AxisLimits() (velocity, accel float64)
}

// ToolheadConfig holds [printer] limits.
type ToolheadConfig struct {
	MaxVelocity float64
	MaxAccel    float64
}

// DefaultToolheadConfig returns limits suitable for the simulated host.
func DefaultToolheadConfig() ToolheadConfig {
	return ToolheadConfig{MaxVelocity: 300, MaxAccel: 3000}
}

// Toolhead queues XYZ moves on its own trapq and extrusion on the active
// extruder queue.
type Toolhead struct {
	maxVelocity float64
	maxAccel    float64

	trapq        *TrapQ
	commandedPos [4]float64
	printTime    float64

	extruders map[string]*Extruder
	active    *Extruder

	extraAxes map[string]ExtraAxis
	extraPos  map[string]float64

	flushCount int
	trace      io.Writer
}

// NewToolhead creates a toolhead at the origin.
func NewToolhead(cfg ToolheadConfig) *Toolhead {
	if cfg.MaxVelocity <= 0 || cfg.MaxAccel <= 0 {
		cfg = DefaultToolheadConfig()
	}
	return &Toolhead{
		maxVelocity: cfg.MaxVelocity,
		maxAccel:    cfg.MaxAccel,
		trapq:       NewTrapQ("toolhead"),
		extruders:   make(map[string]*Extruder),
		extraAxes:   make(map[string]ExtraAxis),
		extraPos:    make(map[string]float64),
	}
}

// SetTrace enables move tracing.
func (th *Toolhead) SetTrace(w io.Writer) {
	th.trace = w
}

func (th *Toolhead) tracef(format string, args ...any) {
	if th.trace != nil {
		fmt.Fprintf(th.trace, format, args...)
	}
}

// GetTrapQ returns the XYZ queue.
func (th *Toolhead) GetTrapQ() *TrapQ {
	return th.trapq
}

// AddExtruder registers an extruder. The first one becomes active.
func (th *Toolhead) AddExtruder(e *Extruder) error {
	if _, ok := th.extruders[e.Name()]; ok {
		return fmt.Errorf("extruder %s already registered", e.Name())
	}
	th.extruders[e.Name()] = e
	if th.active == nil {
		th.active = e
	}
	return nil
}

// LookupExtruder returns the named extruder.
func (th *Toolhead) LookupExtruder(name string) (*Extruder, bool) {
	e, ok := th.extruders[name]
	return e, ok
}

// ExtruderNames returns the registered extruder names in sorted order.
func (th *Toolhead) ExtruderNames() []string {
	names := make([]string, 0, len(th.extruders))
	for n := range th.extruders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetExtruder returns the active extruder, or nil.
func (th *Toolhead) GetExtruder() *Extruder {
	return th.active
}

// SetActiveExtruder switches the extruder that receives E moves.
func (th *Toolhead) SetActiveExtruder(name string) error {
	e, ok := th.extruders[name]
	if !ok {
		return fmt.Errorf("extruder %s not found", name)
	}
	if err := th.FlushStepGeneration(); err != nil {
		return err
	}
	th.active = e
	th.commandedPos[3] = e.LastPosition()
	return nil
}

// AddExtraAxis registers a coordinate letter driven by axis.
func (th *Toolhead) AddExtraAxis(letter string, axis ExtraAxis) error {
	if _, ok := th.extraAxes[letter]; ok {
		return fmt.Errorf("axis %s already registered", letter)
	}
	if err := th.FlushStepGeneration(); err != nil {
		return err
	}
	th.extraAxes[letter] = axis
	th.extraPos[letter] = axis.CommandedPosition()
	return nil
}

// RemoveExtraAxis unregisters a coordinate letter.
func (th *Toolhead) RemoveExtraAxis(letter string) error {
	if _, ok := th.extraAxes[letter]; !ok {
		return fmt.Errorf("axis %s not registered", letter)
	}
	if err := th.FlushStepGeneration(); err != nil {
		return err
	}
	delete(th.extraAxes, letter)
	delete(th.extraPos, letter)
	return nil
}

// HasExtraAxis reports whether letter is registered.
func (th *Toolhead) HasExtraAxis(letter string) bool {
	_, ok := th.extraAxes[letter]
	return ok
}

// ExtraAxisPosition returns the commanded position of an extra axis.
func (th *Toolhead) ExtraAxisPosition(letter string) (float64, bool) {
	p, ok := th.extraPos[letter]
	return p, ok
}

// GetPosition returns the commanded X Y Z E position.
func (th *Toolhead) GetPosition() []float64 {
	return append([]float64(nil), th.commandedPos[:]...)
}

// SetPosition resets the commanded position without moving.
func (th *Toolhead) SetPosition(newPos []float64) error {
	if len(newPos) < 3 {
		return fmt.Errorf("setPosition requires xyz")
	}
	if err := th.FlushStepGeneration(); err != nil {
		return err
	}
	th.trapq.SetPosition(th.printTime, Coord{newPos[0], newPos[1], newPos[2]})
	copy(th.commandedPos[:], newPos)
	if len(newPos) > 3 && th.active != nil {
		th.active.setPosition(th.printTime, newPos[3])
	}
	return nil
}

// Move queues a move to newPos (X Y Z E) at speed mm/s.
func (th *Toolhead) Move(newPos []float64, speed float64) error {
	return th.MoveWithExtra(newPos, nil, speed)
}

// MoveWithExtra queues a move that may also drive registered extra axes.
func (th *Toolhead) MoveWithExtra(newPos []float64, extra map[string]float64, speed float64) error {
	if len(newPos) < 4 {
		return fmt.Errorf("move requires xyze")
	}
	if speed <= 0 {
		return fmt.Errorf("invalid move speed %.3f", speed)
	}
	for letter := range extra {
		if _, ok := th.extraAxes[letter]; !ok {
			return fmt.Errorf("unknown axis %s", letter)
		}
	}
	start := th.commandedPos
	var end [4]float64
	copy(end[:], newPos)

	dx, dy, dz := end[0]-start[0], end[1]-start[1], end[2]-start[2]
	de := end[3] - start[3]
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if dist == 0 {
		dist = math.Abs(de)
		for letter, pos := range extra {
			dist = math.Max(dist, math.Abs(pos-th.extraPos[letter]))
		}
	}
	if dist == 0 {
		return nil
	}
	if de != 0 && th.active == nil {
		return fmt.Errorf("extrude move without an active extruder")
	}
	speed = math.Min(speed, th.maxVelocity)
	accel := th.maxAccel
	for letter, pos := range extra {
		r := math.Abs(pos-th.extraPos[letter]) / dist
		if r == 0 {
			continue
		}
		limitV, limitA := th.extraAxes[letter].AxisLimits()
		if limitV > 0 {
			speed = math.Min(speed, limitV/r)
		}
		if limitA > 0 {
			accel = math.Min(accel, limitA/r)
		}
	}
	_, accelT, cruiseT, cruiseV := CalcMoveTime(dist, speed, accel)
	pt := th.printTime
	th.tracef("move %v -> %v speed=%.3f pt=%.6f\n", start, end, speed, pt)

	if dx != 0 || dy != 0 || dz != 0 {
		th.trapq.Append(pt, accelT, cruiseT, accelT,
			Coord{start[0], start[1], start[2]}, Coord{end[0], end[1], end[2]}, cruiseV)
	}
	if de != 0 {
		th.active.processMove(pt, accelT, cruiseT, accelT, start[3], end[3], cruiseV)
	}
	for letter, pos := range extra {
		if prev := th.extraPos[letter]; prev != pos {
			th.extraAxes[letter].ProcessMove(pt, accelT, cruiseT, accelT, prev, pos, cruiseV)
			th.extraPos[letter] = pos
		}
	}
	th.commandedPos = end
	th.printTime = pt + accelT + cruiseT + accelT
	return nil
}

// GetLastMoveTime returns the print time at which the next command may
// start.
func (th *Toolhead) GetLastMoveTime() (float64, error) {
	return th.printTime, nil
}

// Dwell advances print time by delay seconds.
func (th *Toolhead) Dwell(delay float64) error {
	if delay < 0 {
		delay = 0
	}
	th.tracef("dwell %.6f pt=%.6f\n", delay, th.printTime)
	th.printTime += delay
	return nil
}

// FlushStepGeneration finalizes every queued move.
func (th *Toolhead) FlushStepGeneration() error {
	th.flushCount++
	th.trapq.FinalizeMoves()
	for _, e := range th.extruders {
		e.trapq.FinalizeMoves()
	}
	return nil
}

// WaitMoves blocks until all queued motion has completed.
func (th *Toolhead) WaitMoves() error {
	th.tracef("wait_moves pt=%.6f\n", th.printTime)
	return th.FlushStepGeneration()
}

// FlushCount returns how many times step generation was flushed.
func (th *Toolhead) FlushCount() int {
	return th.flushCount
}

// PrintTime returns the current print time.
func (th *Toolhead) PrintTime() float64 {
	return th.printTime
}

// GetStatus returns the toolhead status.
func (th *Toolhead) GetStatus() map[string]any {
	status := map[string]any{
		"position":     append([]float64(nil), th.commandedPos[:]...),
		"print_time":   th.printTime,
		"max_velocity": th.maxVelocity,
		"max_accel":    th.maxAccel,
	}
	if th.active != nil {
		status["extruder"] = th.active.Name()
	}
	if len(th.extraPos) > 0 {
		extra := make(map[string]float64, len(th.extraPos))
		for k, v := range th.extraPos {
			extra[k] = v
		}
		status["extra_axes"] = extra
	}
	return status
}
