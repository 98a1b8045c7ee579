// Trapezoidal motion queue
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package motion holds the in-process motion collaborators used by the
// purge belt host: motion queues, stepper kinematics, steppers, rails,
// extruders and the toolhead. Step generation is modelled, not timed; a
// queued move immediately advances every stepper attached to its queue.
package motion

import (
	"fmt"
	"math"
)

// Coord is a queued cartesian position. Extruder and manual queues only
// use the first component.
type Coord [3]float64

// Move is one queued trapezoidal move.
type Move struct {
	PrintTime float64
	AccelT    float64
	CruiseT   float64
	DecelT    float64
	Start     Coord
	End       Coord
	CruiseV   float64
}

// Duration returns the total move time.
func (m Move) Duration() float64 {
	return m.AccelT + m.CruiseT + m.DecelT
}

// TrapQ is a motion queue. Steppers attach to a queue through SetTrapQ
// and follow every move appended to it.
type TrapQ struct {
	name     string
	steppers []*Stepper
	moves    []Move
	position Coord
	lastTime float64
}

// NewTrapQ allocates a named motion queue.
func NewTrapQ(name string) *TrapQ {
	return &TrapQ{name: name}
}

// Name returns the queue name.
func (tq *TrapQ) Name() string {
	return tq.name
}

func (tq *TrapQ) String() string {
	return fmt.Sprintf("trapq(%s)", tq.name)
}

func (tq *TrapQ) attach(s *Stepper) {
	for _, cur := range tq.steppers {
		if cur == s {
			return
		}
	}
	tq.steppers = append(tq.steppers, s)
}

func (tq *TrapQ) detach(s *Stepper) {
	for i, cur := range tq.steppers {
		if cur == s {
			tq.steppers = append(tq.steppers[:i:i], tq.steppers[i+1:]...)
			return
		}
	}
}

// Steppers returns the steppers currently following this queue.
func (tq *TrapQ) Steppers() []*Stepper {
	return append([]*Stepper(nil), tq.steppers...)
}

// Append queues a move and advances the attached steppers to its end.
func (tq *TrapQ) Append(printTime, accelT, cruiseT, decelT float64, start, end Coord, cruiseV float64) {
	mv := Move{
		PrintTime: printTime,
		AccelT:    accelT,
		CruiseT:   cruiseT,
		DecelT:    decelT,
		Start:     start,
		End:       end,
		CruiseV:   cruiseV,
	}
	tq.moves = append(tq.moves, mv)
	tq.position = end
	if t := printTime + mv.Duration(); t > tq.lastTime {
		tq.lastTime = t
	}
	for _, s := range tq.steppers {
		s.follow(end)
	}
}

// SetPosition resets the queue position without generating motion.
func (tq *TrapQ) SetPosition(printTime float64, pos Coord) {
	tq.position = pos
	if printTime > tq.lastTime {
		tq.lastTime = printTime
	}
}

// Position returns the end position of the last queued move.
func (tq *TrapQ) Position() Coord {
	return tq.position
}

// LastMoveTime returns the print time at which queued motion completes.
func (tq *TrapQ) LastMoveTime() float64 {
	return tq.lastTime
}

// Moves returns a copy of the queued move history.
func (tq *TrapQ) Moves() []Move {
	return append([]Move(nil), tq.moves...)
}

// FinalizeMoves drops the move history once it has been flushed.
func (tq *TrapQ) FinalizeMoves() {
	tq.moves = tq.moves[:0]
}

// CalcMoveTime computes the trapezoid for a single axis move of dist at
// speed with a symmetric accel/decel. Zero accel means constant velocity.
func CalcMoveTime(dist, speed, accel float64) (axisR, accelT, cruiseT, cruiseV float64) {
	axisR = 1.0
	if dist < 0 {
		axisR = -1.0
		dist = -dist
	}
	if accel == 0 || dist == 0 {
		return axisR, 0.0, dist / speed, speed
	}
	maxCruiseV2 := dist * accel
	if maxCruiseV2 < speed*speed {
		speed = math.Sqrt(maxCruiseV2)
	}
	accelT = speed / accel
	accelDecelD := accelT * speed
	cruiseT = (dist - accelDecelD) / speed
	return axisR, accelT, cruiseT, speed
}
