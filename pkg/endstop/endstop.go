// Package endstop provides endstops with trigger groups. Steppers added to
// an endstop stop together when it triggers during a homing move.
package endstop

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"
)

// Common errors
var (
	ErrAlreadyHoming = errors.New("endstop: homing already in progress")
	ErrNotHoming     = errors.New("endstop: not in homing state")
)

// EndstopState represents the current state of an endstop.
type EndstopState int

const (
	StateOpen EndstopState = iota
	StateTriggered
	StateUnknown
)

func (s EndstopState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Stepper is a member of an endstop trigger group.
type Stepper interface {
	Name() string
}

// Endstop represents a single endstop switch.
type Endstop struct {
	mu sync.RWMutex

	// Configuration
	name     string
	pin      string
	pullUp   bool
	inverted bool

	// State
	state          EndstopState
	lastTrigger    time.Time
	lastTriggerPos float64
	triggerCount   int

	// Trigger group
	steppers []Stepper

	// Simulated switch position, in the homing actuator's coordinates
	triggerPos *float64

	// Homing state
	homing    bool
	homingDir int // 1 or -1

	onTrigger func(pos float64)
}

// EndstopConfig holds configuration for an endstop.
type EndstopConfig struct {
	Name     string
	Pin      string
	PullUp   bool
	Inverted bool
}

// DefaultEndstopConfig returns a default endstop configuration.
func DefaultEndstopConfig() EndstopConfig {
	return EndstopConfig{
		Name:   "default",
		PullUp: true,
	}
}

// ParsePin splits a pin description such as "^!PG10" into the pin
// name and its pull-up and invert modifiers.
func ParsePin(desc string) (pin string, pullUp, inverted bool) {
	pin = strings.TrimSpace(desc)
	for len(pin) > 0 {
		switch pin[0] {
		case '^':
			pullUp = true
		case '!':
			inverted = !inverted
		case '~':
			// pull-down, not modelled
		default:
			return pin, pullUp, inverted
		}
		pin = strings.TrimSpace(pin[1:])
	}
	return pin, pullUp, inverted
}

// FromPin builds an endstop configuration from a pin description.
func FromPin(name, desc string) EndstopConfig {
	pin, pullUp, inverted := ParsePin(desc)
	return EndstopConfig{Name: name, Pin: pin, PullUp: pullUp, Inverted: inverted}
}

// New creates a new endstop.
func New(cfg EndstopConfig) *Endstop {
	return &Endstop{
		name:     cfg.Name,
		pin:      cfg.Pin,
		pullUp:   cfg.PullUp,
		inverted: cfg.Inverted,
		state:    StateUnknown,
	}
}

// SetTriggerCallback sets the callback for when the endstop triggers.
func (e *Endstop) SetTriggerCallback(fn func(pos float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrigger = fn
}

// AddStepper adds a stepper to the trigger group. Adding a stepper that
// is already a member is a no-op.
func (e *Endstop) AddStepper(s Stepper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cur := range e.steppers {
		if cur == s {
			return
		}
	}
	e.steppers = append(e.steppers, s)
}

// RemoveStepper removes a stepper from the trigger group and reports
// whether it was a member.
func (e *Endstop) RemoveStepper(s Stepper) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.steppers {
		if cur == s {
			e.steppers = append(e.steppers[:i:i], e.steppers[i+1:]...)
			return true
		}
	}
	return false
}

// HasStepper reports whether s is in the trigger group.
func (e *Endstop) HasStepper(s Stepper) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cur := range e.steppers {
		if cur == s {
			return true
		}
	}
	return false
}

// GetSteppers returns a copy of the trigger group.
func (e *Endstop) GetSteppers() []Stepper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Stepper(nil), e.steppers...)
}

// SetTriggerPosition places the simulated switch at pos.
func (e *Endstop) SetTriggerPosition(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggerPos = &pos
}

// ClearTriggerPosition removes the simulated switch.
func (e *Endstop) ClearTriggerPosition() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggerPos = nil
}

// TriggerPosition returns the simulated switch position.
func (e *Endstop) TriggerPosition() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.triggerPos == nil {
		return 0, false
	}
	return *e.triggerPos, true
}

// CheckMove returns where a move from start to end crosses the switch.
// A switch sitting exactly at the start position does not count.
func (e *Endstop) CheckMove(start, end float64) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.triggerPos == nil || start == end {
		return 0, false
	}
	t := *e.triggerPos
	if t == start {
		return 0, false
	}
	if math.Min(start, end) <= t && t <= math.Max(start, end) {
		return t, true
	}
	return 0, false
}

// CheckRelease returns where a move from start to end releases the switch.
// The switch reads pressed only at its trigger position, so a move leaving
// it releases one stepDist later. An open switch releases at start.
func (e *Endstop) CheckRelease(start, end, stepDist float64) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.triggerPos == nil || *e.triggerPos != start {
		return start, true
	}
	if start == end {
		return 0, false
	}
	if end > start {
		return math.Min(start+stepDist, end), true
	}
	return math.Max(start-stepDist, end), true
}

// HandleTrigger records a trigger at pos.
func (e *Endstop) HandleTrigger(pos float64) {
	e.mu.Lock()
	e.state = StateTriggered
	e.lastTrigger = time.Now()
	e.lastTriggerPos = pos
	e.triggerCount++
	callback := e.onTrigger
	e.mu.Unlock()

	if callback != nil {
		callback(pos)
	}
}

// Reset returns the endstop to the open state.
func (e *Endstop) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateOpen
}

// GetState returns the last known state.
func (e *Endstop) GetState() EndstopState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetName returns the endstop name.
func (e *Endstop) GetName() string {
	return e.name
}

// GetPin returns the pin name.
func (e *Endstop) GetPin() string {
	return e.pin
}

// IsTriggered returns true if the endstop is currently triggered.
func (e *Endstop) IsTriggered() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateTriggered
}

// StartHoming arms the endstop for a homing move in direction (1 or -1).
func (e *Endstop) StartHoming(direction int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.homing {
		return ErrAlreadyHoming
	}
	e.homing = true
	e.homingDir = direction
	e.state = StateOpen
	return nil
}

// StopHoming disarms the endstop.
func (e *Endstop) StopHoming() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.homing = false
}

// IsHoming returns true if homing is active.
func (e *Endstop) IsHoming() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.homing
}

// GetLastTrigger returns the time and position of the last trigger.
func (e *Endstop) GetLastTrigger() (time.Time, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTrigger, e.lastTriggerPos
}

// Status holds endstop status information.
type Status struct {
	Name         string
	Pin          string
	State        string
	IsTriggered  bool
	IsHoming     bool
	Steppers     []string
	TriggerCount int
	LastTrigger  time.Time
}

// GetStatus returns the current endstop status.
func (e *Endstop) GetStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.steppers))
	for i, s := range e.steppers {
		names[i] = s.Name()
	}
	return Status{
		Name:         e.name,
		Pin:          e.pin,
		State:        e.state.String(),
		IsTriggered:  e.state == StateTriggered,
		IsHoming:     e.homing,
		Steppers:     names,
		TriggerCount: e.triggerCount,
		LastTrigger:  e.lastTrigger,
	}
}

// EndstopGroup holds the named endstops of one actuator.
type EndstopGroup struct {
	mu       sync.RWMutex
	name     string
	order    []string
	endstops map[string]*Endstop
}

// NewEndstopGroup creates a new endstop group.
func NewEndstopGroup(name string) *EndstopGroup {
	return &EndstopGroup{
		name:     name,
		endstops: make(map[string]*Endstop),
	}
}

// Add adds an endstop to the group, replacing one with the same name.
func (g *EndstopGroup) Add(e *Endstop) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.endstops[e.GetName()]; !ok {
		g.order = append(g.order, e.GetName())
	}
	g.endstops[e.GetName()] = e
}

// Get returns the named endstop.
func (g *EndstopGroup) Get(name string) (*Endstop, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.endstops[name]
	return e, ok
}

// Names returns the endstop names in the order they were added.
func (g *EndstopGroup) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Len returns the number of endstops.
func (g *EndstopGroup) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// AnyTriggered returns true if any endstop in the group is triggered.
func (g *EndstopGroup) AnyTriggered() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.endstops {
		if e.IsTriggered() {
			return true
		}
	}
	return false
}
