package actuator

import (
	"fmt"
	"sort"
	"sync"

	"purgebelt-go/pkg/motion"
)

// Toolhead is the part of the motion host an actuator schedules against.
type Toolhead interface {
	GetLastMoveTime() (float64, error)
	Dwell(delay float64) error
	FlushStepGeneration() error
	GetExtruder() *motion.Extruder
	AddExtraAxis(letter string, axis motion.ExtraAxis) error
	RemoveExtraAxis(letter string) error
}

// Directory resolves peer objects by name. It is injected at construction
// so every lookup failure surfaces as target-not-found.
type Directory interface {
	Toolhead() Toolhead
	LookupExtruder(name string) (*motion.Extruder, bool)
	LookupActuator(name string) (*Actuator, bool)
}

// Observer receives actuator events, typically for metrics.
type Observer interface {
	BindingConflict(actuator string)
	LinkSession(actuator, target string, err error)
}

// Registry is the default Directory backed by a motion toolhead.
type Registry struct {
	mu        sync.RWMutex
	toolhead  *motion.Toolhead
	actuators map[string]*Actuator
}

// NewRegistry creates a directory around th.
func NewRegistry(th *motion.Toolhead) *Registry {
	return &Registry{
		toolhead:  th,
		actuators: make(map[string]*Actuator),
	}
}

// Toolhead returns the toolhead.
func (r *Registry) Toolhead() Toolhead {
	return r.toolhead
}

// LookupExtruder resolves an extruder registered on the toolhead.
func (r *Registry) LookupExtruder(name string) (*motion.Extruder, bool) {
	return r.toolhead.LookupExtruder(name)
}

// Add registers an actuator.
func (r *Registry) Add(a *Actuator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actuators[a.Name()]; ok {
		return fmt.Errorf("actuator %s already registered", a.Name())
	}
	r.actuators[a.Name()] = a
	return nil
}

// LookupActuator resolves a manual actuator.
func (r *Registry) LookupActuator(name string) (*Actuator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actuators[name]
	return a, ok
}

// Actuators returns every registered actuator sorted by name.
func (r *Registry) Actuators() []*Actuator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Actuator, 0, len(r.actuators))
	for _, a := range r.actuators {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}
