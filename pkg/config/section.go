package config

import (
	"strconv"
	"strings"
	"sync"
)

// Section is one [name] block. Every option looked up through it is
// recorded, so options nobody read can be reported as typos.
type Section struct {
	name    string
	options map[string]string

	mu   sync.RWMutex
	read map[string]bool
}

func newSection(name string, options map[string]string) *Section {
	s := &Section{
		name:    name,
		options: make(map[string]string, len(options)),
		read:    make(map[string]bool),
	}
	for k, v := range options {
		s.options[strings.ToLower(k)] = v
	}
	return s
}

// GetName returns the full section name.
func (s *Section) GetName() string {
	return s.name
}

// ShortName returns the last word of the section name, so
// "manual_extruder_stepper purge_belt_stepper" yields "purge_belt_stepper".
func (s *Section) ShortName() string {
	fields := strings.Fields(s.name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// raw returns the option text and records the lookup.
func (s *Section) raw(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.read[key] = true
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// GetUnusedOptions lists the options that were never looked up.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var unused []string
	for opt := range s.options {
		if !s.read[opt] {
			unused = append(unused, opt)
		}
	}
	return unused
}

// HasOption reports whether option is present, without recording a lookup.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// typed looks up option and converts it with parse. A missing option
// yields the first fallback, or a missing option error.
func typed[T any](s *Section, option string, parse func(string) (T, bool), expected string, fallback []T) (T, error) {
	var zero T
	v, ok := s.raw(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, ErrMissingOption(s.name, option)
	}
	out, ok := parse(strings.TrimSpace(v))
	if !ok {
		return zero, ErrInvalidValue(s.name, option, v, expected)
	}
	return out, nil
}

func parseString(v string) (string, bool) { return v, true }

func parseInt(v string) (int, bool) {
	i, err := strconv.Atoi(v)
	return i, err == nil
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return typed(s, option, parseString, "string", fallback)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return typed(s, option, parseInt, "integer", fallback)
}

// GetIntWithBounds returns an integer option limited to [minVal, maxVal];
// a nil bound is open.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && v < *minVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(*minVal))
	}
	if maxVal != nil && v > *maxVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have maximum of "+strconv.Itoa(*maxVal))
	}
	return v, nil
}

// GetFloat returns a float option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return typed(s, option, parseFloat, "float", fallback)
}

// FloatBounds limits a float option. Nil fields are not checked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

// Above requires a value strictly greater than v.
func Above(v float64) FloatBounds {
	return FloatBounds{Above: &v}
}

// MinVal requires a value of at least v.
func MinVal(v float64) FloatBounds {
	return FloatBounds{MinVal: &v}
}

// GetFloatWithBounds returns a float option checked against bounds.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	return v, bounds.check(s.name, option, v)
}

func (b FloatBounds) check(section, option string, v float64) error {
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case b.MinVal != nil && v < *b.MinVal:
		return ErrOutOfRange(section, option, v, "must have minimum of "+format(*b.MinVal))
	case b.MaxVal != nil && v > *b.MaxVal:
		return ErrOutOfRange(section, option, v, "must have maximum of "+format(*b.MaxVal))
	case b.Above != nil && v <= *b.Above:
		return ErrOutOfRange(section, option, v, "must be above "+format(*b.Above))
	case b.Below != nil && v >= *b.Below:
		return ErrOutOfRange(section, option, v, "must be below "+format(*b.Below))
	}
	return nil
}

// GetBool returns a boolean option: 1/true/yes/on or 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	return typed(s, option, parseBool, "boolean (true/false/yes/no/on/off/1/0)", fallback)
}

// GetChoice returns a string option that must be one of choices, compared
// without case.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// GetList splits an option on sep, dropping empty items.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	split := func(v string) ([]string, bool) {
		items := []string{}
		for _, p := range strings.Split(v, sep) {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, true
	}
	return typed(s, option, split, "list", fallback)
}

// GetMap parses a comma separated list of name=value pairs, keeping
// the order they were written in.
func (s *Section) GetMap(option string) ([]string, map[string]string, error) {
	items, err := s.GetList(option, ",", []string{})
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(items))
	result := make(map[string]string, len(items))
	for _, item := range items {
		kv := strings.SplitN(item, "=", 2)
		key := strings.TrimSpace(kv[0])
		if len(kv) != 2 || key == "" {
			return nil, nil, ErrInvalidValue(s.name, option, item, "name=value")
		}
		if _, dup := result[key]; dup {
			return nil, nil, NewConfigError(s.name, option, "duplicate entry '"+key+"'")
		}
		keys = append(keys, key)
		result[key] = strings.TrimSpace(kv[1])
	}
	return keys, result, nil
}
