package gcode

import (
	"strconv"
	"strings"

	hosterrors "purgebelt-go/pkg/errors"
)

// Command is one parsed g-code command being executed.
type Command struct {
	Name   string
	Params map[string]string
	Raw    string

	respond func(msg string)
}

// Bounds constrains a numeric parameter, following the config getfloat
// minval/maxval/above/below pattern.
type Bounds struct {
	MinVal *float64
	MaxVal *float64
	Above  *float64
	Below  *float64
}

// NoBounds accepts any value.
var NoBounds = Bounds{}

// Above requires a value strictly greater than v.
func Above(v float64) Bounds { return Bounds{Above: &v} }

// MinVal requires a value of at least v.
func MinVal(v float64) Bounds { return Bounds{MinVal: &v} }

// Range requires lo <= value <= hi.
func Range(lo, hi float64) Bounds { return Bounds{MinVal: &lo, MaxVal: &hi} }

func errMalformed(line, reason string) error {
	return hosterrors.GCodeParseError(strings.TrimSpace(line), reason)
}

// Has reports whether the parameter was given.
func (c *Command) Has(name string) bool {
	_, ok := c.Params[strings.ToUpper(name)]
	return ok
}

// Get returns a string parameter or def when absent.
func (c *Command) Get(name, def string) string {
	if v, ok := c.Params[strings.ToUpper(name)]; ok {
		return v
	}
	return def
}

// Require returns a string parameter that must be present.
func (c *Command) Require(name string) (string, error) {
	v, ok := c.Params[strings.ToUpper(name)]
	if !ok {
		return "", hosterrors.GCodeMissingParameterError(c.Name, strings.ToUpper(name))
	}
	return v, nil
}

func (c *Command) parseFloat(name, raw string, b Bounds) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, hosterrors.GCodeInvalidParameterError(c.Name, name, raw, "is not a valid number")
	}
	return f, c.check(name, raw, f, b)
}

func (c *Command) check(name, raw string, v float64, b Bounds) error {
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	reason := ""
	switch {
	case b.MinVal != nil && v < *b.MinVal:
		reason = "must have minimum of " + format(*b.MinVal)
	case b.MaxVal != nil && v > *b.MaxVal:
		reason = "must have maximum of " + format(*b.MaxVal)
	case b.Above != nil && v <= *b.Above:
		reason = "must be above " + format(*b.Above)
	case b.Below != nil && v >= *b.Below:
		reason = "must be below " + format(*b.Below)
	}
	if reason != "" {
		return hosterrors.GCodeInvalidParameterError(c.Name, name, raw, reason)
	}
	return nil
}

// GetFloat returns a float parameter, or def when absent. Only given
// values are bounds checked.
func (c *Command) GetFloat(name string, def float64, b Bounds) (float64, error) {
	name = strings.ToUpper(name)
	raw, ok := c.Params[name]
	if !ok {
		return def, nil
	}
	return c.parseFloat(name, raw, b)
}

// RequireFloat returns a float parameter that must be present.
func (c *Command) RequireFloat(name string, b Bounds) (float64, error) {
	name = strings.ToUpper(name)
	raw, ok := c.Params[name]
	if !ok {
		return 0, hosterrors.GCodeMissingParameterError(c.Name, name)
	}
	return c.parseFloat(name, raw, b)
}

// GetFloatPtr returns nil when the parameter is absent.
func (c *Command) GetFloatPtr(name string, b Bounds) (*float64, error) {
	name = strings.ToUpper(name)
	raw, ok := c.Params[name]
	if !ok {
		return nil, nil
	}
	f, err := c.parseFloat(name, raw, b)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Command) parseInt(name, raw string, b Bounds) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, hosterrors.GCodeInvalidParameterError(c.Name, name, raw, "is not a valid integer")
	}
	return i, c.check(name, raw, float64(i), b)
}

// GetInt returns an integer parameter, or def when absent.
func (c *Command) GetInt(name string, def int, b Bounds) (int, error) {
	name = strings.ToUpper(name)
	raw, ok := c.Params[name]
	if !ok {
		return def, nil
	}
	return c.parseInt(name, raw, b)
}

// GetIntPtr returns nil when the parameter is absent.
func (c *Command) GetIntPtr(name string, b Bounds) (*int, error) {
	name = strings.ToUpper(name)
	raw, ok := c.Params[name]
	if !ok {
		return nil, nil
	}
	i, err := c.parseInt(name, raw, b)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// RespondInfo sends an informational message back to the caller.
func (c *Command) RespondInfo(msg string) {
	if c.respond != nil {
		c.respond(msg)
	}
}
