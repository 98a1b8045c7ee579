// Unified error handling for the purge belt host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// G-code errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeUnknownCmd   ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeMissingParam ErrorCode = "GCODE_MISSING_PARAM"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"

	// Actuator ownership errors
	ErrBindingConflict   ErrorCode = "BINDING_CONFLICT"
	ErrTargetNotFound    ErrorCode = "TARGET_NOT_FOUND"
	ErrEndstopNotFound   ErrorCode = "ENDSTOP_NOT_FOUND"
	ErrMissingDependency ErrorCode = "MISSING_DEPENDENCY"
	ErrNoFreeResource    ErrorCode = "NO_FREE_RESOURCE"
	ErrDerivation        ErrorCode = "DERIVATION"

	// Runtime errors
	ErrRuntime       ErrorCode = "RUNTIME"
	ErrRuntimeHoming ErrorCode = "RUNTIME_HOMING"
)

// HostError carries a code plus the config section or object and the
// option or parameter it refers to. Fields hold extra detail such as the
// purge phase a failure happened in.
type HostError struct {
	Code    ErrorCode
	Message string
	Section string
	Option  string
	Fields  map[string]any
	Err     error
}

// Error formats as "[CODE:option] message", falling back to the section
// when no option applies.
func (e *HostError) Error() string {
	where := e.Option
	if where == "" {
		where = e.Section
	}
	return fmt.Sprintf("[%s:%s] %s", e.Code, where, e.Message)
}

func (e *HostError) Unwrap() error { return e.Err }

func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// With records a detail field.
func (e *HostError) With(key string, value any) *HostError {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Wrap attaches a code and message to err.
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message, Err: err}
}

func New(code ErrorCode, message string) *HostError {
	return &HostError{Code: code, Message: message}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// G-code errors

// GCodeParseError creates an error for G-code parsing failure
func GCodeParseError(line string, reason string) *HostError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s (reason: %s)", line, reason))
}

// GCodeUnknownCommandError creates an error for unknown G-code command
func GCodeUnknownCommandError(command string) *HostError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("unknown command: %s", command)).SetSection(command)
}

// GCodeMissingParameterError creates an error for missing G-code parameter
func GCodeMissingParameterError(command, param string) *HostError {
	return New(ErrGCodeMissingParam, fmt.Sprintf("Error on '%s': missing %s", command, param)).
		SetSection(command).
		SetOption(param)
}

// GCodeInvalidParameterError creates an error for invalid G-code parameter
func GCodeInvalidParameterError(command, param, value string, reason string) *HostError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("Error on '%s': %s=%s %s", command, param, value, reason)).
		SetSection(command).
		SetOption(param)
}

// Actuator ownership errors

// BindingConflictError is returned when a manual command reaches an actuator
// that is owned by a motion queue or lent to a linked session.
func BindingConflictError(actuator, owner string) *HostError {
	return New(ErrBindingConflict, "Cannot manual move: stepper synced to motion queue").
		SetSection(actuator).
		With("owner", owner)
}

// TargetNotFoundError is returned when a named extruder or actuator does not
// resolve, or resolves to an object of the wrong kind.
func TargetNotFoundError(kind, name, reason string) *HostError {
	return New(ErrTargetNotFound, fmt.Sprintf("%s named '%s' %s", kind, name, reason)).
		SetSection(name).
		With("kind", kind)
}

// EndstopNotFoundError is returned when a named endstop is not configured.
func EndstopNotFoundError(actuator, endstop string) *HostError {
	return New(ErrEndstopNotFound, fmt.Sprintf("Endstop named '%s' not found", endstop)).
		SetSection(actuator).
		SetOption(endstop)
}

// MissingDependencyError is a fatal init error for an absent collaborator.
func MissingDependencyError(section, dependency string) *HostError {
	return New(ErrMissingDependency, fmt.Sprintf("%s must be specified", dependency)).
		SetSection(section)
}

// NoFreeResourceError reports exhaustion of an allocatable resource.
func NoFreeResourceError(resource string) *HostError {
	return New(ErrNoFreeResource, fmt.Sprintf("no free %s available", resource))
}

// DerivationError reports a purge parameter that could not be derived.
func DerivationError(quantity, reason string) *HostError {
	return New(ErrDerivation, fmt.Sprintf("cannot derive %s: %s", quantity, reason)).SetOption(quantity)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// HomingError creates an error for a homing move that did not trigger
func HomingError(message string) *HostError {
	return New(ErrRuntimeHoming, message)
}

// Is checks if any error in err's chain is a HostError with the given code
func Is(err error, code ErrorCode) bool {
	var hostErr *HostError
	for err != nil {
		if !stderrors.As(err, &hostErr) {
			return false
		}
		if hostErr.Code == code {
			return true
		}
		err = hostErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost HostError in err's chain.
func CodeOf(err error) ErrorCode {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ""
}

// IsTargetNotFound checks for either flavour of unresolved target.
func IsTargetNotFound(err error) bool {
	return Is(err, ErrTargetNotFound) || Is(err, ErrEndstopNotFound)
}

// inCategory reports whether any HostError in err's chain has a code
// starting with prefix.
func inCategory(err error, prefix string) bool {
	var hostErr *HostError
	for err != nil && stderrors.As(err, &hostErr) {
		if strings.HasPrefix(string(hostErr.Code), prefix) {
			return true
		}
		err = hostErr.Err
	}
	return false
}

// IsConfig checks for any CONFIG_* error.
func IsConfig(err error) bool { return inCategory(err, "CONFIG_") }

// IsGCode checks for any GCODE_* error.
func IsGCode(err error) bool { return inCategory(err, "GCODE_") }
