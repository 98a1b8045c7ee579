// Package config reads printer.cfg style and YAML printer configurations.
// Option lookups are tracked so unread options can be rejected, and every
// failure is an *errors.HostError carrying a config error code.
package config

import (
	"fmt"

	hosterrors "purgebelt-go/pkg/errors"
)

// NewConfigError creates a validation error with section/option context.
func NewConfigError(section, option, message string) *hosterrors.HostError {
	return hosterrors.New(hosterrors.ErrConfigValidation, message).
		SetSection(section).
		SetOption(option)
}

// ErrMissingOption returns an error for a required but missing option.
func ErrMissingOption(section, option string) *hosterrors.HostError {
	return hosterrors.New(hosterrors.ErrConfigOption,
		fmt.Sprintf("Option '%s' in section '%s' must be specified", option, section)).
		SetSection(section).
		SetOption(option)
}

// ErrMissingSection returns an error for a missing section.
func ErrMissingSection(section string) *hosterrors.HostError {
	return hosterrors.ConfigSectionError(section)
}

// ErrInvalidValue returns an error for an unparsable value.
func ErrInvalidValue(section, option, value, expected string) *hosterrors.HostError {
	return hosterrors.New(hosterrors.ErrConfigType,
		fmt.Sprintf("Option '%s' in section '%s': invalid value '%s', expected %s", option, section, value, expected)).
		SetSection(section).
		SetOption(option)
}

// ErrOutOfRange returns an error for a value outside the allowed range.
func ErrOutOfRange(section, option string, value float64, constraint string) *hosterrors.HostError {
	return hosterrors.ConfigValidationError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

// ErrInvalidChoice returns an error for an invalid choice value.
func ErrInvalidChoice(section, option, value string, choices []string) *hosterrors.HostError {
	return hosterrors.ConfigValidationError(section, option,
		fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}
