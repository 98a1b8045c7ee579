package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorFormat(t *testing.T) {
	err := ConfigValidationError("purgebelt", "pause_qty", "must have minimum of 0")
	if !strings.Contains(err.Error(), "[CONFIG_VALIDATION:pause_qty]") {
		t.Errorf("unexpected format: %s", err.Error())
	}

	err = ConfigSectionError("purgebelt")
	if err.Error() != "[CONFIG_SECTION:purgebelt] section 'purgebelt' not found" {
		t.Errorf("unexpected format: %s", err.Error())
	}
}

func TestIsWalksChain(t *testing.T) {
	inner := BindingConflictError("purge_belt_stepper", "extruder")
	wrapped := fmt.Errorf("MANUAL_STEPPER: %w", inner)
	outer := Wrap(wrapped, ErrRuntime, "purge aborted")

	if !Is(outer, ErrRuntime) {
		t.Error("outer code should match")
	}
	if !Is(outer, ErrBindingConflict) {
		t.Error("wrapped binding conflict should match through fmt.Errorf")
	}
	if Is(outer, ErrTargetNotFound) {
		t.Error("unrelated code should not match")
	}
	if CodeOf(wrapped) != ErrBindingConflict {
		t.Errorf("CodeOf = %s, want BINDING_CONFLICT", CodeOf(wrapped))
	}
	if CodeOf(stderrors.New("plain")) != "" {
		t.Error("CodeOf on a plain error should be empty")
	}
	if Is(nil, ErrRuntime) {
		t.Error("nil error should never match")
	}
}

func TestBindingConflictContext(t *testing.T) {
	err := BindingConflictError("purge_belt_stepper", "extruder")
	if err.Section != "purge_belt_stepper" {
		t.Errorf("Section = %q", err.Section)
	}
	if err.Fields["owner"] != "extruder" {
		t.Errorf("owner = %v", err.Fields["owner"])
	}
	if err.Message != "Cannot manual move: stepper synced to motion queue" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestTargetNotFoundKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"extruder", TargetNotFoundError("Extruder", "extruder1", "is not active")},
		{"endstop", EndstopNotFoundError("purge_belt_stepper", "belt_home")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !IsTargetNotFound(tt.err) {
				t.Errorf("IsTargetNotFound(%v) = false", tt.err)
			}
		})
	}
	if IsTargetNotFound(MissingDependencyError("purgebelt", "belt_stepper")) {
		t.Error("missing dependency is not a target-not-found error")
	}
}

func TestCategories(t *testing.T) {
	if !IsConfig(ConfigSectionError("x")) {
		t.Error("IsConfig(section) = false")
	}
	if IsConfig(GCodeUnknownCommandError("FOO")) {
		t.Error("IsConfig(gcode) = true")
	}
	if !IsGCode(GCodeMissingParameterError("PURGE_WITH_BELT", "MOVE")) {
		t.Error("IsGCode(missing param) = false")
	}
	if !IsGCode(GCodeInvalidParameterError("G1", "X", "abc", "is not a number")) {
		t.Error("IsGCode(invalid param) = false")
	}
}

func TestUnwrap(t *testing.T) {
	base := stderrors.New("queue stalled")
	err := Wrap(base, ErrRuntime, "wait_moves failed")
	if !stderrors.Is(err, base) {
		t.Error("errors.Is should reach the wrapped error")
	}
	var hostErr *HostError
	if !stderrors.As(fmt.Errorf("ctx: %w", err), &hostErr) || hostErr.Code != ErrRuntime {
		t.Error("errors.As should find the HostError")
	}
}

func TestNoFreeResource(t *testing.T) {
	err := NoFreeResourceError("gcode axis letter")
	if !Is(err, ErrNoFreeResource) {
		t.Error("expected NO_FREE_RESOURCE")
	}
	if !strings.Contains(err.Message, "gcode axis letter") {
		t.Errorf("Message = %q", err.Message)
	}
}
