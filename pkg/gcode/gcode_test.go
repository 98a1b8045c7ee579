package gcode

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterrors "purgebelt-go/pkg/errors"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line   string
		name   string
		params map[string]string
	}{
		{"G1 X10 Y-2.5 E0.4 F3000", "G1", map[string]string{"X": "10", "Y": "-2.5", "E": "0.4", "F": "3000"}},
		{"g28 x ; home", "G28", map[string]string{"X": ""}},
		{"PURGE_WITH_BELT PURGE_LENGTH=50 pause_qty=0", "PURGE_WITH_BELT", map[string]string{"PURGE_LENGTH": "50", "PAUSE_QTY": "0"}},
		{"SYNC_EXTRUDER_MOTION EXTRUDER=belt MOTION_QUEUE=", "SYNC_EXTRUDER_MOTION", map[string]string{"EXTRUDER": "belt", "MOTION_QUEUE": ""}},
		{"G4 (wait) P2000", "G4", map[string]string{"P": "2000"}},
		{"M400", "M400", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := ParseLine(tt.line)
			require.NoError(t, err)
			require.NotNil(t, cmd)
			assert.Equal(t, tt.name, cmd.Name)
			assert.Equal(t, tt.params, cmd.Params)
		})
	}

	for _, blank := range []string{"", "   ", "; comment", "(only a comment)", "# note"} {
		cmd, err := ParseLine(blank)
		assert.NoError(t, err)
		assert.Nil(t, cmd, "line %q", blank)
	}

	_, err := ParseLine("PURGE_WITH_BELT 50")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeParse))
}

func TestCommandGetters(t *testing.T) {
	cmd, err := ParseLine("PURGE_WITH_BELT FLOW_RATE=50 PAUSE_QTY=2 LAYER_HEIGHT=abc SPEED=-1")
	require.NoError(t, err)

	f, err := cmd.GetFloat("FLOW_RATE", 30, Above(0))
	require.NoError(t, err)
	assert.Equal(t, 50.0, f)

	f, err = cmd.GetFloat("PAUSE_TIME", 1, Above(0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, f, "absent parameters take the default unchecked")

	i, err := cmd.GetInt("PAUSE_QTY", 0, MinVal(0))
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = cmd.GetFloat("LAYER_HEIGHT", 0.4, Above(0))
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam))

	_, err = cmd.GetFloat("SPEED", 5, Above(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be above 0")

	_, err = cmd.RequireFloat("MOVE", NoBounds)
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeMissingParam))

	p, err := cmd.GetFloatPtr("PURGE_VOLUME", Above(0))
	require.NoError(t, err)
	assert.Nil(t, p)

	ip, err := cmd.GetIntPtr("PAUSE_QTY", MinVal(0))
	require.NoError(t, err)
	require.NotNil(t, ip)
	assert.Equal(t, 2, *ip)

	_, err = cmd.GetInt("FLOW_RATE", 0, Range(0, 10))
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam))

	assert.True(t, cmd.Has("flow_rate"))
	assert.Equal(t, "x", cmd.Get("EXTRUDER", "x"))
}

func TestDispatcherRegister(t *testing.T) {
	d := NewDispatcher()
	var got []string
	require.NoError(t, d.Register("M400", func(cmd *Command) error {
		got = append(got, cmd.Name)
		return nil
	}, "wait for moves"))
	assert.Error(t, d.Register("m400", func(*Command) error { return nil }, ""))

	require.NoError(t, d.Run("m400"))
	assert.Equal(t, []string{"M400"}, got)

	err := d.Run("FOO_BAR")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeUnknownCmd))
	assert.Equal(t, []string{"M400"}, d.Commands())
	assert.Equal(t, "wait for moves", d.Help()["M400"])
}

func TestDispatcherMux(t *testing.T) {
	d := NewDispatcher()
	var hit string
	handler := func(name string) Handler {
		return func(*Command) error {
			hit = name
			return nil
		}
	}
	require.NoError(t, d.RegisterMux("SET_PRESSURE_ADVANCE", "EXTRUDER", "", handler("default"), ""))
	require.NoError(t, d.RegisterMux("SET_PRESSURE_ADVANCE", "EXTRUDER", "belt", handler("belt"), ""))
	assert.Error(t, d.RegisterMux("SET_PRESSURE_ADVANCE", "EXTRUDER", "belt", handler("dup"), ""))
	assert.Error(t, d.RegisterMux("SET_PRESSURE_ADVANCE", "STEPPER", "x", handler("x"), ""))
	assert.Error(t, d.Register("SET_PRESSURE_ADVANCE", handler("plain"), ""))

	require.NoError(t, d.Run("SET_PRESSURE_ADVANCE EXTRUDER=belt ADVANCE=0.1"))
	assert.Equal(t, "belt", hit)
	require.NoError(t, d.Run("SET_PRESSURE_ADVANCE ADVANCE=0.1"))
	assert.Equal(t, "default", hit)

	err := d.Run("SET_PRESSURE_ADVANCE EXTRUDER=nope")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam))

	require.NoError(t, d.RegisterMux("MANUAL_STEPPER", "STEPPER", "belt", handler("ms"), ""))
	err = d.Run("MANUAL_STEPPER MOVE=1")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeMissingParam))
}

func TestDispatcherRespondAndHook(t *testing.T) {
	d := NewDispatcher()
	var msgs []string
	d.OnRespond(func(msg string) { msgs = append(msgs, msg) })
	var results []string
	d.OnCommand(func(name string, err error) {
		res := "ok"
		if err != nil {
			res = "error"
		}
		results = append(results, name+":"+res)
	})
	require.NoError(t, d.Register("ECHO", func(cmd *Command) error {
		cmd.RespondInfo("hello " + cmd.Get("MSG", ""))
		return nil
	}, ""))

	require.NoError(t, d.Run("ECHO MSG=belt"))
	assert.Equal(t, []string{"hello belt"}, msgs)
	_ = d.Run("NOPE")
	assert.Equal(t, []string{"ECHO:ok", "NOPE:error"}, results)
}

func TestRunScript(t *testing.T) {
	d := NewDispatcher()
	count := 0
	require.NoError(t, d.Register("STEP", func(*Command) error {
		count++
		return nil
	}, ""))

	script := strings.Join([]string{"STEP", "; comment", "", "STEP", "UNKNOWN", "STEP"}, "\n")
	err := d.RunScript(context.Background(), script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 5")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeUnknownCmd))
	assert.Equal(t, 2, count, "script stops at the first error")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.RunScript(ctx, "STEP"), context.Canceled)
}
