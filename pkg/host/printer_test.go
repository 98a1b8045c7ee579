package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purgebelt-go/pkg/actuator"
	"purgebelt-go/pkg/beltsync"
	"purgebelt-go/pkg/config"
	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/purge"
)

const testConfig = `
[printer]
max_velocity: 300
max_accel: 3000

[extruder]
rotation_distance: 22.6789511
nozzle_diameter: 0.4

[extruder1]
rotation_distance: 33.5

[manual_extruder_stepper purge_belt_stepper]
rotation_distance: 40
velocity: 20
accel: 100
endstop_pin: ^PB2

[purgebelt]
park_pos_x: 10
park_pos_y: 10
park_pos_z: 2
pause_qty: 1
`

type responses struct {
	mu    sync.Mutex
	lines []string
}

func (r *responses) add(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, msg)
}

func (r *responses) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

func newTestPrinter(t *testing.T, text string) (*Printer, *responses) {
	t.Helper()
	cfg, err := config.LoadString(text)
	require.NoError(t, err)
	p, err := New(cfg)
	require.NoError(t, err)
	resp := &responses{}
	p.OnRespond(resp.add)
	return p, resp
}

func run(t *testing.T, p *Printer, script string) {
	t.Helper()
	require.NoError(t, p.ExecuteScript(context.Background(), script))
}

func TestNewPrinter(t *testing.T) {
	p, _ := newTestPrinter(t, testConfig)

	assert.Equal(t, "ready", p.State())
	assert.Equal(t, "purge_belt_stepper", p.Belt().Name())
	assert.Equal(t, []string{"extruder", "extruder1"}, p.Toolhead().ExtruderNames())

	cmds := p.Dispatcher().Commands()
	for _, name := range []string{
		"PURGE_WITH_BELT", "SYNC_PURGE_BELT", "UNSYNC_PURGE_BELT",
		"MANUAL_STEPPER", "LINKED_ACTUATOR_MOVE", "MANUAL_EXTRUDER_STEPPER",
		"SYNC_EXTRUDER_MOTION", "G1", "G92", "M400", "SET_ENDSTOP_TRIGGER",
	} {
		assert.Contains(t, cmds, name)
	}

	objects := p.Objects()
	for _, name := range []string{
		"webhooks", "toolhead", "gcode_move", "purgebelt", "purge_belt",
		"extruder", "extruder1", "manual_extruder_stepper purge_belt_stepper",
	} {
		assert.Contains(t, objects, name)
	}
	assert.Nil(t, p.GetStatus("heater_bed"))
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		code hosterrors.ErrorCode
	}{
		{
			name: "missing belt stepper",
			text: "[extruder]\nrotation_distance: 22\n[purgebelt]\n",
			code: hosterrors.ErrMissingDependency,
		},
		{
			name: "belt stepper names another actuator",
			text: "[extruder]\nrotation_distance: 22\n[manual_extruder_stepper belt]\nrotation_distance: 40\n" +
				"[purgebelt]\nbelt_stepper: purge_belt_stepper\n",
			code: hosterrors.ErrMissingDependency,
		},
		{
			name: "missing purgebelt section",
			text: "[extruder]\nrotation_distance: 22\n",
			code: hosterrors.ErrConfigSection,
		},
		{
			name: "misspelled option",
			text: testConfig + "purge_lenght: 20\n",
			code: hosterrors.ErrConfigValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadString(tt.text)
			require.NoError(t, err)
			_, err = New(cfg)
			require.Error(t, err)
			assert.Equal(t, tt.code, hosterrors.CodeOf(err), err.Error())
		})
	}
}

func TestPurgeWithBelt(t *testing.T) {
	p, resp := newTestPrinter(t, testConfig)

	run(t, p, "G1 X50 Y60 Z5 F6000\nPURGE_WITH_BELT PAUSE_QTY=1")

	assert.Contains(t, resp.all(), "Purging 120.26 mm³ at 30.00 mm³/s in 2 step(s)")
	assert.False(t, p.BeltSync().IsSynced())
	assert.Equal(t, 40.0, p.Belt().RotationDistance())
	assert.Equal(t, actuator.RoleFree, p.Belt().Role())
	assert.InDelta(t, 120.0, p.Belt().CommandedPosition(), 1e-9)

	pos := p.Toolhead().GetPosition()
	assert.Equal(t, []float64{50, 60, 5}, pos[:3])

	status := p.GetStatus("purgebelt")
	assert.Equal(t, "ready", status["state"])
	assert.Equal(t, 1, status["cycles"])
	assert.NotEmpty(t, status["cycle_id"])

	totals := p.History().Totals()
	assert.Equal(t, 1, totals.TotalCycles)
	assert.Equal(t, 1, totals.Completed)

	hm := p.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(hm.PurgeCycles.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(hm.PurgeSegments))
	assert.Equal(t, 0.0, testutil.ToFloat64(hm.BeltSynced))
	assert.Equal(t, 1.0, testutil.ToFloat64(hm.GCodeCommands.WithLabelValues("PURGE_WITH_BELT", "ok")))
}

type cancelAt struct {
	phase  purge.Phase
	cancel context.CancelFunc
}

func (c cancelAt) Phase(ev purge.PhaseEvent) {
	if ev.Phase == c.phase {
		c.cancel()
	}
}

func (c cancelAt) CycleDone(string, purge.Params, time.Duration, error) {}

func TestPurgeCancelled(t *testing.T) {
	p, _ := newTestPrinter(t, testConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Purge().SetObserver(purgeObservers{p.metrics, p.history, cancelAt{purge.PhaseExtrude, cancel}})

	err := p.ExecuteScript(ctx, "PURGE_WITH_BELT PAUSE_QTY=0")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, p.BeltSync().IsSynced())
	assert.Equal(t, 40.0, p.Belt().RotationDistance())
	assert.Equal(t, "error", p.GetStatus("purgebelt")["state"])
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().PurgeCycles.WithLabelValues("error")))
	assert.Equal(t, 1, p.History().Totals().Failed)
}

func TestSyncCommands(t *testing.T) {
	p, _ := newTestPrinter(t, testConfig)
	belt := p.Belt()

	run(t, p, "SYNC_PURGE_BELT LAYER_HEIGHT=0.2 EXTRUSION_WIDTH=0.4")
	assert.True(t, p.BeltSync().IsSynced())
	assert.Equal(t, "extruder", belt.MotionQueue())
	want := 40 / beltsync.FlowCorrectionFactor(1.75, 0.2, 0.4)
	assert.InDelta(t, want, belt.RotationDistance(), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().BeltSynced))

	err := p.Run("MANUAL_STEPPER STEPPER=purge_belt_stepper MOVE=10")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrBindingConflict), "got %v", err)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Metrics().BindingConflicts.WithLabelValues("purge_belt_stepper")))

	run(t, p, "UNSYNC_PURGE_BELT")
	assert.False(t, p.BeltSync().IsSynced())
	assert.Equal(t, "", belt.MotionQueue())
	assert.Equal(t, 40.0, belt.RotationDistance())
	assert.Equal(t, 0.0, testutil.ToFloat64(p.Metrics().BeltSynced))
}

func TestGCodeMoves(t *testing.T) {
	p, resp := newTestPrinter(t, testConfig)
	th := p.Toolhead()

	run(t, p, "G1 X10 Y20 Z1 F600")
	assert.Equal(t, []float64{10, 20, 1, 0}, th.GetPosition())

	run(t, p, "G92 X0\nG1 X5")
	assert.Equal(t, 15.0, th.GetPosition()[0])

	run(t, p, "G91\nG1 X1 E2\nG90")
	assert.Equal(t, []float64{16, 20, 1, 2}, th.GetPosition())

	before := th.PrintTime()
	run(t, p, "G4 P500\nM400")
	assert.InDelta(t, before+0.5, th.PrintTime(), 1e-9)

	run(t, p, "M114")
	assert.Contains(t, resp.all(), "X:6.000 Y:20.000 Z:1.000 E:2.000")

	err := p.Run("G1 X1 F-5")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam), "got %v", err)
	err = p.Run("NOT_A_COMMAND")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeUnknownCmd), "got %v", err)
}

func TestGCodeAxisMove(t *testing.T) {
	p, resp := newTestPrinter(t, testConfig)

	run(t, p, "MANUAL_STEPPER STEPPER=purge_belt_stepper GCODE_AXIS=A")
	assert.Contains(t, resp.all(), "registered as axis A")

	run(t, p, "G1 A12 F600")
	assert.InDelta(t, 12.0, p.Belt().CommandedPosition(), 1e-9)

	run(t, p, "MANUAL_STEPPER STEPPER=purge_belt_stepper GCODE_AXIS=")
	assert.Equal(t, "", p.Belt().GCodeAxis())
}

func TestActivateExtruder(t *testing.T) {
	p, resp := newTestPrinter(t, testConfig)

	run(t, p, "ACTIVATE_EXTRUDER EXTRUDER=extruder1")
	assert.Equal(t, "extruder1", p.Toolhead().GetExtruder().Name())
	assert.Contains(t, resp.all(), "Activating extruder extruder1")

	err := p.Run("ACTIVATE_EXTRUDER EXTRUDER=extruder7")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrTargetNotFound), "got %v", err)

	// the belt follows whichever extruder is active
	run(t, p, "SYNC_PURGE_BELT")
	assert.Equal(t, "extruder1", p.Belt().MotionQueue())
	run(t, p, "UNSYNC_PURGE_BELT")
}

func TestSetEndstopTrigger(t *testing.T) {
	p, _ := newTestPrinter(t, testConfig)

	run(t, p, "SET_ENDSTOP_TRIGGER STEPPER=purge_belt_stepper POSITION=15")
	run(t, p, "MANUAL_STEPPER STEPPER=purge_belt_stepper MOVE=30 STOP_ON_ENDSTOP=1")
	assert.InDelta(t, 15.0, p.Belt().CommandedPosition(), 1e-9)

	err := p.Run("SET_ENDSTOP_TRIGGER STEPPER=purge_belt_stepper ENDSTOP=belt_end POSITION=1")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrEndstopNotFound), "got %v", err)
	err = p.Run("SET_ENDSTOP_TRIGGER STEPPER=nope POSITION=1")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrTargetNotFound), "got %v", err)

	run(t, p, "SET_ENDSTOP_TRIGGER STEPPER=purge_belt_stepper")
	err = p.Run("MANUAL_STEPPER STEPPER=purge_belt_stepper MOVE=0 STOP_ON_ENDSTOP=1")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrRuntimeHoming), "got %v", err)
}

func TestMoonrakerIntegration(t *testing.T) {
	p, _ := newTestPrinter(t, testConfig)
	mi := NewMoonrakerIntegration(p, "")
	ts := httptest.NewServer(mi.Server().Handler())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/printer/gcode/script", "application/json",
		strings.NewReader(`{"script": "SYNC_PURGE_BELT"}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, p.BeltSync().IsSynced())

	res, err = http.Post(ts.URL+"/printer/objects/query", "application/json",
		strings.NewReader(`{"objects": {"purge_belt": ["state", "extruder"]}}`))
	require.NoError(t, err)
	defer res.Body.Close()
	var body struct {
		Result struct {
			Status map[string]map[string]any `json:"status"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, map[string]any{"state": "synced", "extruder": "extruder"}, body.Result.Status["purge_belt"])

	res, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	p.Shutdown("test")
	err = mi.adapter.ExecuteGCode(context.Background(), "UNSYNC_PURGE_BELT")
	assert.Error(t, err)
	assert.True(t, p.BeltSync().IsSynced())
}
