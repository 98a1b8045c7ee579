package purge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purgebelt-go/pkg/config"
	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/gcode"
)

// recorder stands in for the toolhead, belt, synchronizer and observer
// and writes every call to one trace.
type recorder struct {
	buf     bytes.Buffer
	pos     []float64
	beltPos float64
	synced  bool
	unsyncs int

	failPhase Phase
	onPhase   func(Phase)
}

func newRecorder() *recorder {
	return &recorder{pos: []float64{50, 60, 5, 3}}
}

func (r *recorder) GetPosition() []float64 { return append([]float64(nil), r.pos...) }

func (r *recorder) Move(newPos []float64, speed float64) error {
	copy(r.pos, newPos)
	fmt.Fprintf(&r.buf, "  move %.3f %.3f %.3f %.3f F%.3f\n", r.pos[0], r.pos[1], r.pos[2], r.pos[3], speed)
	return nil
}

func (r *recorder) WaitMoves() error {
	r.buf.WriteString("  wait\n")
	return nil
}

func (r *recorder) Dwell(delay float64) error {
	fmt.Fprintf(&r.buf, "  dwell %.3f\n", delay)
	return nil
}

type beltRecorder struct{ r *recorder }

func (b beltRecorder) CommandedPosition() float64 { return b.r.beltPos }
func (b beltRecorder) Velocity() float64          { return 20 }
func (b beltRecorder) Accel() float64             { return 100 }

func (b beltRecorder) Move(pos, speed, accel float64, sync bool) error {
	b.r.beltPos = pos
	fmt.Fprintf(&b.r.buf, "  belt %.3f v=%.3f a=%.3f sync=%t\n", pos, speed, accel, sync)
	return nil
}

func (r *recorder) Sync(layerHeight, width float64) error {
	if r.failPhase == PhaseSync {
		return hosterrors.TargetNotFoundError("Extruder", "", "is not active")
	}
	r.synced = true
	fmt.Fprintf(&r.buf, "  sync lh=%.3f w=%.3f\n", layerHeight, width)
	return nil
}

func (r *recorder) Unsync() error {
	r.unsyncs++
	if r.synced {
		r.synced = false
		r.buf.WriteString("  unsync\n")
	}
	return nil
}

func (r *recorder) Phase(ev PhaseEvent) {
	if ev.Segment > 0 {
		fmt.Fprintf(&r.buf, "%s %d/%d\n", ev.Phase, ev.Segment, ev.Segments)
	} else {
		fmt.Fprintf(&r.buf, "%s\n", ev.Phase)
	}
	if r.onPhase != nil {
		r.onPhase(ev.Phase)
	}
}

func (r *recorder) CycleDone(_ string, _ Params, _ time.Duration, err error) {
	if err != nil {
		fmt.Fprintf(&r.buf, "failed: %v\n", err)
		return
	}
	r.buf.WriteString("done\n")
}

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *recorder) {
	t.Helper()
	r := newRecorder()
	o, err := New(cfg, r, beltRecorder{r}, r)
	require.NoError(t, err)
	o.SetObserver(r)
	return o, r
}

func ptr[T any](v T) *T { return &v }

func TestDeriveDefaults(t *testing.T) {
	cfg := DefaultConfig()
	p, err := Derive(Request{PauseQty: ptr(0)}, cfg)
	require.NoError(t, err)

	area := math.Pi / 4 * 1.75 * 1.75
	assert.Equal(t, 50.0, p.Length)
	assert.InDelta(t, 50*area, p.Volume, 1e-9)
	assert.Equal(t, 30.0, p.FlowRate)
	assert.InDelta(t, 30/area, p.ExtrusionSpeed, 1e-12)
	assert.Equal(t, 1, p.Segments())
	assert.Equal(t, "Purging 120.26 mm³ at 30.00 mm³/s in 1 step(s)", p.Summary())
}

func TestDeriveSegmentCount(t *testing.T) {
	cfg := DefaultConfig()
	p, err := Derive(Request{Length: ptr(500.0)}, cfg)
	require.NoError(t, err)

	assert.InDelta(t, 7516.5, p.PurgedLength, 0.1)
	assert.Equal(t, 38, p.PauseQty)
	assert.GreaterOrEqual(t, p.PauseQty, int(math.Ceil(p.PurgedLength/cfg.SectionMax)))
	assert.LessOrEqual(t, p.PurgedLength/float64(p.Segments()), cfg.SectionMax)

	// short purges keep the configured pause count
	cfg.SectionMax = 1e6
	p, err = Derive(Request{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.PauseQty, p.PauseQty)

	// explicit count wins
	p, err = Derive(Request{Length: ptr(500.0), PauseQty: ptr(2)}, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, p.PauseQty)
}

func TestDeriveVolume(t *testing.T) {
	area := math.Pi / 4 * 1.75 * 1.75
	p, err := Derive(Request{Volume: ptr(100.0), Length: ptr(999.0)}, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 100/area, p.Length, 1e-12)
	assert.Equal(t, 100.0, p.Volume)
}

func TestDeriveFlowRate(t *testing.T) {
	area := math.Pi / 4 * 1.75 * 1.75
	cfg := DefaultConfig()

	tests := []struct {
		name      string
		req       Request
		wantFlow  float64
		wantSpeed float64
	}{
		{"clamped", Request{FlowRate: ptr(100.0)}, cfg.MaxFlowRate, cfg.MaxFlowRate / area},
		{"under max", Request{FlowRate: ptr(12.0)}, 12, 12 / area},
		{"explicit speed", Request{ExtrusionSpeed: ptr(8.0)}, 8 * area, 8},
		{"flow wins over speed", Request{FlowRate: ptr(20.0), ExtrusionSpeed: ptr(8.0)}, 20, 20 / area},
		{"defaults", Request{}, cfg.FlowRate, cfg.FlowRate / area},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Derive(tt.req, cfg)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantFlow, p.FlowRate, 1e-12)
			assert.InDelta(t, tt.wantSpeed, p.ExtrusionSpeed, 1e-12)
		})
	}
}

func TestDeriveRejectsBadGeometry(t *testing.T) {
	_, err := Derive(Request{LayerHeight: ptr(0.0)}, DefaultConfig())
	assert.True(t, hosterrors.Is(err, hosterrors.ErrDerivation))
	_, err = Derive(Request{PauseQty: ptr(-1)}, DefaultConfig())
	assert.True(t, hosterrors.Is(err, hosterrors.ErrDerivation))
}

func TestPurgeSingleSegment(t *testing.T) {
	o, r := newOrchestrator(t, DefaultConfig())
	d := gcode.NewDispatcher()
	require.NoError(t, o.RegisterCommands(d))
	var responses []string
	d.OnRespond(func(msg string) { responses = append(responses, msg) })

	require.NoError(t, d.Run("PURGE_WITH_BELT PURGE_LENGTH=50 PAUSE_QTY=0"))
	assert.Equal(t, []string{"Purging 120.26 mm³ at 30.00 mm³/s in 1 step(s)"}, responses)
	assert.NotContains(t, r.buf.String(), "DWELL")

	g := goldie.New(t)
	g.Assert(t, "single_segment", r.buf.Bytes())

	status := o.GetStatus()
	assert.Equal(t, "ready", status["state"])
	assert.Equal(t, 1, status["cycles"])
	assert.NotEmpty(t, status["cycle_id"])
}

func TestPurgeTwoSegments(t *testing.T) {
	o, r := newOrchestrator(t, DefaultConfig())
	d := gcode.NewDispatcher()
	require.NoError(t, o.RegisterCommands(d))

	require.NoError(t, d.Run("PURGE_WITH_BELT PURGE_LENGTH=100 PAUSE_QTY=1 PAUSE_TIME=2"))
	assert.Equal(t, 1, bytes.Count(r.buf.Bytes(), []byte("dwell 2.000")))

	g := goldie.New(t)
	g.Assert(t, "two_segments", r.buf.Bytes())
}

func TestPurgeWithoutReturn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReturnToStartPos = false
	o, r := newOrchestrator(t, cfg)

	_, err := o.Purge(context.Background(), Request{PauseQty: ptr(0)})
	require.NoError(t, err)
	assert.NotContains(t, r.buf.String(), "RETURN\n")
	assert.Equal(t, []float64{10, 10, 2, 48}, r.pos)
}

func TestPurgeCancelled(t *testing.T) {
	o, r := newOrchestrator(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.onPhase = func(ph Phase) {
		if ph == PhaseExtrude {
			cancel()
		}
	}

	_, err := o.Purge(ctx, Request{PauseQty: ptr(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, r.synced, "belt is unsynced after a cancelled cycle")
	assert.NotContains(t, r.buf.String(), "UNSYNC 1/2")
	assert.Equal(t, "error", o.GetStatus()["state"])
}

func TestPurgeSyncFailure(t *testing.T) {
	o, r := newOrchestrator(t, DefaultConfig())
	r.failPhase = PhaseSync

	_, err := o.Purge(context.Background(), Request{PauseQty: ptr(0)})
	assert.True(t, hosterrors.Is(err, hosterrors.ErrTargetNotFound))
	assert.NotContains(t, r.buf.String(), "EXTRUDE")
	assert.Contains(t, o.GetStatus()["last_error"], "is not active")
}

func TestPurgeCommandValidation(t *testing.T) {
	o, _ := newOrchestrator(t, DefaultConfig())
	d := gcode.NewDispatcher()
	require.NoError(t, o.RegisterCommands(d))

	err := d.Run("PURGE_WITH_BELT PAUSE_QTY=-1")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam))
	err = d.Run("PURGE_WITH_BELT FLOW_RATE=abc")
	assert.True(t, hosterrors.Is(err, hosterrors.ErrGCodeInvalidParam))
}

func TestNewRequiresBelt(t *testing.T) {
	r := newRecorder()
	_, err := New(DefaultConfig(), r, nil, r)
	assert.True(t, hosterrors.Is(err, hosterrors.ErrMissingDependency))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := config.LoadString(`
[purgebelt]
park_pos_x: 20
purge_length: 80
pause_qty: 0
return_to_start_pos: False
belt_stepper: belt
`)
	require.NoError(t, err)
	sec, err := cfg.GetSection("purgebelt")
	require.NoError(t, err)

	c, err := LoadConfig(sec)
	require.NoError(t, err)
	assert.Equal(t, 20.0, c.ParkX)
	assert.Equal(t, 80.0, c.PurgeLength)
	assert.Equal(t, 0, c.PauseQty)
	assert.False(t, c.ReturnToStartPos)
	assert.Equal(t, "belt", c.BeltStepper)
	assert.Equal(t, 40.0, c.MaxFlowRate)

	bad := []string{
		"[purgebelt]\nfilament_diameter: 0\n",
		"[purgebelt]\npause_qty: -1\n",
		"[purgebelt]\nflow_rate: -3\n",
	}
	for _, text := range bad {
		cfg, err := config.LoadString(text)
		require.NoError(t, err)
		sec, err := cfg.GetSection("purgebelt")
		require.NoError(t, err)
		_, err = LoadConfig(sec)
		assert.True(t, hosterrors.IsConfig(err), text)
	}
}
