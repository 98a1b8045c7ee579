package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStepper(t *testing.T, name string, rd float64) *Stepper {
	t.Helper()
	s, err := NewStepper(name, rd, 0)
	require.NoError(t, err)
	return s
}

func TestStepperFollowsTrapQ(t *testing.T) {
	s := newTestStepper(t, "belt", 40)
	s.SetStepperKinematics(NewCartesianKinematics('x'))
	tq := NewTrapQ("belt")
	assert.Nil(t, s.SetTrapQ(tq))

	tq.Append(0, 0, 1, 0, Coord{0}, Coord{10}, 10)
	assert.InDelta(t, 10.0, s.GetCommandedPosition(), 1e-9)
	assert.Equal(t, int64(800), s.MCUPosition(), "10mm at 40mm/rev with 3200 steps/rev")

	// detached steppers stop following
	assert.Same(t, tq, s.SetTrapQ(nil))
	tq.Append(1, 0, 1, 0, Coord{10}, Coord{20}, 10)
	assert.InDelta(t, 10.0, s.GetCommandedPosition(), 1e-9)
	assert.Empty(t, tq.Steppers())
}

func TestStepperKinematicsSwap(t *testing.T) {
	s := newTestStepper(t, "e", 22)
	own := NewCartesianKinematics('x')
	ext := NewExtruderKinematics()
	s.SetStepperKinematics(own)

	prev := s.SetStepperKinematics(ext)
	assert.Same(t, own, prev)
	assert.Same(t, ext, s.StepperKinematics())

	// same shape, different handle
	assert.NotSame(t, own, NewCartesianKinematics('x'))
}

func TestKinematicsKinds(t *testing.T) {
	ext := NewExtruder("extruder", newTestStepper(t, "extruder", 22))
	sk := ext.Stepper().StepperKinematics()
	assert.Equal(t, KindExtruder, sk.Kind())
	assert.Equal(t, "extruder", sk.Kind().String())
	assert.InDelta(t, 7.5, sk.CalcPosition(Coord{7.5}), 1e-9)

	y := NewCartesianKinematics('y')
	assert.Equal(t, KindCartesian, y.Kind())
	assert.Equal(t, "cartesian", y.Kind().String())
	assert.Equal(t, 1, y.Axis())
	assert.InDelta(t, 2.0, y.CalcPosition(Coord{1, 2, 3}), 1e-9)
	assert.Equal(t, "unknown", KinematicsKind(9).String())
}

func TestKinematicsHandleCarriesPosition(t *testing.T) {
	s := newTestStepper(t, "extruder", 22)
	extSK := NewExtruderKinematics()
	s.SetStepperKinematics(extSK)
	s.SetPosition(Coord{5})

	// lend the stepper to another queue under a different model
	linked := NewCartesianKinematics('x')
	prevSK := s.SetStepperKinematics(linked)
	belt := NewTrapQ("belt")
	prevTQ := s.SetTrapQ(belt)
	s.SetPosition(Coord{100})
	belt.Append(0, 0, 1, 0, Coord{100}, Coord{110}, 10)
	assert.Equal(t, 110.0, s.GetCommandedPosition())
	steps := s.MCUPosition()

	s.SetStepperKinematics(prevSK)
	s.SetTrapQ(prevTQ)
	assert.Equal(t, 5.0, s.GetCommandedPosition(), "restored handle brings back its position")
	assert.Equal(t, steps, s.MCUPosition(), "physical steps are kept")
}

func TestStepperSetPositionKeepsSteps(t *testing.T) {
	s := newTestStepper(t, "belt", 40)
	s.SetStepperKinematics(NewCartesianKinematics('x'))
	tq := NewTrapQ("belt")
	s.SetTrapQ(tq)
	tq.Append(0, 0, 1, 0, Coord{0}, Coord{5}, 5)
	steps := s.MCUPosition()

	s.SetPosition(Coord{100})
	assert.Equal(t, 100.0, s.GetCommandedPosition())
	assert.Equal(t, steps, s.MCUPosition())
}

func TestStepperInvertedDirection(t *testing.T) {
	s := newTestStepper(t, "belt", -40)
	assert.Equal(t, -40.0, s.RotationDistance())
	s.SetStepperKinematics(NewCartesianKinematics('x'))
	tq := NewTrapQ("belt")
	s.SetTrapQ(tq)
	tq.Append(0, 0, 1, 0, Coord{0}, Coord{10}, 10)
	assert.Equal(t, int64(-800), s.MCUPosition())

	_, err := NewStepper("bad", 0, 0)
	assert.Error(t, err)
}

func TestRotationDistanceRescale(t *testing.T) {
	s := newTestStepper(t, "belt", 40)
	s.SetStepperKinematics(NewExtruderKinematics())
	tq := NewTrapQ("extruder")
	s.SetTrapQ(tq)

	require.NoError(t, s.SetRotationDistance(4))
	tq.Append(0, 0, 1, 0, Coord{0}, Coord{1}, 1)
	// 1mm of queued extrusion at a tenth of the rotation distance drives
	// the belt ten times as far
	assert.InDelta(t, 10.0, s.PhysicalTravel(40), 1e-9)
}

func TestRail(t *testing.T) {
	a := newTestStepper(t, "a", 40)
	b := newTestStepper(t, "b", 40)
	r := NewRail("belt", a)
	assert.Len(t, r.Steppers(), 1)

	r.SetSteppers(append(r.Steppers(), b))
	tq := NewTrapQ("belt")
	r.SetTrapQ(tq)
	r.SetPosition(Coord{3})
	tq.Append(0, 0, 1, 0, Coord{3}, Coord{7}, 4)
	assert.Equal(t, 7.0, a.GetCommandedPosition())
	assert.Equal(t, 7.0, b.GetCommandedPosition())
	assert.Equal(t, 7.0, r.GetCommandedPosition())
}

func TestCalcMoveTime(t *testing.T) {
	axisR, accelT, cruiseT, cruiseV := CalcMoveTime(-10, 5, 0)
	assert.Equal(t, -1.0, axisR)
	assert.Equal(t, 0.0, accelT)
	assert.InDelta(t, 2.0, cruiseT, 1e-9)
	assert.Equal(t, 5.0, cruiseV)

	// short move never reaches cruise speed
	_, accelT, cruiseT, cruiseV = CalcMoveTime(1, 100, 100)
	assert.InDelta(t, 10.0, cruiseV, 1e-9)
	assert.InDelta(t, 0.1, accelT, 1e-9)
	assert.InDelta(t, 0.0, cruiseT, 1e-9)
}

func newTestToolhead(t *testing.T) (*Toolhead, *Extruder) {
	t.Helper()
	th := NewToolhead(ToolheadConfig{MaxVelocity: 200, MaxAccel: 1000})
	ext := NewExtruder("extruder", newTestStepper(t, "extruder", 22.67))
	require.NoError(t, th.AddExtruder(ext))
	return th, ext
}

func TestToolheadMove(t *testing.T) {
	th, ext := newTestToolhead(t)
	assert.Same(t, ext, th.GetExtruder())

	require.NoError(t, th.Move([]float64{10, 10, 2, 0}, 100))
	assert.Equal(t, []float64{10, 10, 2, 0}, th.GetPosition())
	assert.Equal(t, Coord{10, 10, 2}, th.GetTrapQ().Position())
	assert.Greater(t, th.PrintTime(), 0.0)

	require.NoError(t, th.Move([]float64{10, 10, 2, 5}, 5))
	assert.Equal(t, 5.0, ext.LastPosition())
	assert.InDelta(t, 5.0, ext.Stepper().GetCommandedPosition(), 1e-9)

	// zero length moves are dropped
	pt := th.PrintTime()
	require.NoError(t, th.Move([]float64{10, 10, 2, 5}, 5))
	assert.Equal(t, pt, th.PrintTime())

	assert.Error(t, th.Move([]float64{1, 2, 3}, 5))
	assert.Error(t, th.Move([]float64{1, 2, 3, 4}, 0))
}

func TestToolheadDwellAndPosition(t *testing.T) {
	th, ext := newTestToolhead(t)
	require.NoError(t, th.Dwell(2))
	pt, err := th.GetLastMoveTime()
	require.NoError(t, err)
	assert.Equal(t, 2.0, pt)

	require.NoError(t, th.Dwell(-1))
	assert.Equal(t, 2.0, th.PrintTime())

	require.NoError(t, th.SetPosition([]float64{1, 2, 3, 4}))
	assert.Equal(t, []float64{1, 2, 3, 4}, th.GetPosition())
	assert.Equal(t, 4.0, ext.LastPosition())

	pos := th.GetPosition()
	pos[0] = 99
	assert.Equal(t, 1.0, th.GetPosition()[0], "GetPosition returns a copy")
}

func TestToolheadActiveExtruder(t *testing.T) {
	th, _ := newTestToolhead(t)
	other := NewExtruder("extruder1", newTestStepper(t, "extruder1", 22.67))
	require.NoError(t, th.AddExtruder(other))
	assert.Error(t, th.AddExtruder(other))

	require.NoError(t, th.SetActiveExtruder("extruder1"))
	assert.Same(t, other, th.GetExtruder())
	assert.Error(t, th.SetActiveExtruder("missing"))
	assert.Equal(t, []string{"extruder", "extruder1"}, th.ExtruderNames())
}

type fakeAxis struct {
	pos    float64
	moves  int
	limitV float64
	limitA float64
	cruise float64
}

func (f *fakeAxis) AxisLimits() (float64, float64) { return f.limitV, f.limitA }

func (f *fakeAxis) CommandedPosition() float64 { return f.pos }

func (f *fakeAxis) ProcessMove(_, _, _, _, _, end, cruiseV float64) {
	f.pos = end
	f.cruise = cruiseV
	f.moves++
}

func TestToolheadExtraAxis(t *testing.T) {
	th, _ := newTestToolhead(t)
	axis := &fakeAxis{pos: 3}
	require.NoError(t, th.AddExtraAxis("A", axis))
	assert.Error(t, th.AddExtraAxis("A", axis))
	assert.True(t, th.HasExtraAxis("A"))

	require.NoError(t, th.MoveWithExtra(th.GetPosition(), map[string]float64{"A": 13}, 10))
	assert.Equal(t, 13.0, axis.pos)
	pos, ok := th.ExtraAxisPosition("A")
	assert.True(t, ok)
	assert.Equal(t, 13.0, pos)

	assert.Error(t, th.MoveWithExtra(th.GetPosition(), map[string]float64{"B": 1}, 10))
	require.NoError(t, th.RemoveExtraAxis("A"))
	assert.Error(t, th.RemoveExtraAxis("A"))
}

func TestToolheadExtraAxisLimits(t *testing.T) {
	th, _ := newTestToolhead(t)
	axis := &fakeAxis{limitV: 5, limitA: 1e6}
	require.NoError(t, th.AddExtraAxis("A", axis))

	// axis-only move: the axis limit caps the whole move
	require.NoError(t, th.MoveWithExtra(th.GetPosition(), map[string]float64{"A": 100}, 50))
	assert.InDelta(t, 5.0, axis.cruise, 1e-9)

	// the axis covers a tenth of a 100mm XY move, so the move may run at 50
	pos := th.GetPosition()
	pos[0] += 100
	require.NoError(t, th.MoveWithExtra(pos, map[string]float64{"A": 110}, 200))
	assert.InDelta(t, 50.0, axis.cruise, 1e-9)

	// unlimited axes leave the toolhead speed alone
	axis.limitV, axis.limitA = 0, 0
	pos[0] += 100
	require.NoError(t, th.MoveWithExtra(pos, map[string]float64{"A": 120}, 80))
	assert.InDelta(t, 80.0, axis.cruise, 1e-9)
}
