package host

import (
	"fmt"
	"sort"
	"strings"

	"purgebelt-go/pkg/actuator"
	hosterrors "purgebelt-go/pkg/errors"
	"purgebelt-go/pkg/gcode"
	"purgebelt-go/pkg/motion"
)

var axisLetters = [4]string{"X", "Y", "Z", "E"}

// gcodeMove translates G0/G1/G92 coordinates into toolhead moves. The
// last position is always taken from the toolhead, so moves queued by
// other objects (a purge cycle) are seen by the next G1.
type gcodeMove struct {
	toolhead *motion.Toolhead

	absoluteCoord   bool
	absoluteExtrude bool
	basePosition    [4]float64

	// speed in mm/s
	speed float64
}

func newGCodeMove(th *motion.Toolhead) *gcodeMove {
	return &gcodeMove{
		toolhead:        th,
		absoluteCoord:   true,
		absoluteExtrude: true,
		speed:           25.0,
	}
}

func (gm *gcodeMove) cmdG1(cmd *gcode.Command) error {
	pos := gm.toolhead.GetPosition()
	for i, axis := range axisLetters {
		v, err := cmd.GetFloatPtr(axis, gcode.NoBounds)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		absolute := gm.absoluteCoord
		if i == 3 && !gm.absoluteExtrude {
			absolute = false
		}
		if absolute {
			pos[i] = *v + gm.basePosition[i]
		} else {
			pos[i] += *v
		}
	}

	var extra map[string]float64
	for letter := range cmd.Params {
		if len(letter) != 1 || !gm.toolhead.HasExtraAxis(letter) {
			continue
		}
		v, err := cmd.GetFloatPtr(letter, gcode.NoBounds)
		if err != nil {
			return err
		}
		if extra == nil {
			extra = make(map[string]float64)
		}
		target := *v
		if !gm.absoluteCoord {
			cur, _ := gm.toolhead.ExtraAxisPosition(letter)
			target += cur
		}
		extra[letter] = target
	}

	f, err := cmd.GetFloatPtr("F", gcode.Above(0))
	if err != nil {
		return err
	}
	if f != nil {
		gm.speed = *f / 60.0
	}
	return gm.toolhead.MoveWithExtra(pos, extra, gm.speed)
}

func (gm *gcodeMove) cmdG92(cmd *gcode.Command) error {
	pos := gm.toolhead.GetPosition()
	anySet := false
	for i, axis := range axisLetters {
		v, err := cmd.GetFloatPtr(axis, gcode.NoBounds)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		anySet = true
		gm.basePosition[i] = pos[i] - *v
	}
	if !anySet {
		copy(gm.basePosition[:], pos)
	}
	return nil
}

func (gm *gcodeMove) cmdG90(*gcode.Command) error {
	gm.absoluteCoord = true
	return nil
}

func (gm *gcodeMove) cmdG91(*gcode.Command) error {
	gm.absoluteCoord = false
	return nil
}

func (gm *gcodeMove) cmdM82(*gcode.Command) error {
	gm.absoluteExtrude = true
	return nil
}

func (gm *gcodeMove) cmdM83(*gcode.Command) error {
	gm.absoluteExtrude = false
	return nil
}

func (gm *gcodeMove) cmdM114(cmd *gcode.Command) error {
	pos := gm.toolhead.GetPosition()
	parts := make([]string, 0, len(pos))
	for i, axis := range axisLetters {
		parts = append(parts, fmt.Sprintf("%s:%.3f", axis, pos[i]-gm.basePosition[i]))
	}
	cmd.RespondInfo(strings.Join(parts, " "))
	return nil
}

func (gm *gcodeMove) getStatus() map[string]any {
	pos := gm.toolhead.GetPosition()
	gpos := make([]float64, len(pos))
	for i := range pos {
		gpos[i] = pos[i] - gm.basePosition[i]
	}
	return map[string]any{
		"absolute_coordinates": gm.absoluteCoord,
		"absolute_extrude":     gm.absoluteExtrude,
		"speed":                gm.speed * 60.0,
		"gcode_position":       gpos,
		"homing_origin":        append([]float64(nil), gm.basePosition[:]...),
	}
}

func (p *Printer) registerMotionCommands() error {
	regs := []struct {
		name string
		fn   gcode.Handler
		desc string
	}{
		{"G0", p.gmove.cmdG1, ""},
		{"G1", p.gmove.cmdG1, ""},
		{"G4", p.cmdG4, ""},
		{"G90", p.gmove.cmdG90, ""},
		{"G91", p.gmove.cmdG91, ""},
		{"G92", p.gmove.cmdG92, ""},
		{"M82", p.gmove.cmdM82, ""},
		{"M83", p.gmove.cmdM83, ""},
		{"M114", p.gmove.cmdM114, ""},
		{"M400", p.cmdM400, ""},
		{"ACTIVATE_EXTRUDER", p.cmdActivateExtruder, "Change the active extruder"},
		{"SET_ENDSTOP_TRIGGER", p.cmdSetEndstopTrigger, "Place the simulated switch of an actuator endstop"},
		{"HELP", p.cmdHelp, "Report the list of available extended G-Code commands"},
	}
	for _, r := range regs {
		if err := p.dispatcher.Register(r.name, r.fn, r.desc); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) cmdG4(cmd *gcode.Command) error {
	delay, err := cmd.GetFloat("P", 0, gcode.MinVal(0))
	if err != nil {
		return err
	}
	return p.toolhead.Dwell(delay / 1000.0)
}

func (p *Printer) cmdM400(*gcode.Command) error {
	return p.toolhead.WaitMoves()
}

func (p *Printer) cmdActivateExtruder(cmd *gcode.Command) error {
	name, err := cmd.Require("EXTRUDER")
	if err != nil {
		return err
	}
	if _, ok := p.toolhead.LookupExtruder(name); !ok {
		return hosterrors.TargetNotFoundError("Extruder", name, "not found")
	}
	if active := p.toolhead.GetExtruder(); active != nil && active.Name() == name {
		cmd.RespondInfo(fmt.Sprintf("Extruder %s already active", name))
		return nil
	}
	if err := p.toolhead.SetActiveExtruder(name); err != nil {
		return err
	}
	cmd.RespondInfo(fmt.Sprintf("Activating extruder %s", name))
	return nil
}

func (p *Printer) cmdSetEndstopTrigger(cmd *gcode.Command) error {
	stepper, err := cmd.Require("STEPPER")
	if err != nil {
		return err
	}
	a, ok := p.registry.LookupActuator(stepper)
	if !ok {
		return hosterrors.TargetNotFoundError("Manual extruder stepper", stepper, "not found")
	}
	name := cmd.Get("ENDSTOP", actuator.DefaultEndstop)
	es, ok := a.Endstop(name)
	if !ok {
		return hosterrors.EndstopNotFoundError(stepper, name)
	}
	pos, err := cmd.GetFloatPtr("POSITION", gcode.NoBounds)
	if err != nil {
		return err
	}
	if pos == nil {
		es.ClearTriggerPosition()
		cmd.RespondInfo(fmt.Sprintf("Endstop '%s' of '%s' cleared", name, stepper))
		return nil
	}
	es.Reset()
	es.SetTriggerPosition(*pos)
	cmd.RespondInfo(fmt.Sprintf("Endstop '%s' of '%s' triggers at %.3f", name, stepper, *pos))
	return nil
}

func (p *Printer) cmdHelp(cmd *gcode.Command) error {
	help := p.dispatcher.Help()
	names := make([]string, 0, len(help))
	for name, desc := range help {
		if desc != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	lines := []string{"Available extended commands:"}
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%-10s: %s", name, help[name]))
	}
	cmd.RespondInfo(strings.Join(lines, "\n"))
	return nil
}
