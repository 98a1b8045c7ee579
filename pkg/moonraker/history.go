package moonraker

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"purgebelt-go/pkg/purge"
)

// DefaultHistorySize is the number of cycles History keeps.
const DefaultHistorySize = 100

// CycleRecord is one purge cycle in the history.
type CycleRecord struct {
	CycleID   string   `json:"cycle_id"`
	Status    string   `json:"status"` // "in_progress", "completed" or "error"
	Phase     string   `json:"phase"`
	StartTime float64  `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
	Duration  float64  `json:"duration"`
	Volume    float64  `json:"volume"`
	Length    float64  `json:"length"`
	Segments  int      `json:"segments"`
	FlowRate  float64  `json:"flow_rate"`
	Error     string   `json:"error,omitempty"`
}

// CycleTotals aggregates the recorded cycles.
type CycleTotals struct {
	TotalCycles  int     `json:"total_cycles"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	TotalVolume  float64 `json:"total_volume"`
	TotalTime    float64 `json:"total_time"`
	LongestCycle float64 `json:"longest_cycle"`
}

// History records purge cycles, most recent first. It implements
// purge.Observer.
type History struct {
	mu     sync.RWMutex
	size   int
	cycles []*CycleRecord
	totals CycleTotals
	now    func() time.Time
}

// NewHistory keeps up to size cycles.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, now: time.Now}
}

func (h *History) timestamp() float64 {
	return float64(h.now().UnixMilli()) / 1000
}

func (h *History) find(id string) *CycleRecord {
	for _, c := range h.cycles {
		if c.CycleID == id {
			return c
		}
	}
	return nil
}

// Phase implements purge.Observer.
func (h *History) Phase(ev purge.PhaseEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.find(ev.CycleID)
	if rec == nil {
		rec = &CycleRecord{
			CycleID:   ev.CycleID,
			Status:    "in_progress",
			StartTime: h.timestamp(),
			Segments:  ev.Segments,
		}
		h.cycles = append([]*CycleRecord{rec}, h.cycles...)
		if len(h.cycles) > h.size {
			h.cycles = h.cycles[:h.size]
		}
	}
	rec.Phase = string(ev.Phase)
}

// CycleDone implements purge.Observer.
func (h *History) CycleDone(cycleID string, p purge.Params, elapsed time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.find(cycleID)
	if rec == nil {
		rec = &CycleRecord{CycleID: cycleID, StartTime: h.timestamp() - elapsed.Seconds()}
		h.cycles = append([]*CycleRecord{rec}, h.cycles...)
		if len(h.cycles) > h.size {
			h.cycles = h.cycles[:h.size]
		}
	}
	end := h.timestamp()
	rec.EndTime = &end
	rec.Duration = elapsed.Seconds()
	rec.Volume = p.Volume
	rec.Length = p.Length
	rec.Segments = p.Segments()
	rec.FlowRate = p.FlowRate

	h.totals.TotalCycles++
	h.totals.TotalTime += rec.Duration
	if rec.Duration > h.totals.LongestCycle {
		h.totals.LongestCycle = rec.Duration
	}
	if err != nil {
		rec.Status = "error"
		rec.Error = err.Error()
		h.totals.Failed++
		return
	}
	rec.Status = "completed"
	h.totals.Completed++
	h.totals.TotalVolume += p.Volume
}

// List returns up to limit cycles after skipping start. order "asc"
// returns the oldest first.
func (h *History) List(limit, start int, order string) (int, []CycleRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]CycleRecord, 0, len(h.cycles))
	for _, c := range h.cycles {
		out = append(out, *c)
	}
	if order == "asc" {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	count := len(out)
	if start >= len(out) {
		return count, []CycleRecord{}
	}
	if start > 0 {
		out = out[start:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return count, out
}

// Totals returns the aggregate over every finished cycle, including
// those no longer kept.
func (h *History) Totals() CycleTotals {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totals
}

func intParam(params map[string]any, name string, def int) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("'%s' must be an integer", name)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("'%s' must be an integer", name)
	}
}

func (s *Server) methodHistoryList(params map[string]any) (any, error) {
	limit, err := intParam(params, "limit", 50)
	if err != nil {
		return nil, err
	}
	start, err := intParam(params, "start", 0)
	if err != nil {
		return nil, err
	}
	order, _ := params["order"].(string)
	count, cycles := s.history.List(limit, start, order)
	return map[string]any{"count": count, "cycles": cycles}, nil
}

func (s *Server) methodHistoryTotals() (any, error) {
	return map[string]any{"cycle_totals": s.history.Totals()}, nil
}

var _ purge.Observer = (*History)(nil)
