// Purge belt host metrics
//
// Counters, gauges and histograms for binding conflicts, linked motion
// sessions, belt synchronization, purge cycles and g-code commands,
// exported in the Prometheus text format.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"purgebelt-go/pkg/actuator"
	"purgebelt-go/pkg/purge"
)

const namespace = "purgebelt"

// HostMetrics holds every host metric on its own registry.
type HostMetrics struct {
	PurgeCycles      *prometheus.CounterVec
	PurgeSegments    prometheus.Counter
	PurgeVolume      prometheus.Counter
	PurgeCycleTime   prometheus.Histogram
	PurgePhases      *prometheus.CounterVec
	LinkSessions     *prometheus.CounterVec
	BindingConflicts *prometheus.CounterVec
	BeltSynced       prometheus.Gauge
	GCodeCommands    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewHostMetrics creates and registers all host metrics. Go runtime and
// process collectors are registered alongside.
func NewHostMetrics() *HostMetrics {
	hm := &HostMetrics{registry: prometheus.NewRegistry()}

	hm.PurgeCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_cycles_total",
		Help:      "Purge cycles run, by result",
	}, []string{"result"})
	hm.PurgeSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_segments_total",
		Help:      "Purge segments extruded",
	})
	hm.PurgeVolume = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_volume_mm3_total",
		Help:      "Filament volume purged by successful cycles",
	})
	hm.PurgeCycleTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "purge_cycle_seconds",
		Help:      "Wall time of purge cycles",
		Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 60, 300},
	})
	hm.PurgePhases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_phases_total",
		Help:      "Purge cycle phases started, by phase",
	}, []string{"phase"})
	hm.LinkSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_sessions_total",
		Help:      "Linked motion sessions, by target and result",
	}, []string{"target", "result"})
	hm.BindingConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "binding_conflicts_total",
		Help:      "Manual commands rejected because the actuator was bound",
	}, []string{"actuator"})
	hm.BeltSynced = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "belt_synced",
		Help:      "Purge belt synchronization state (1=synced, 0=free)",
	})
	hm.GCodeCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gcode_commands_total",
		Help:      "G-code commands executed, by command and result",
	}, []string{"command", "result"})

	hm.registry.MustRegister(
		hm.PurgeCycles, hm.PurgeSegments, hm.PurgeVolume, hm.PurgeCycleTime,
		hm.PurgePhases, hm.LinkSessions, hm.BindingConflicts, hm.BeltSynced,
		hm.GCodeCommands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return hm
}

// Registry returns the registry the metrics live on.
func (hm *HostMetrics) Registry() *prometheus.Registry {
	return hm.registry
}

// Handler serves the registry.
func (hm *HostMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(hm.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// BindingConflict implements actuator.Observer.
func (hm *HostMetrics) BindingConflict(name string) {
	hm.BindingConflicts.WithLabelValues(name).Inc()
}

// LinkSession implements actuator.Observer.
func (hm *HostMetrics) LinkSession(_, target string, err error) {
	hm.LinkSessions.WithLabelValues(target, result(err)).Inc()
}

// Phase implements purge.Observer.
func (hm *HostMetrics) Phase(ev purge.PhaseEvent) {
	hm.PurgePhases.WithLabelValues(string(ev.Phase)).Inc()
	if ev.Phase == purge.PhaseExtrude {
		hm.PurgeSegments.Inc()
	}
}

// CycleDone implements purge.Observer.
func (hm *HostMetrics) CycleDone(_ string, p purge.Params, elapsed time.Duration, err error) {
	hm.PurgeCycles.WithLabelValues(result(err)).Inc()
	hm.PurgeCycleTime.Observe(elapsed.Seconds())
	if err == nil {
		hm.PurgeVolume.Add(p.Volume)
	}
}

// SetBeltSynced records the belt synchronization state.
func (hm *HostMetrics) SetBeltSynced(synced bool) {
	if synced {
		hm.BeltSynced.Set(1)
		return
	}
	hm.BeltSynced.Set(0)
}

// GCodeCommand records one executed command.
func (hm *HostMetrics) GCodeCommand(name string, err error) {
	hm.GCodeCommands.WithLabelValues(name, result(err)).Inc()
}

var (
	_ actuator.Observer = (*HostMetrics)(nil)
	_ purge.Observer    = (*HostMetrics)(nil)
)
