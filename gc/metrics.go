/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package gc

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Metrics tracks the running cache footprint (actions, blobs, bytes) so the
// integrity handler can answer "how close are we to the watermark" without a
// full table scan, and exports the same counters to Prometheus. Metrics has
// no reference back to the action store: every PutUid/GetUid/RemoveUid and
// every GC sweep result must be folded into it through Add by its caller
// (the daemon's request wrappers for the client path, the GC selectors for
// sweeps) — Reconcile additionally corrects any drift by recomputing the
// totals straight from the database.
type Metrics struct {
	totalSize   atomic.Int64
	totalFsSize atomic.Int64
	totalAcs    atomic.Int64
	totalBlobs  atomic.Int64

	promSize   prometheus.Gauge
	promFsSize prometheus.Gauge
	promAcs    prometheus.Gauge
	promBlobs  prometheus.Gauge

	evictedActions prometheus.Counter
	evictedBytes   prometheus.Counter
}

// NewMetrics builds a Metrics and registers its gauges/counters with reg. A
// nil reg is valid — the in-process counters still work, just unexported to
// Prometheus — for components that run without an HTTP metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cached_total_size_bytes",
			Help: "Sum of logical sizes of all cached blobs.",
		}),
		promFsSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cached_total_fs_size_bytes",
			Help: "Sum of on-disk sizes of all cached blobs.",
		}),
		promAcs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cached_actions_total",
			Help: "Number of cached actions.",
		}),
		promBlobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cached_blobs_total",
			Help: "Number of distinct blobs referenced by cached actions.",
		}),
		evictedActions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cached_gc_evicted_actions_total",
			Help: "Actions removed by the garbage collector.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cached_gc_evicted_bytes_total",
			Help: "On-disk bytes freed by the garbage collector.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promSize, m.promFsSize, m.promAcs, m.promBlobs, m.evictedActions, m.evictedBytes)
	}
	return m
}

// Add folds one operation's effect on the cache footprint into the running
// totals: sizeDiff/fsDiff in bytes, acsDiff/blobDiff in row counts, any of
// which may be negative for a removal.
func (m *Metrics) Add(sizeDiff, fsDiff, acsDiff, blobDiff int64) {
	size := m.totalSize.Add(sizeDiff)
	fsSize := m.totalFsSize.Add(fsDiff)
	acs := m.totalAcs.Add(acsDiff)
	blobs := m.totalBlobs.Add(blobDiff)
	m.promSize.Set(float64(size))
	m.promFsSize.Set(float64(fsSize))
	m.promAcs.Set(float64(acs))
	m.promBlobs.Set(float64(blobs))
	if fsDiff < 0 {
		m.evictedBytes.Add(float64(-fsDiff))
	}
	if acsDiff < 0 {
		m.evictedActions.Add(float64(-acsDiff))
	}
}

// TotalFsSize returns the current on-disk footprint estimate.
func (m *Metrics) TotalFsSize() int64 { return m.totalFsSize.Load() }

// TotalActions returns the current cached-action count estimate.
func (m *Metrics) TotalActions() int64 { return m.totalAcs.Load() }

// Snapshot is the persisted form of the running totals, saved across a
// graceful restart so the gauges don't read zero until the next full sweep
// recomputes them from the database.
type Snapshot struct {
	TotalSize   int64 `json:"total_size"`
	TotalFsSize int64 `json:"total_fs_size"`
	TotalAcs    int64 `json:"total_acs"`
	TotalBlobs  int64 `json:"total_blobs"`
}

// Snapshot captures the current running totals.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalSize:   m.totalSize.Load(),
		TotalFsSize: m.totalFsSize.Load(),
		TotalAcs:    m.totalAcs.Load(),
		TotalBlobs:  m.totalBlobs.Load(),
	}
}

// Restore seeds the running totals from a previously saved Snapshot. Call it
// once at startup, before any Add, so later deltas land on top of the
// restored baseline instead of zero.
func (m *Metrics) Restore(s Snapshot) {
	m.totalSize.Store(s.TotalSize)
	m.totalFsSize.Store(s.TotalFsSize)
	m.totalAcs.Store(s.TotalAcs)
	m.totalBlobs.Store(s.TotalBlobs)
	m.promSize.Set(float64(s.TotalSize))
	m.promFsSize.Set(float64(s.TotalFsSize))
	m.promAcs.Set(float64(s.TotalAcs))
	m.promBlobs.Set(float64(s.TotalBlobs))
}
