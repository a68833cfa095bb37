/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package gc

import "go.uber.org/atomic"

// CancelCallback is the cooperative stop signal threaded through every
// sweep: a synchronous selector checks it between batches, the async
// eviction loop checks it between individual removals. It also carries the
// async loop's resume point across invocations, so a steady-state worker
// that gets interrupted picks back up where it left off instead of
// rescanning from the oldest action every tick.
type CancelCallback struct {
	cursor          atomic.Int64
	cancelPending   atomic.Bool
	shutdownPending atomic.Bool
	belowWatermark  func() bool
}

// NewCancelCallback builds a CancelCallback whose IsLimitReached reports
// belowWatermark's result — typically a disk-usage or cache-size check that
// becomes true once eviction has freed enough space. belowWatermark may be
// nil for selectors driven purely by an explicit byte/age/size target.
func NewCancelCallback(belowWatermark func() bool) *CancelCallback {
	return &CancelCallback{belowWatermark: belowWatermark}
}

// IsLimitReached reports whether the configured watermark has been
// satisfied and the running sweep can stop early.
func (c *CancelCallback) IsLimitReached() bool {
	return c.belowWatermark != nil && c.belowWatermark()
}

// IsCancellationPending reports whether a caller asked this sweep to stop
// at the next safe checkpoint, leaving its resume cursor intact.
func (c *CancelCallback) IsCancellationPending() bool { return c.cancelPending.Load() }

// IsShutdownPending reports whether the daemon is exiting; sweeps check
// this more eagerly than cancellation, since there's no point starting a
// new batch transaction moments before the process dies.
func (c *CancelCallback) IsShutdownPending() bool { return c.shutdownPending.Load() }

func (c *CancelCallback) RequestCancel() { c.cancelPending.Store(true) }

func (c *CancelCallback) RequestShutdown() { c.shutdownPending.Store(true) }

// Cursor returns the last_access counter the async eviction loop should
// resume scanning from.
func (c *CancelCallback) Cursor() int64 { return c.cursor.Load() }

// SetCursor records the async eviction loop's resume point.
func (c *CancelCallback) SetCursor(v int64) { c.cursor.Store(v) }
