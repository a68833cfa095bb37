// Package reaper is the running-process reaper: it periodically walks the
// set of tasks currently holding a cache lock, drops the locks of any task
// whose process is no longer running, and honors an explicit cooperative
// release from a client that tells us it's done rather than waiting for the
// next liveness probe.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/yatool/localcache/action"
	"github.com/yatool/localcache/internal/dbkit"
)

// baseline is the queue-size floor below which the sweep loop sleeps a flat
// interval between ticks; above it, the sleep shortens roughly in
// proportion to the backlog, so a cache busy with hundreds of live
// consumers reaps faster than an idle one.
const baseline = 32

// Reaper owns the liveness sweep over one action store.
type Reaper struct {
	store   *action.Store
	checker ProcessChecker

	mu          sync.Mutex
	cooperative map[string]bool
}

// New builds a Reaper. A nil checker defaults to UnixChecker.
func New(store *action.Store, checker ProcessChecker) *Reaper {
	if checker == nil {
		checker = UnixChecker{}
	}
	return &Reaper{store: store, checker: checker, cooperative: make(map[string]bool)}
}

// CooperativeRelease marks taskID as explicitly released by its owner (a
// client disconnect notification), so the next sweep drops its locks
// immediately instead of waiting on a liveness probe to catch up.
func (r *Reaper) CooperativeRelease(taskID string) {
	r.mu.Lock()
	r.cooperative[taskID] = true
	r.mu.Unlock()
}

// Sweep walks every task currently holding at least one lock, drops the
// locks of any task that's cooperatively released or fails the liveness
// probe, and returns the dead task ids plus how many tasks were scanned
// (the backlog size Run uses to pace itself).
func (r *Reaper) Sweep() (dead []string, scanned int, err error) {
	var tasks []action.TaskLiveness
	if err := r.store.DB().WithTx(dbkit.Deferred, 0, func(tx *dbkit.Tx) error {
		var terr error
		tasks, terr = r.store.Tasks(tx)
		return terr
	}); err != nil {
		return nil, 0, err
	}
	scanned = len(tasks)

	r.mu.Lock()
	cooperative := r.cooperative
	r.cooperative = make(map[string]bool)
	r.mu.Unlock()

	for _, t := range tasks {
		if cooperative[t.TaskID] || !r.checker.Alive(t.PID, t.StartTime) {
			dead = append(dead, t.TaskID)
		}
	}
	if len(dead) == 0 {
		return nil, scanned, nil
	}

	err = r.store.DB().WithTx(dbkit.Exclusive, -1, func(tx *dbkit.Tx) error {
		for _, taskID := range dead {
			if _, rerr := r.store.ReleaseTask(tx, taskID); rerr != nil {
				return rerr
			}
		}
		return nil
	})
	return dead, scanned, err
}

// Run drives Sweep on a steady cadence until ctx is cancelled. onDead, if
// non-nil, is called with each sweep's dead task ids — cmd/cached wires it
// to the integrity handler's stats reconciliation pass (GC.Reconcile); it
// does not start an eviction sweep.
func (r *Reaper) Run(ctx context.Context, pollInterval time.Duration, onDead func([]string)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		dead, scanned, err := r.Sweep()
		if err != nil {
			glog.Errorf("reaper: sweep failed: %v", err)
		} else if len(dead) > 0 && onDead != nil {
			onDead(dead)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval + throttle(scanned)):
		}
	}
}

// throttle mirrors the original polling backoff: a flat 50ms below the
// baseline backlog, shortening roughly in proportion to how far over
// baseline the current task count runs.
func throttle(queueSize int) time.Duration {
	const base = 50 * time.Millisecond
	if queueSize <= baseline {
		return base
	}
	micros := base.Microseconds() / int64(queueSize-baseline)
	if micros < 1 {
		micros = 1
	}
	return time.Duration(micros) * time.Microsecond
}
