// Package gc is the integrity handler: the component that keeps the cache
// within its configured size and age bounds by evicting actions nobody
// currently holds, oldest (by access) first. It drives three synchronous
// selectors used for an immediate, targeted cleanup — shrink to a byte
// target, drop anything older than an age limit, drop actions that
// reference oversized blobs — plus a steady-state asynchronous eviction
// loop meant to run continuously in the background, resuming across ticks
// from a saved cursor rather than rescanning from scratch.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package gc

import (
	"github.com/golang/glog"

	"github.com/yatool/localcache/action"
	"github.com/yatool/localcache/internal/dbkit"
)

// maxRemoveCount bounds how many actions one selector batch removes under a
// single database transaction and transaction log commit, keeping any one
// commit's blast radius (and rollback cost on failure) bounded regardless of
// how much work a selector has queued up.
const maxRemoveCount = 500

// GC drives eviction sweeps over one action store.
type GC struct {
	store   *action.Store
	metrics *Metrics
}

func New(store *action.Store, metrics *Metrics) *GC {
	return &GC{store: store, metrics: metrics}
}

// TotalSize evicts actions in ascending last-access order — oldest checked
// first — until targetBytes worth of on-disk storage has been freed or
// there's nothing left unlocked to remove.
func (g *GC) TotalSize(targetBytes int64, cb *CancelCallback) error {
	var freed int64
	cursor := ""
	for {
		if cb.IsShutdownPending() {
			return nil
		}
		tl, err := g.store.NewTxLog("gc-total-size")
		if err != nil {
			return err
		}
		var (
			batchRemoved int
			sawAny       bool
			nextCursor   string
		)
		txErr := g.store.DB().WithTx(dbkit.Exclusive, -1, func(tx *dbkit.Tx) error {
			return g.store.AscendByLastAccess(tx, cursor, func(uid string, lastAccess int64) bool {
				sawAny = true
				nextCursor = paddedAccess(lastAccess)
				if batchRemoved >= maxRemoveCount || freed >= targetBytes {
					return false
				}
				reqCount, err := g.store.RequestCount(tx, uid)
				if err != nil || reqCount > 0 {
					return true
				}
				sizeDiff, fsDiff, blobDiff, err := g.store.RemoveUidNestedTx(tx, tl, uid)
				if err != nil {
					return true
				}
				freed += -fsDiff
				batchRemoved++
				g.metrics.Add(sizeDiff, fsDiff, -1, -blobDiff)
				return true
			})
		})
		if txErr != nil {
			tl.Rollback()
			return txErr
		}
		if err := tl.Commit(); err != nil {
			return err
		}
		if !sawAny || freed >= targetBytes || cb.IsCancellationPending() || cb.IsShutdownPending() {
			return nil
		}
		cursor = nextCursor
	}
}

// OldItems evicts actions in ascending last-access-time order, stopping as
// soon as it reaches one whose last access is at or after ageLimitMillis —
// everything older than that cutoff gets dropped, everything younger is
// left alone.
func (g *GC) OldItems(ageLimitMillis int64, cb *CancelCallback) error {
	cursor := ""
	for {
		if cb.IsShutdownPending() {
			return nil
		}
		tl, err := g.store.NewTxLog("gc-old-items")
		if err != nil {
			return err
		}
		var (
			batchRemoved int
			sawAny       bool
			nextCursor   string
			reachedLimit bool
		)
		txErr := g.store.DB().WithTx(dbkit.Exclusive, -1, func(tx *dbkit.Tx) error {
			return g.store.AscendByLastAccessTime(tx, cursor, func(uid string, lastAccessTime int64) bool {
				if lastAccessTime >= ageLimitMillis {
					reachedLimit = true
					return false
				}
				sawAny = true
				nextCursor = paddedAccess(lastAccessTime)
				if batchRemoved >= maxRemoveCount {
					return false
				}
				reqCount, err := g.store.RequestCount(tx, uid)
				if err != nil || reqCount > 0 {
					return true
				}
				sizeDiff, fsDiff, blobDiff, err := g.store.RemoveUidNestedTx(tx, tl, uid)
				if err != nil {
					return true
				}
				batchRemoved++
				g.metrics.Add(sizeDiff, fsDiff, -1, -blobDiff)
				return true
			})
		})
		if txErr != nil {
			tl.Rollback()
			return txErr
		}
		if err := tl.Commit(); err != nil {
			return err
		}
		if !sawAny || reachedLimit || cb.IsCancellationPending() || cb.IsShutdownPending() {
			return nil
		}
		cursor = nextCursor
	}
}

// BigBlobs evicts every action that references a blob at or above
// blobSizeLimit bytes on disk — the selector aimed at a handful of outsized
// artifacts rather than the general LRU population.
func (g *GC) BigBlobs(blobSizeLimit int64, cb *CancelCallback) error {
	var startRow int64
	for {
		if cb.IsShutdownPending() {
			return nil
		}
		tl, err := g.store.NewTxLog("gc-big-blobs")
		if err != nil {
			return err
		}
		var (
			batchRemoved int
			sawAny       bool
			nextStartRow int64
		)
		txErr := g.store.DB().WithTx(dbkit.Exclusive, -1, func(tx *dbkit.Tx) error {
			blobUIDs, next, err := g.store.CAS().NextChunk(tx, startRow)
			if err != nil {
				return err
			}
			nextStartRow = next
			for _, blobUID := range blobUIDs {
				sawAny = true
				row, found, err := g.store.CAS().Row(tx, blobUID)
				if err != nil {
					return err
				}
				if !found || row.FsSize < blobSizeLimit {
					continue
				}
				actionUIDs, err := g.store.ActionsForBlob(tx, blobUID)
				if err != nil {
					return err
				}
				for _, uid := range actionUIDs {
					if batchRemoved >= maxRemoveCount {
						return nil
					}
					reqCount, err := g.store.RequestCount(tx, uid)
					if err != nil || reqCount > 0 {
						continue
					}
					sizeDiff, fsDiff, blobDiff, err := g.store.RemoveUidNestedTx(tx, tl, uid)
					if err != nil {
						continue
					}
					batchRemoved++
					g.metrics.Add(sizeDiff, fsDiff, -1, -blobDiff)
				}
			}
			return nil
		})
		if txErr != nil {
			tl.Rollback()
			return txErr
		}
		if err := tl.Commit(); err != nil {
			return err
		}
		if !sawAny || nextStartRow == 0 || cb.IsCancellationPending() || cb.IsShutdownPending() {
			return nil
		}
		startRow = nextStartRow
	}
}

// RunAsyncEviction is the steady-state eviction loop: scan actions in
// ascending last-access order, evicting unreferenced ones, until cb reports
// the configured watermark has been satisfied or a stop was requested. It
// resumes from cb's saved cursor and wraps back to the beginning once the
// whole table has been scanned without hitting the watermark, so a
// long-running worker that calls this repeatedly sweeps the cache evenly
// rather than starving the tail end of the LRU order.
func (g *GC) RunAsyncEviction(cb *CancelCallback) error {
	cursor := paddedAccess(cb.Cursor())
	for {
		if cb.IsShutdownPending() || cb.IsCancellationPending() || cb.IsLimitReached() {
			return nil
		}
		tl, err := g.store.NewTxLog("gc-async-evict")
		if err != nil {
			return err
		}
		var (
			batchRemoved int
			sawAny       bool
			lastAccess   int64
		)
		txErr := g.store.DB().WithTx(dbkit.Exclusive, -1, func(tx *dbkit.Tx) error {
			return g.store.AscendByLastAccess(tx, cursor, func(uid string, la int64) bool {
				sawAny = true
				lastAccess = la
				if batchRemoved >= maxRemoveCount || cb.IsLimitReached() {
					return false
				}
				reqCount, err := g.store.RequestCount(tx, uid)
				if err != nil || reqCount > 0 {
					return true
				}
				sizeDiff, fsDiff, blobDiff, err := g.store.RemoveUidNestedTx(tx, tl, uid)
				if err != nil {
					return true
				}
				batchRemoved++
				g.metrics.Add(sizeDiff, fsDiff, -1, -blobDiff)
				return true
			})
		})
		if txErr != nil {
			tl.Rollback()
			return txErr
		}
		if err := tl.Commit(); err != nil {
			return err
		}
		if !sawAny {
			cb.SetCursor(0)
			return nil
		}
		cb.SetCursor(lastAccess)
		cursor = paddedAccess(lastAccess)
		if cb.IsLimitReached() || cb.IsCancellationPending() || cb.IsShutdownPending() {
			return nil
		}
	}
}

func paddedAccess(v int64) string { return dbkit.PaddedInt64(v) }

// RecomputeStats rescans the blobs and acs tables from scratch and
// overwrites the running Metrics totals with what it finds, logging
// whatever drift had accumulated against the counters it replaces. This
// is the reconciliation the original's ResetStats performed by requerying
// StatStmts_.GetStatistics(): Add alone only ever folds in one operation's
// delta, so any bug or missed call site on the write path compounds
// silently until something recomputes the truth from the tables
// themselves.
func (g *GC) RecomputeStats(tx *dbkit.Tx) (Snapshot, error) {
	blobCount, totalSize, totalFsSize, err := g.store.CAS().Stats(tx)
	if err != nil {
		return Snapshot{}, err
	}
	acsCount, err := g.store.ActionCount(tx)
	if err != nil {
		return Snapshot{}, err
	}
	fresh := Snapshot{
		TotalSize:   totalSize,
		TotalFsSize: totalFsSize,
		TotalAcs:    acsCount,
		TotalBlobs:  blobCount,
	}
	if prev := g.metrics.Snapshot(); prev != fresh {
		glog.Warningf("gc: stats drift corrected: size %d->%d fssize %d->%d acs %d->%d blobs %d->%d",
			prev.TotalSize, fresh.TotalSize, prev.TotalFsSize, fresh.TotalFsSize,
			prev.TotalAcs, fresh.TotalAcs, prev.TotalBlobs, fresh.TotalBlobs)
	}
	g.metrics.Restore(fresh)
	return fresh, nil
}

// Reconcile releases every lock held by a dead task: deadTaskIDs is the
// reaper's verdict on which task ids no longer correspond to a running
// process. Each release decrements the request count of every action that
// task held, batched at maxRemoveCount tasks per commit so a large backlog
// of dead tasks doesn't hold the writer lock for one huge transaction. It
// then closes with a full stats reconciliation pass (RecomputeStats),
// regardless of whether any locks were actually released, so a worker
// calling Reconcile on a cadence also gets periodic drift correction for
// free.
func (g *GC) Reconcile(deadTaskIDs []string, cb *CancelCallback) (released int, err error) {
	for len(deadTaskIDs) > 0 {
		if cb.IsShutdownPending() || cb.IsCancellationPending() {
			return released, nil
		}
		batch := deadTaskIDs
		if len(batch) > maxRemoveCount {
			batch = batch[:maxRemoveCount]
		}
		deadTaskIDs = deadTaskIDs[len(batch):]

		txErr := g.store.DB().WithTx(dbkit.Exclusive, -1, func(tx *dbkit.Tx) error {
			for _, taskID := range batch {
				n, rerr := g.store.ReleaseTask(tx, taskID)
				if rerr != nil {
					return rerr
				}
				released += n
			}
			return nil
		})
		if txErr != nil {
			return released, txErr
		}
	}
	if cb.IsShutdownPending() || cb.IsCancellationPending() {
		return released, nil
	}
	rerr := g.store.DB().WithTx(dbkit.Deferred, -1, func(tx *dbkit.Tx) error {
		_, err := g.RecomputeStats(tx)
		return err
	})
	return released, rerr
}
