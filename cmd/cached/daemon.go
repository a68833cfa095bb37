// Package main is the illustrative host process for the cache core: it
// wires the content store, action store, integrity handler, and reaper
// together the way the original service layer's StartProcessing sequenced
// them, and exposes the action-store operations as direct Go method calls
// rather than through an RPC layer — there is no client/server boundary
// here, just the daemon that a future transport would sit in front of.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yatool/localcache/action"
	"github.com/yatool/localcache/blobstore"
	"github.com/yatool/localcache/cas"
	"github.com/yatool/localcache/diskstat"
	"github.com/yatool/localcache/gc"
	"github.com/yatool/localcache/internal/config"
	"github.com/yatool/localcache/internal/dbkit"
	"github.com/yatool/localcache/reaper"
)

// metricsSnapshotName is where the running totals are persisted across a
// graceful restart, read back in Open and written out in Close.
const metricsSnapshotName = ".metrics_snapshot.json"

// recreateMarker is the name of the file a critical-error handler drops
// next to the store to force a full rebuild on the next start, mirroring
// the original's GetCriticalErrorMarkerFileName convention.
const recreateMarker = ".recreate_db"

// Config is the daemon's startup configuration, populated from CLI flags.
type Config struct {
	StoreDir      string
	DBPath        string
	RecreateDB    bool
	GCLimitBytes  int64 // value of --gc-limit; ForceGC takes its target as an argument and does not read this field
	LowWatermark  int   // percent
	HighWatermark int   // percent
	ReapInterval  time.Duration
	SweepInterval time.Duration
}

// Daemon owns every long-lived component and the background loops that
// drive them.
type Daemon struct {
	cfg     Config
	db      *dbkit.DB
	store   *action.Store
	gc      *gc.GC
	metrics *gc.Metrics
	disk    *diskstat.Checker
	reaper  *reaper.Reaper

	cancel context.CancelFunc
	wg     sync.WaitGroup

	recreated bool
}

// Open starts the daemon: it honors a pending recreate marker or an
// explicit RecreateDB flag by wiping the blob store and database before
// opening them, exactly the order the original's StartProcessing enforces
// (recreate, then open, then only clear the marker on success).
func Open(cfg Config) (*Daemon, error) {
	marker := filepath.Join(cfg.StoreDir, recreateMarker)
	recreate := cfg.RecreateDB
	if _, err := os.Stat(marker); err == nil {
		recreate = true
		glog.Infof("recreate marker present at %s, rebuilding store", marker)
	}

	if recreate {
		if err := blobstore.Recreate(cfg.StoreDir); err != nil {
			return nil, err
		}
		os.Remove(cfg.DBPath)
	} else if err := blobstore.InitBuckets(cfg.StoreDir); err != nil {
		return nil, err
	}

	db, err := dbkit.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	if !recreate {
		if bad, serr := blobstore.ScanIntegrity(context.Background(), cfg.StoreDir); serr != nil {
			glog.Warningf("integrity scan: %v", serr)
		} else if len(bad) > 0 {
			for _, c := range bad {
				glog.Errorf("integrity scan: corrupt blob %s: want %s got %s (%v)", c.Path, c.WantUID, c.GotUID, c.ScanErr)
			}
		}
	}

	casMgr := cas.New(cfg.StoreDir)
	store := action.NewStore(db, casMgr, cfg.StoreDir)
	metrics := gc.NewMetrics(prometheus.DefaultRegisterer)
	if snap, serr := loadMetricsSnapshot(cfg.StoreDir); serr == nil {
		metrics.Restore(snap)
	}
	gcHandler := gc.New(store, metrics)
	if _, err := gcHandler.Reconcile(nil, gc.NewCancelCallback(nil)); err != nil {
		glog.Errorf("gc: startup stats reconciliation: %v", err)
	}
	disk := diskstat.New(cfg.StoreDir)
	rp := reaper.New(store, nil)

	d := &Daemon{
		cfg: cfg, db: db, store: store, gc: gcHandler,
		metrics: metrics, disk: disk, reaper: rp, recreated: recreate,
	}

	if recreate {
		os.Remove(marker)
	}
	return d, nil
}

func loadMetricsSnapshot(storeDir string) (gc.Snapshot, error) {
	var snap gc.Snapshot
	err := config.Load(filepath.Join(storeDir, metricsSnapshotName), &snap)
	return snap, err
}

// Run starts the reaper and steady-state eviction background loops; it
// returns immediately, and the loops stop once ctx is cancelled or Close is
// called.
func (d *Daemon) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.reaper.Run(ctx, d.cfg.ReapInterval, func(deadTaskIDs []string) {
			// Sweep has already released these task ids' locks itself; pass
			// nil rather than deadTaskIDs so Reconcile doesn't redo that work,
			// and runs straight to its stats reconciliation pass.
			if _, err := d.gc.Reconcile(nil, gc.NewCancelCallback(nil)); err != nil {
				glog.Errorf("gc: reconcile dead tasks: %v", err)
			}
		})
	}()
	go func() {
		defer d.wg.Done()
		d.runEvictionLoop(ctx)
	}()
}

func (d *Daemon) runEvictionLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target, err := d.disk.EvictionTarget(d.cfg.LowWatermark, d.cfg.HighWatermark)
			if err != nil {
				glog.Errorf("diskstat: %v", err)
				continue
			}
			if target <= 0 {
				continue
			}
			cb := gc.NewCancelCallback(nil)
			if err := d.gc.TotalSize(target, cb); err != nil {
				glog.Errorf("gc: steady-state sweep: %v", err)
			}
		}
	}
}

// ForceGC drives an immediate synchronous shrink to targetBytes, the
// direct-call equivalent of the original's ForceGC RPC.
func (d *Daemon) ForceGC(targetBytes int64) error {
	excess := d.metrics.TotalFsSize() - targetBytes
	if excess <= 0 {
		return nil
	}
	return d.gc.TotalSize(excess, gc.NewCancelCallback(nil))
}

// ReleaseAll honors a client's own shutdown notice ahead of the reaper's
// next liveness probe, the direct-call equivalent of the original's
// ReleaseAll RPC.
func (d *Daemon) ReleaseAll(taskID string) {
	d.reaper.CooperativeRelease(taskID)
}

// Store exposes the underlying action store for read-only/administrative
// access (inspect, the background workers). Client mutations should go
// through PutUid/GetUid/RemoveUid/HasUid/PutDeps instead, which keep
// Metrics in sync with every diff.
func (d *Daemon) Store() *action.Store { return d.store }
func (d *Daemon) Metrics() *gc.Metrics { return d.metrics }
func (d *Daemon) Recreated() bool      { return d.recreated }

// Close stops the background loops, persists the running metrics totals so
// the next Open can seed from them, and closes the database handle.
func (d *Daemon) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	snapPath := filepath.Join(d.cfg.StoreDir, metricsSnapshotName)
	if err := config.Save(snapPath, d.metrics.Snapshot()); err != nil {
		glog.Errorf("save metrics snapshot: %v", err)
	}
	return d.db.Close()
}
