/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import "github.com/yatool/localcache/action"

// These wrap action.Store's four externally visible operations so that
// every client-driven mutation folds its size/count diff into Metrics the
// same way a GC sweep does: the action store has no reference back to
// Metrics, so this is the one seam every caller that isn't a background
// worker is expected to go through instead of reaching into Store()
// directly.

// PutUid wraps action.Store.PutUid, folding the result's diffs into Metrics.
func (d *Daemon) PutUid(req action.PutUidRequest, accessCnt int64) (action.Result, error) {
	res, err := d.store.PutUid(req, accessCnt)
	if err == nil {
		d.metrics.Add(res.TotalSizeDiff, res.TotalFsSizeDiff, res.AcsDiff, res.BlobDiff)
	}
	return res, err
}

// GetUid wraps action.Store.GetUid, folding the result's diffs into Metrics.
func (d *Daemon) GetUid(req action.GetUidRequest, accessCnt int64) (action.Result, error) {
	res, err := d.store.GetUid(req, accessCnt)
	if err == nil {
		d.metrics.Add(res.TotalSizeDiff, res.TotalFsSizeDiff, res.AcsDiff, res.BlobDiff)
	}
	return res, err
}

// RemoveUid wraps action.Store.RemoveUid, folding the result's diffs into
// Metrics.
func (d *Daemon) RemoveUid(req action.RemoveUidRequest) (action.Result, error) {
	res, err := d.store.RemoveUid(req)
	if err == nil {
		d.metrics.Add(res.TotalSizeDiff, res.TotalFsSizeDiff, res.AcsDiff, res.BlobDiff)
	}
	return res, err
}

// HasUid wraps action.Store.HasUid. It never mutates the cache footprint,
// so there's no diff to fold into Metrics.
func (d *Daemon) HasUid(req action.HasUidRequest, accessCnt int64) (action.Result, error) {
	return d.store.HasUid(req, accessCnt)
}

// PutDeps wraps action.Store.PutDeps. Dependency edges carry no size/count
// footprint, so there's no diff to fold into Metrics.
func (d *Daemon) PutDeps(nodeHash string, requiredHashes []string) (action.DepsResult, error) {
	return d.store.PutDeps(nodeHash, requiredHashes)
}
