/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package action

import (
	"strconv"
	"time"

	"github.com/yatool/localcache/blobstore"
	"github.com/yatool/localcache/cas"
	"github.com/yatool/localcache/internal/dbkit"
	"github.com/yatool/localcache/internal/errs"
)

// Store is the Action Store: it owns the relational tables above and
// drives every filesystem mutation they imply through a Manager and a
// Transaction Log, following the commit-ordering discipline the content
// store already exercises — stage everything inside the database
// transaction, and only call TxLog.Commit once the database transaction
// itself has committed.
type Store struct {
	db   *dbkit.DB
	cas  *cas.Manager
	root string
	// async controls whether scratch directories use the collision-avoiding
	// suffix search; NewStore leaves it false and nothing in this package
	// sets it.
	async bool
	// maxPutRetries bounds BUSY/LOCKED retries for writer transactions.
	maxPutRetries int
}

func NewStore(db *dbkit.DB, casMgr *cas.Manager, blobRoot string) *Store {
	return &Store{db: db, cas: casMgr, root: blobRoot, maxPutRetries: 8}
}

// DB exposes the underlying transactional handle for callers that need to
// drive their own batched transactions spanning many actions (the garbage
// collector's sweep loop).
func (s *Store) DB() *dbkit.DB { return s.db }

// CAS exposes the content-addressed manager this store composes, for
// callers that need to drive content-store-level scans (the garbage
// collector's BigBlobs selector).
func (s *Store) CAS() *cas.Manager { return s.cas }

// NewTxLog opens a scratch area for a caller (the garbage collector) that
// batches many removals under one logical transaction.
func (s *Store) NewTxLog(taskID string) (*blobstore.TxLog, error) {
	return blobstore.New(s.root, taskID, s.async)
}

// RemoveUidNestedTx removes actionUID inside a caller-supplied transaction
// and transaction log, for batched garbage-collection sweeps that need to
// remove many actions under one commit.
func (s *Store) RemoveUidNestedTx(tx *dbkit.Tx, tl *blobstore.TxLog, actionUID string) (sizeDiff, fsDiff, blobDiff int64, err error) {
	return s.removeUidNested(tx, tl, actionUID)
}

// RequestCount returns the live-consumer count currently recorded for uid.
func (s *Store) RequestCount(tx *dbkit.Tx, uid string) (int64, error) {
	row, _, err := getGc(tx, uid)
	return row.RequestCount, err
}

// AscendByLastAccess walks actions in ascending last-access-counter order,
// starting after the given counter value (PaddedInt64-formatted, "" for
// the beginning), the synchronous TotalSize/age-agnostic GC selector scan.
func (s *Store) AscendByLastAccess(tx *dbkit.Tx, after string, fn func(uid string, lastAccess int64) bool) error {
	return acsGcTable.AscendIndex(tx, idxByLastAccess, after, func(id, sortKey string) bool {
		return fn(id, dbkit.ParsePaddedInt64(sortKey))
	})
}

// AscendByLastAccessTime walks actions in ascending last-access-time order,
// the OldItems GC selector scan.
func (s *Store) AscendByLastAccessTime(tx *dbkit.Tx, after string, fn func(uid string, lastAccessTime int64) bool) error {
	return acsGcTable.AscendIndex(tx, idxByLastAccessTTL, after, func(id, sortKey string) bool {
		return fn(id, dbkit.ParsePaddedInt64(sortKey))
	})
}

// ActionsForBlob returns every action uid currently referencing blobUID,
// the reverse lookup the BigBlobs GC selector needs to find which actions
// to remove once it has picked an oversized blob.
func (s *Store) ActionsForBlob(tx *dbkit.Tx, blobUID string) ([]string, error) {
	var actionUIDs []string
	err := acsBlobsTable.EachExact(tx, idxByBlob, blobUID, func(id string) bool {
		var edge BlobEdge
		if err := acsBlobsTable.Get(tx, id, &edge); err == nil {
			actionUIDs = append(actionUIDs, edge.ActionUID)
		}
		return true
	})
	return actionUIDs, err
}

// ActionCount recomputes the number of cached actions straight from the
// acs table, for the integrity handler's reconciliation pass.
func (s *Store) ActionCount(tx *dbkit.Tx) (int64, error) {
	ids, err := acsTable.List(tx)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func taskIDFor(explicit string, peer *Peer, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if peer != nil && peer.TaskGSID != "" {
		return peer.TaskGSID
	}
	return fallback
}

// PutUid implements put_uid: insert or replace the cached action at
// req.UID, referencing every blob in req.Blobs, and optionally locking the
// result for req.Peer. accessCnt is the caller-maintained monotonic access
// counter stamped onto the action's GC bookkeeping row.
func (s *Store) PutUid(req PutUidRequest, accessCnt int64) (Result, error) {
	taskID := taskIDFor(req.TaskID, req.Peer, req.UID)
	tl, err := blobstore.New(s.root, taskID, s.async)
	if err != nil {
		return Result{}, err
	}
	defer tl.Close()

	var result Result
	txErr := s.db.WithTx(dbkit.Exclusive, s.maxPutRetries, func(tx *dbkit.Tx) error {
		res, err := s.putUidTx(tx, tl, req, accessCnt, taskID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if txErr != nil {
		return Result{}, txErr
	}
	if err := tl.Commit(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Store) putUidTx(tx *dbkit.Tx, tl *blobstore.TxLog, req PutUidRequest, accessCnt int64, taskID string) (Result, error) {
	existing, found, err := getAction(tx, req.UID)
	if err != nil {
		return Result{}, err
	}

	if found && req.ReplacementMode == UseOldBlobs {
		if err := refreshGc(tx, req.UID, accessCnt, req.IsResult); err != nil {
			return Result{}, err
		}
		if req.Peer != nil {
			if err := lockRequest(tx, req.UID, req.Peer, taskID); err != nil {
				return Result{}, err
			}
		}
		return Result{Success: true, Origin: existing.Origin, CopyMode: blobstore.Rename}, nil
	}

	var (
		sizeDiff, fsDiff, blobDiff int64
		acsDiff                    int64
	)
	rowID := existing.RowID
	if found {
		rSize, rFs, rBlobs, err := s.removeBlobsFor(tx, tl, req.UID)
		if err != nil {
			return Result{}, err
		}
		sizeDiff += rSize
		fsDiff += rFs
		blobDiff -= rBlobs
	} else {
		acsDiff = 1
		rowID, err = nextActionRowID(tx)
		if err != nil {
			return Result{}, err
		}
	}

	row := ActionRow{
		UID: req.UID, Weight: req.Weight, Origin: req.Origin,
		NumBlobs: len(req.Blobs), RowID: rowID,
	}
	if err := acsTable.Put(tx, req.UID, row); err != nil {
		return Result{}, err
	}

	optims := make([]blobstore.Optim, 0, len(req.Blobs))
	for _, blob := range req.Blobs {
		putRes, err := s.cas.PutBlob(tx, tl, blob.Path, blob.Ceiling, 1)
		if err != nil {
			return Result{}, err
		}
		sizeDiff += putRes.SizeDiff
		fsDiff += putRes.FsSizeDiff
		optims = append(optims, putRes.Optim)
		blobDiff++

		edge := BlobEdge{ActionUID: req.UID, BlobUID: putRes.UID, RelativePath: blob.RelativePath}
		id := edgeKey(req.UID, blob.RelativePath)
		if err := acsBlobsTable.PutIndexed(tx, id, idxByAction, req.UID, edge); err != nil {
			return Result{}, err
		}
		if err := acsBlobsTable.PutIndexOnly(tx, idxByBlob, putRes.UID, id); err != nil {
			return Result{}, err
		}
	}

	if req.Peer != nil {
		if err := lockRequest(tx, req.UID, req.Peer, taskID); err != nil {
			return Result{}, err
		}
	}
	if err := refreshGc(tx, req.UID, accessCnt, req.IsResult); err != nil {
		return Result{}, err
	}

	return Result{
		Success: true, Origin: req.Origin,
		TotalSizeDiff: sizeDiff, TotalFsSizeDiff: fsDiff,
		CopyMode: blobstore.MeetAll(optims),
		AcsDiff:  acsDiff, BlobDiff: blobDiff,
	}, nil
}

// GetUid implements get_uid: materialize every blob of req.UID into
// req.DestPath, refresh its GC bookkeeping, and release the caller's lock
// on it if req.Release is set.
func (s *Store) GetUid(req GetUidRequest, accessCnt int64) (Result, error) {
	taskID := taskIDFor(req.TaskID, req.Peer, req.UID)
	tl, err := blobstore.New(s.root, taskID, s.async)
	if err != nil {
		return Result{}, err
	}
	defer tl.Close()

	var result Result
	txErr := s.db.WithTx(dbkit.Exclusive, s.maxPutRetries, func(tx *dbkit.Tx) error {
		res, err := s.getUidTx(tx, tl, req, accessCnt, taskID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if txErr != nil {
		return Result{}, txErr
	}
	if !result.Success {
		if err := tl.Rollback(); err != nil {
			return Result{}, err
		}
		return result, nil
	}
	if err := tl.Commit(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func (s *Store) getUidTx(tx *dbkit.Tx, tl *blobstore.TxLog, req GetUidRequest, accessCnt int64, taskID string) (Result, error) {
	row, found, err := getAction(tx, req.UID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{NotFound: true}, nil
	}

	var optims []blobstore.Optim
	var walkErr error
	if err := acsBlobsTable.EachExact(tx, idxByAction, req.UID, func(id string) bool {
		var edge BlobEdge
		if walkErr = acsBlobsTable.Get(tx, id, &edge); walkErr != nil {
			return false
		}
		getRes, err := s.cas.GetBlob(tx, tl, edge.BlobUID, req.DestPath, edge.RelativePath)
		if err != nil {
			walkErr = err
			return false
		}
		optims = append(optims, getRes.Optim)
		return true
	}); err != nil {
		return Result{}, err
	}
	if walkErr != nil {
		return Result{}, walkErr
	}

	if err := refreshGc(tx, req.UID, accessCnt, req.IsResult); err != nil {
		return Result{}, err
	}
	if req.Peer != nil && !req.Release {
		if err := lockRequest(tx, req.UID, req.Peer, taskID); err != nil {
			return Result{}, err
		}
	}
	if req.Release {
		if err := unlockRequest(tx, req.UID, taskID); err != nil {
			return Result{}, err
		}
	}

	return Result{Success: true, Origin: row.Origin, CopyMode: blobstore.MeetAll(optims)}, nil
}

// HasUid implements has_uid: a read-only existence probe that still
// refreshes the action's GC bookkeeping and, when a peer is supplied,
// acquires a lock — a consumer that checks before fetching shouldn't be
// evicted out from under the subsequent get_uid.
func (s *Store) HasUid(req HasUidRequest, accessCnt int64) (Result, error) {
	taskID := taskIDFor(req.TaskID, req.Peer, req.UID)
	var result Result
	err := s.db.WithTx(dbkit.Exclusive, s.maxPutRetries, func(tx *dbkit.Tx) error {
		row, found, err := getAction(tx, req.UID)
		if err != nil {
			return err
		}
		if !found {
			result = Result{NotFound: true}
			return nil
		}
		if err := refreshGc(tx, req.UID, accessCnt, req.IsResult); err != nil {
			return err
		}
		if req.Peer != nil {
			if err := lockRequest(tx, req.UID, req.Peer, taskID); err != nil {
				return err
			}
		}
		result = Result{Success: true, Origin: row.Origin}
		return nil
	})
	return result, err
}

// RemoveUid implements remove_uid: drop the cached action at req.UID
// unless it is still checked out by a live consumer, in which case the
// call is a no-op (Success: false) unless req.ForcedRemoval overrides it.
func (s *Store) RemoveUid(req RemoveUidRequest) (Result, error) {
	taskID := taskIDFor(req.TaskID, nil, req.UID)
	tl, err := blobstore.New(s.root, taskID, s.async)
	if err != nil {
		return Result{}, err
	}
	defer tl.Close()

	var result Result
	txErr := s.db.WithTx(dbkit.Exclusive, s.maxPutRetries, func(tx *dbkit.Tx) error {
		_, found, err := getAction(tx, req.UID)
		if err != nil {
			return err
		}
		if !found {
			result = Result{NotFound: true}
			return nil
		}
		gcRow, _, err := getGc(tx, req.UID)
		if err != nil {
			return err
		}
		if !req.ForcedRemoval && gcRow.RequestCount > 0 {
			result = Result{Success: false}
			return nil
		}
		sizeDiff, fsDiff, blobDiff, err := s.removeUidNested(tx, tl, req.UID)
		if err != nil {
			return err
		}
		result = Result{
			Success: true, TotalSizeDiff: sizeDiff, TotalFsSizeDiff: fsDiff,
			AcsDiff: -1, BlobDiff: -blobDiff,
		}
		return nil
	})
	if txErr != nil {
		return Result{}, txErr
	}
	if !result.Success {
		// NotFound or a live-consumer no-op: nothing was actually staged
		// for removal, so unwind the scratch area instead of promoting it.
		if err := tl.Rollback(); err != nil {
			return Result{}, err
		}
		return result, nil
	}
	if err := tl.Commit(); err != nil {
		return Result{}, err
	}
	return result, nil
}

// removeUidNested drops every trace of actionUID: its blob edges (with
// their ref-count decrements), its dependency-graph edges in both
// directions, its outstanding request locks, its GC row, and finally the
// action row itself. Used by RemoveUid and by the garbage collector's
// eviction sweeps.
func (s *Store) removeUidNested(tx *dbkit.Tx, tl *blobstore.TxLog, actionUID string) (sizeDiff, fsDiff, blobDiff int64, err error) {
	sizeDiff, fsDiff, blobDiff, err = s.removeBlobsFor(tx, tl, actionUID)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := deleteDepsFor(tx, actionUID); err != nil {
		return 0, 0, 0, err
	}
	if err := deleteReqsFor(tx, actionUID); err != nil {
		return 0, 0, 0, err
	}
	gcRow, gcFound, err := getGc(tx, actionUID)
	if err != nil {
		return 0, 0, 0, err
	}
	if gcFound {
		if err := acsGcTable.DeleteIndex(tx, idxByLastAccess, dbkit.PaddedInt64(gcRow.LastAccess), actionUID); err != nil {
			return 0, 0, 0, err
		}
		if err := acsGcTable.DeleteIndex(tx, idxByLastAccessTTL, dbkit.PaddedInt64(gcRow.LastAccessTime), actionUID); err != nil {
			return 0, 0, 0, err
		}
	}
	if err := acsGcTable.Delete(tx, actionUID); err != nil {
		return 0, 0, 0, err
	}
	if err := acsTable.Delete(tx, actionUID); err != nil {
		return 0, 0, 0, err
	}
	return sizeDiff, fsDiff, blobDiff, nil
}

func (s *Store) removeBlobsFor(tx *dbkit.Tx, tl *blobstore.TxLog, actionUID string) (sizeDiff, fsDiff, blobDiff int64, err error) {
	var ids []string
	if err := acsBlobsTable.EachExact(tx, idxByAction, actionUID, func(id string) bool {
		ids = append(ids, id)
		return true
	}); err != nil {
		return 0, 0, 0, err
	}
	for _, id := range ids {
		var edge BlobEdge
		if err := acsBlobsTable.Get(tx, id, &edge); err != nil {
			return 0, 0, 0, err
		}
		dropRes, err := s.cas.DropRef(tx, tl, edge.BlobUID, -1)
		if err != nil {
			return 0, 0, 0, err
		}
		sizeDiff += dropRes.SizeDiff
		fsDiff += dropRes.FsSizeDiff
		if err := acsBlobsTable.DeleteIndex(tx, idxByAction, actionUID, id); err != nil {
			return 0, 0, 0, err
		}
		if err := acsBlobsTable.DeleteIndex(tx, idxByBlob, edge.BlobUID, id); err != nil {
			return 0, 0, 0, err
		}
		if err := acsBlobsTable.Delete(tx, id); err != nil {
			return 0, 0, 0, err
		}
		blobDiff++
	}
	return sizeDiff, fsDiff, blobDiff, nil
}

func deleteDepsFor(tx *dbkit.Tx, actionUID string) error {
	collect := func(index string) ([]string, error) {
		var ids []string
		err := depsTable.EachExact(tx, index, actionUID, func(id string) bool {
			ids = append(ids, id)
			return true
		})
		return ids, err
	}
	del := func(index string, ids []string) error {
		for _, id := range ids {
			var edge DepEdge
			if err := depsTable.Get(tx, id, &edge); err != nil {
				return err
			}
			if err := depsTable.DeleteIndex(tx, idxByFrom, edge.FromUID, id); err != nil {
				return err
			}
			if err := depsTable.DeleteIndex(tx, idxByTo, edge.ToUID, id); err != nil {
				return err
			}
			if err := depsTable.Delete(tx, id); err != nil {
				return err
			}
		}
		return nil
	}
	fromIDs, err := collect(idxByFrom)
	if err != nil {
		return err
	}
	if err := del(idxByFrom, fromIDs); err != nil {
		return err
	}
	toIDs, err := collect(idxByTo)
	if err != nil {
		return err
	}
	return del(idxByTo, toIDs)
}

func deleteReqsFor(tx *dbkit.Tx, actionUID string) error {
	var ids []string
	if err := reqsTable.EachExact(tx, idxReqsByAction, actionUID, func(id string) bool {
		ids = append(ids, id)
		return true
	}); err != nil {
		return err
	}
	for _, id := range ids {
		var req ReqRow
		if err := reqsTable.Get(tx, id, &req); err != nil {
			return err
		}
		if err := reqsTable.DeleteIndex(tx, idxByTask, req.TaskID, id); err != nil {
			return err
		}
		if err := reqsTable.DeleteIndex(tx, idxReqsByAction, actionUID, id); err != nil {
			return err
		}
		if err := reqsTable.Delete(tx, id); err != nil {
			return err
		}
	}
	return nil
}

// TaskLiveness is one distinct task id currently holding at least one lock,
// along with the pid/start-time recorded when the lock was taken — what the
// liveness sweep needs to decide whether the holder is still running.
type TaskLiveness struct {
	TaskID    string
	PID       int
	StartTime int64
}

// Tasks returns every distinct task currently holding at least one lock.
func (s *Store) Tasks(tx *dbkit.Tx) ([]TaskLiveness, error) {
	ids, err := reqsTable.List(tx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	var out []TaskLiveness
	for _, id := range ids {
		var row ReqRow
		if err := reqsTable.Get(tx, id, &row); err != nil {
			continue
		}
		if seen[row.TaskID] {
			continue
		}
		seen[row.TaskID] = true
		out = append(out, TaskLiveness{TaskID: row.TaskID, PID: row.PID, StartTime: row.StartTime})
	}
	return out, nil
}

// ReleaseTask drops every lock held by taskID — a task whose process the
// caller has already determined is no longer running — decrementing the
// outstanding request count of each action it held.
func (s *Store) ReleaseTask(tx *dbkit.Tx, taskID string) (released int, err error) {
	var ids []string
	if err := reqsTable.EachExact(tx, idxByTask, taskID, func(id string) bool {
		ids = append(ids, id)
		return true
	}); err != nil {
		return 0, err
	}
	for _, id := range ids {
		var row ReqRow
		if err := reqsTable.Get(tx, id, &row); err != nil {
			return released, err
		}
		if err := unlockRequest(tx, row.ActionUID, taskID); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// PutDeps implements put_deps: record nodeHash's required dependencies,
// skipping (and counting) any dependency hash with no cached action.
func (s *Store) PutDeps(nodeHash string, requiredHashes []string) (DepsResult, error) {
	var result DepsResult
	err := s.db.WithTx(dbkit.Exclusive, s.maxPutRetries, func(tx *dbkit.Tx) error {
		row, found, err := getAction(tx, nodeHash)
		if err != nil {
			return err
		}
		if !found {
			return errs.NotFound("acs", nodeHash)
		}
		added, skipped := 0, 0
		for i, dep := range requiredHashes {
			depFound, err := acsTable.Exists(tx, dep)
			if err != nil {
				return err
			}
			if !depFound {
				skipped++
				continue
			}
			edge := DepEdge{FromUID: nodeHash, ToUID: dep, EdgeIndex: i}
			id := nodeHash + "~" + dep + "~" + strconv.Itoa(i)
			if err := depsTable.Put(tx, id, edge); err != nil {
				return err
			}
			if err := depsTable.PutIndexOnly(tx, idxByFrom, nodeHash, id); err != nil {
				return err
			}
			if err := depsTable.PutIndexOnly(tx, idxByTo, dep, id); err != nil {
				return err
			}
			added++
		}
		row.NumDeps += added
		if err := acsTable.Put(tx, nodeHash, row); err != nil {
			return err
		}
		result = DepsResult{Added: added, Skipped: skipped}
		return nil
	})
	return result, err
}

func getAction(tx *dbkit.Tx, uid string) (ActionRow, bool, error) {
	var row ActionRow
	if err := acsTable.Get(tx, uid, &row); err != nil {
		if isNotFound(err) {
			return ActionRow{}, false, nil
		}
		return ActionRow{}, false, err
	}
	return row, true, nil
}

func getGc(tx *dbkit.Tx, uid string) (GcRow, bool, error) {
	var row GcRow
	if err := acsGcTable.Get(tx, uid, &row); err != nil {
		if isNotFound(err) {
			return GcRow{}, false, nil
		}
		return GcRow{}, false, err
	}
	return row, true, nil
}

// refreshGc stamps the access counter and wall-clock time onto uid's GC
// row, moving its secondary-index entries so the last-access and
// last-access-time scans the garbage collector runs stay correct.
func refreshGc(tx *dbkit.Tx, uid string, accessCnt int64, isResult bool) error {
	row, found, err := getGc(tx, uid)
	if err != nil {
		return err
	}
	if found {
		if err := acsGcTable.DeleteIndex(tx, idxByLastAccess, dbkit.PaddedInt64(row.LastAccess), uid); err != nil {
			return err
		}
		if err := acsGcTable.DeleteIndex(tx, idxByLastAccessTTL, dbkit.PaddedInt64(row.LastAccessTime), uid); err != nil {
			return err
		}
	}
	row.ActionUID = uid
	row.LastAccess = accessCnt
	row.LastAccessTime = time.Now().UnixMilli()
	row.IsResult = isResult
	if err := acsGcTable.Put(tx, uid, row); err != nil {
		return err
	}
	if err := acsGcTable.PutIndexOnly(tx, idxByLastAccess, dbkit.PaddedInt64(row.LastAccess), uid); err != nil {
		return err
	}
	return acsGcTable.PutIndexOnly(tx, idxByLastAccessTTL, dbkit.PaddedInt64(row.LastAccessTime), uid)
}

func lockRequest(tx *dbkit.Tx, actionUID string, peer *Peer, taskID string) error {
	id := reqKey(actionUID, taskID)
	exists, err := reqsTable.Exists(tx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	row := ReqRow{ActionUID: actionUID, TaskID: taskID}
	if peer != nil {
		row.PID = peer.PID
		row.StartTime = peer.StartTime
	}
	if err := reqsTable.PutIndexed(tx, id, idxByTask, taskID, row); err != nil {
		return err
	}
	if err := reqsTable.PutIndexOnly(tx, idxReqsByAction, actionUID, id); err != nil {
		return err
	}
	gcRow, found, err := getGc(tx, actionUID)
	if err != nil {
		return err
	}
	if !found {
		gcRow.ActionUID = actionUID
	}
	gcRow.RequestCount++
	return acsGcTable.Put(tx, actionUID, gcRow)
}

func unlockRequest(tx *dbkit.Tx, actionUID, taskID string) error {
	id := reqKey(actionUID, taskID)
	exists, err := reqsTable.Exists(tx, id)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := reqsTable.DeleteIndex(tx, idxByTask, taskID, id); err != nil {
		return err
	}
	if err := reqsTable.DeleteIndex(tx, idxReqsByAction, actionUID, id); err != nil {
		return err
	}
	if err := reqsTable.Delete(tx, id); err != nil {
		return err
	}
	gcRow, found, err := getGc(tx, actionUID)
	if err != nil {
		return err
	}
	if found && gcRow.RequestCount > 0 {
		gcRow.RequestCount--
		return acsGcTable.Put(tx, actionUID, gcRow)
	}
	return nil
}
