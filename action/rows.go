/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package action

import (
	"github.com/yatool/localcache/internal/dbkit"
)

// ActionRow is the persisted `acs` row: one cached action keyed by uid.
type ActionRow struct {
	UID      string
	Weight   int64
	Origin   string
	NumBlobs int
	NumDeps  int
	RowID    int64
}

// BlobEdge is an `acs_blobs` row linking an action to one of its blobs at a
// given relative path. (ActionUID, RelativePath) is unique, which is
// exactly the rowKey edgeKey builds below.
type BlobEdge struct {
	ActionUID    string
	BlobUID      string
	RelativePath string
}

// ReqRow is a `reqs` row: one live consumer currently holding actionUID.
type ReqRow struct {
	ActionUID string
	TaskID    string
	PID       int
	StartTime int64
}

// GcRow is the `acs_gc` row: exactly one per action, carrying the
// bookkeeping the garbage collector scans over (last access counter/time,
// outstanding request count).
type GcRow struct {
	ActionUID      string
	LastAccess     int64
	LastAccessTime int64
	RequestCount   int64
	IsResult       bool
}

// DepEdge is one row of the action dependency graph: `(from_id, to_id,
// edge_index)`.
type DepEdge struct {
	FromUID   string
	ToUID     string
	EdgeIndex int
}

const (
	idxByAction        = "by_action"
	idxByBlob          = "by_blob"
	idxByTask          = "by_task"
	idxReqsByAction    = "reqs_by_action"
	idxByLastAccess    = "by_last_access"
	idxByLastAccessTTL = "by_last_access_time"
	idxByFrom          = "by_from"
	idxByTo            = "by_to"
)

var (
	acsTable      = dbkit.Table{Name: "acs"}
	acsBlobsTable = dbkit.Table{Name: "acs_blobs"}
	reqsTable     = dbkit.Table{Name: "reqs"}
	acsGcTable    = dbkit.Table{Name: "acs_gc"}
	depsTable     = dbkit.Table{Name: "deps"}
	acsSeqTable   = dbkit.Table{Name: "acs_seq"}
)

func edgeKey(actionUID, relPath string) string { return actionUID + "~" + relPath }
func reqKey(actionUID, taskID string) string   { return actionUID + "~" + taskID }

func nextActionRowID(tx *dbkit.Tx) (int64, error) {
	type seqRow struct{ Next int64 }
	var s seqRow
	if err := acsSeqTable.Get(tx, "counter", &s); err != nil {
		if !isNotFound(err) {
			return 0, err
		}
	}
	id := s.Next
	s.Next++
	return id, acsSeqTable.Put(tx, "counter", s)
}
