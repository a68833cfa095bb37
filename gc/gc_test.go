/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package gc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yatool/localcache/action"
	"github.com/yatool/localcache/blobstore"
	"github.com/yatool/localcache/cas"
	"github.com/yatool/localcache/internal/dbkit"
)

func setup(t *testing.T) *action.Store {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, blobstore.InitBuckets(root))
	db, err := dbkit.Open(filepath.Join(t.TempDir(), "db.bunt"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return action.NewStore(db, cas.New(root), root)
}

func writeSrc(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func putAction(t *testing.T, s *action.Store, uid, content string, accessCnt int64) {
	t.Helper()
	_, err := s.PutUid(action.PutUidRequest{
		UID:    uid,
		Origin: "test",
		Blobs:  []action.BlobInfo{{Path: writeSrc(t, content), RelativePath: "f", Ceiling: blobstore.Rename}},
	}, accessCnt)
	require.NoError(t, err)
}

func TestTotalSizeEvictsOldestFirst(t *testing.T) {
	s := setup(t)
	putAction(t, s, "a1", "11111", 1)
	putAction(t, s, "a2", "22222", 2)
	putAction(t, s, "a3", "33333", 3)

	g := New(s, NewMetrics(nil))
	cb := NewCancelCallback(nil)
	require.NoError(t, g.TotalSize(10, cb))

	for _, uid := range []string{"a1", "a2"} {
		res, err := s.GetUid(action.GetUidRequest{UID: uid, DestPath: t.TempDir()}, 99)
		require.NoError(t, err)
		require.True(t, res.NotFound, "expected %s to be evicted", uid)
	}
	res, err := s.GetUid(action.GetUidRequest{UID: "a3", DestPath: t.TempDir()}, 99)
	require.NoError(t, err)
	require.True(t, res.Success, "newest action should survive")
}

func TestTotalSizeSkipsLockedActions(t *testing.T) {
	s := setup(t)
	putAction(t, s, "locked", "aaaaa", 1)

	peer := &action.Peer{PID: 1, StartTime: 1}
	_, err := s.HasUid(action.HasUidRequest{UID: "locked", Peer: peer, TaskID: "holder"}, 2)
	require.NoError(t, err)

	g := New(s, NewMetrics(nil))
	cb := NewCancelCallback(nil)
	require.NoError(t, g.TotalSize(1<<30, cb))

	res, err := s.GetUid(action.GetUidRequest{UID: "locked", DestPath: t.TempDir()}, 3)
	require.NoError(t, err)
	require.True(t, res.Success, "locked action must survive TotalSize sweep")
}

func TestOldItemsRespectsAgeLimit(t *testing.T) {
	s := setup(t)
	putAction(t, s, "old", "xxxxx", 1)

	g := New(s, NewMetrics(nil))
	cb := NewCancelCallback(nil)
	require.NoError(t, g.OldItems(0, cb)) // ageLimit 0: nothing is older than the epoch

	res, err := s.GetUid(action.GetUidRequest{UID: "old", DestPath: t.TempDir()}, 2)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestReconcileReleasesDeadTaskLocks(t *testing.T) {
	s := setup(t)
	putAction(t, s, "held", "zzzzz", 1)

	peer := &action.Peer{PID: 42, StartTime: 7}
	_, err := s.HasUid(action.HasUidRequest{UID: "held", Peer: peer, TaskID: "dead-task"}, 2)
	require.NoError(t, err)

	g := New(s, NewMetrics(nil))
	cb := NewCancelCallback(nil)
	released, err := g.Reconcile([]string{"dead-task"}, cb)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	require.NoError(t, g.TotalSize(1<<30, cb))
	res, err := s.GetUid(action.GetUidRequest{UID: "held", DestPath: t.TempDir()}, 3)
	require.NoError(t, err)
	require.True(t, res.NotFound, "action should now be evictable once its dead-task lock is released")
}

func TestRecomputeStatsCorrectsDrift(t *testing.T) {
	s := setup(t)
	putAction(t, s, "a1", "11111", 1)
	putAction(t, s, "a2", "2222222", 2)

	m := NewMetrics(nil)
	// Leave m at its zero value, as if every PutUid above had run on a
	// daemon build with no client-path wiring to Add: the running
	// totals read zero while the tables hold two actions and two blobs.
	g := New(s, m)

	_, err := g.Reconcile(nil, NewCancelCallback(nil))
	require.NoError(t, err)

	require.EqualValues(t, 2, m.TotalActions())
	require.EqualValues(t, 5+7, m.TotalFsSize())
}
