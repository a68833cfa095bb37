/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reaper

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

type fakeChecker struct{ alive map[int]bool }

func (f fakeChecker) Alive(pid int, _ int64) bool { return f.alive[pid] }

func setup(t *testing.T) *action.Store {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, blobstore.InitBuckets(root))
	db, err := dbkit.Open(filepath.Join(t.TempDir(), "db.bunt"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return action.NewStore(db, cas.New(root), root)
}

func lockAction(t *testing.T, s *action.Store, uid string, pid int, taskID string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	_, err := s.PutUid(action.PutUidRequest{
		UID:    uid,
		Origin: "test",
		Blobs:  []action.BlobInfo{{Path: src, RelativePath: "f", Ceiling: blobstore.Rename}},
		Peer:   &action.Peer{PID: pid, StartTime: 1},
		TaskID: taskID,
	}, 1)
	require.NoError(t, err)
}

func TestSweepReleasesDeadProcessLocks(t *testing.T) {
	s := setup(t)
	lockAction(t, s, "a1", 100, "task-dead")
	lockAction(t, s, "a2", 200, "task-alive")

	r := New(s, fakeChecker{alive: map[int]bool{200: true}})
	dead, scanned, err := r.Sweep()
	require.NoError(t, err)
	require.Equal(t, 2, scanned)
	require.ElementsMatch(t, []string{"task-dead"}, dead)

	requestCount := func(uid string) int64 {
		var n int64
		require.NoError(t, s.DB().WithTx(dbkit.Deferred, 0, func(tx *dbkit.Tx) error {
			var err error
			n, err = s.RequestCount(tx, uid)
			return err
		}))
		return n
	}
	require.EqualValues(t, 0, requestCount("a1"))
	require.EqualValues(t, 1, requestCount("a2"))
}

func TestSweepHonorsCooperativeRelease(t *testing.T) {
	s := setup(t)
	lockAction(t, s, "a3", 300, "task-coop")

	r := New(s, fakeChecker{alive: map[int]bool{300: true}})
	r.CooperativeRelease("task-coop")

	dead, _, err := r.Sweep()
	require.NoError(t, err)
	require.Equal(t, []string{"task-coop"}, dead)
}
