/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package action

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yatool/localcache/blobstore"
	"github.com/yatool/localcache/cas"
	"github.com/yatool/localcache/internal/dbkit"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, blobstore.InitBuckets(root))
	db, err := dbkit.Open(filepath.Join(t.TempDir(), "db.bunt"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, cas.New(root), root), root
}

func writeBlobSrc(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPutUidThenGetUidRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	src := writeBlobSrc(t, "payload-one")

	putRes, err := s.PutUid(PutUidRequest{
		UID:    "action-1",
		Origin: "test",
		Weight: 10,
		Blobs: []BlobInfo{
			{Path: src, RelativePath: "out.bin", Ceiling: blobstore.Rename},
		},
	}, 1)
	require.NoError(t, err)
	require.True(t, putRes.Success)
	require.EqualValues(t, 1, putRes.AcsDiff)
	require.EqualValues(t, 1, putRes.BlobDiff)
	require.Positive(t, putRes.TotalSizeDiff)

	dest := t.TempDir()
	getRes, err := s.GetUid(GetUidRequest{UID: "action-1", DestPath: dest}, 2)
	require.NoError(t, err)
	require.True(t, getRes.Success)
	require.Equal(t, "test", getRes.Origin)

	got, err := os.ReadFile(filepath.Join(dest, "out.bin"))
	require.NoError(t, err)
	require.Equal(t, "payload-one", string(got))
}

func TestGetUidNotFound(t *testing.T) {
	s, _ := setupStore(t)
	res, err := s.GetUid(GetUidRequest{UID: "missing", DestPath: t.TempDir()}, 1)
	require.NoError(t, err)
	require.True(t, res.NotFound)
}

func TestHasUidLocksThenRemoveUidNoOpUntilReleased(t *testing.T) {
	s, _ := setupStore(t)
	src := writeBlobSrc(t, "payload-two")

	_, err := s.PutUid(PutUidRequest{
		UID:    "action-2",
		Origin: "test",
		Blobs:  []BlobInfo{{Path: src, RelativePath: "f", Ceiling: blobstore.Rename}},
	}, 1)
	require.NoError(t, err)

	peer := &Peer{PID: 1234, StartTime: 99}
	hasRes, err := s.HasUid(HasUidRequest{UID: "action-2", Peer: peer, TaskID: "task-a"}, 2)
	require.NoError(t, err)
	require.True(t, hasRes.Success)

	removeRes, err := s.RemoveUid(RemoveUidRequest{UID: "action-2"})
	require.NoError(t, err)
	require.False(t, removeRes.Success)

	dest := t.TempDir()
	_, err = s.GetUid(GetUidRequest{UID: "action-2", DestPath: dest, Release: true, TaskID: "task-a"}, 3)
	require.NoError(t, err)

	removeRes, err = s.RemoveUid(RemoveUidRequest{UID: "action-2"})
	require.NoError(t, err)
	require.True(t, removeRes.Success)
	require.EqualValues(t, -1, removeRes.AcsDiff)

	again, err := s.GetUid(GetUidRequest{UID: "action-2", DestPath: dest}, 4)
	require.NoError(t, err)
	require.True(t, again.NotFound)
}

func TestPutUidReplaceBlobsDropsOldReferences(t *testing.T) {
	s, _ := setupStore(t)
	srcA := writeBlobSrc(t, "version-a")
	srcB := writeBlobSrc(t, "version-b")

	_, err := s.PutUid(PutUidRequest{
		UID:    "action-3",
		Origin: "test",
		Blobs:  []BlobInfo{{Path: srcA, RelativePath: "f", Ceiling: blobstore.Rename}},
	}, 1)
	require.NoError(t, err)

	_, err = s.PutUid(PutUidRequest{
		UID:             "action-3",
		Origin:          "test",
		ReplacementMode: ReplaceBlobs,
		Blobs:           []BlobInfo{{Path: srcB, RelativePath: "f", Ceiling: blobstore.Rename}},
	}, 2)
	require.NoError(t, err)

	dest := t.TempDir()
	getRes, err := s.GetUid(GetUidRequest{UID: "action-3", DestPath: dest}, 3)
	require.NoError(t, err)
	require.True(t, getRes.Success)

	got, err := os.ReadFile(filepath.Join(dest, "f"))
	require.NoError(t, err)
	require.Equal(t, "version-b", string(got))
}

func TestPutDepsSkipsMissingDependency(t *testing.T) {
	s, _ := setupStore(t)
	srcRoot := writeBlobSrc(t, "dep-content-root")
	srcDep := writeBlobSrc(t, "dep-content-dep")

	_, err := s.PutUid(PutUidRequest{UID: "root-action", Origin: "test",
		Blobs: []BlobInfo{{Path: srcRoot, RelativePath: "f", Ceiling: blobstore.Rename}}}, 1)
	require.NoError(t, err)
	_, err = s.PutUid(PutUidRequest{UID: "dep-action", Origin: "test",
		Blobs: []BlobInfo{{Path: srcDep, RelativePath: "f", Ceiling: blobstore.Rename}}}, 1)
	require.NoError(t, err)

	depsRes, err := s.PutDeps("root-action", []string{"dep-action", "no-such-action"})
	require.NoError(t, err)
	require.Equal(t, 1, depsRes.Added)
	require.Equal(t, 1, depsRes.Skipped)
}
