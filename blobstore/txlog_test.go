/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPutCommitGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitBuckets(root))

	srcDir := t.TempDir()
	src := writeTemp(t, srcDir, "a.out", "hello")

	tl, err := New(root, "task-1", false)
	require.NoError(t, err)
	res, err := tl.Put(src, Rename)
	require.NoError(t, err)
	require.NotEmpty(t, res.UID)
	require.EqualValues(t, 5, res.Size)
	require.NoError(t, tl.Commit())

	require.FileExists(t, BlobPath(root, res.UID))

	destDir := t.TempDir()
	tl2, err := New(root, "task-2", false)
	require.NoError(t, err)
	_, err = tl2.Get(res.UID, destDir, "a.out")
	require.NoError(t, err)
	require.NoError(t, tl2.Commit())

	got, err := os.ReadFile(filepath.Join(destDir, "a.out"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestPutRollbackLeavesNoTrace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitBuckets(root))

	srcDir := t.TempDir()
	src := writeTemp(t, srcDir, "a.out", "hello")

	tl, err := New(root, "task-1", false)
	require.NoError(t, err)
	res, err := tl.Put(src, Rename)
	require.NoError(t, err)
	require.NoError(t, tl.Rollback())

	require.NoFileExists(t, BlobPath(root, res.UID))
	entries, _ := os.ReadDir(filepath.Join(root, "rm"))
	require.Empty(t, entries)
}

func TestStageRemoveThenRollbackRestores(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitBuckets(root))

	srcDir := t.TempDir()
	src := writeTemp(t, srcDir, "a.out", "hello")

	tl, err := New(root, "task-1", false)
	require.NoError(t, err)
	res, err := tl.Put(src, Rename)
	require.NoError(t, err)
	require.NoError(t, tl.Commit())

	tl2, err := New(root, "task-2", false)
	require.NoError(t, err)
	require.NoError(t, tl2.StageRemove(res.UID))
	require.NoError(t, tl2.Rollback())

	require.FileExists(t, BlobPath(root, res.UID))
}

func TestConcurrentAsyncScratchDirsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitBuckets(root))

	tl1, err := New(root, "shared-task", true)
	require.NoError(t, err)
	defer tl1.Close()
	tl2, err := New(root, "shared-task", true)
	require.NoError(t, err)
	defer tl2.Close()

	require.NotEqual(t, tl1.stashDir, tl2.stashDir)
}

func TestMeetLattice(t *testing.T) {
	require.Equal(t, Hardlink, Meet(Rename, Hardlink))
	require.Equal(t, Copy, Meet(Hardlink, Copy))
	require.Equal(t, Copy, MeetAll([]Optim{Rename, Hardlink, Copy}))
	require.Equal(t, Rename, MeetAll([]Optim{Rename, Rename}))
}
