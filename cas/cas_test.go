/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yatool/localcache/blobstore"
	"github.com/yatool/localcache/internal/dbkit"
)

func setup(t *testing.T) (*dbkit.DB, *Manager, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, blobstore.InitBuckets(root))
	db, err := dbkit.Open(filepath.Join(t.TempDir(), "db.bunt"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, New(root), root
}

func writeSrc(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPutBlobFirstReferenceStagesFile(t *testing.T) {
	db, m, root := setup(t)
	src := writeSrc(t, "hello")

	var uid string
	require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t1", false)
		require.NoError(t, err)
		defer tl.Close()
		res, err := m.PutBlob(tx, tl, src, blobstore.Rename, 1)
		require.NoError(t, err)
		require.False(t, res.ExistedBefore)
		require.True(t, res.ExistsAfter)
		require.EqualValues(t, 1, res.RefAfter)
		require.EqualValues(t, 5, res.SizeDiff)
		uid = res.UID
		return tl.Commit()
	}))

	require.FileExists(t, blobstore.BlobPath(root, uid))
}

func TestPutBlobRefOnlyThenDropToZeroRemoves(t *testing.T) {
	db, m, root := setup(t)
	src := writeSrc(t, "hello")

	var uid string
	require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t1", false)
		require.NoError(t, err)
		defer tl.Close()
		res, err := m.PutBlob(tx, tl, src, blobstore.Copy, 1)
		require.NoError(t, err)
		uid = res.UID
		return tl.Commit()
	}))

	require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t2", false)
		require.NoError(t, err)
		defer tl.Close()
		res, err := m.PutBlob(tx, tl, src, blobstore.Copy, 1)
		require.NoError(t, err)
		require.True(t, res.ExistedBefore)
		require.EqualValues(t, 2, res.RefAfter)
		return tl.Commit()
	}))

	require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t3", false)
		require.NoError(t, err)
		defer tl.Close()
		res, err := m.PutBlob(tx, tl, src, blobstore.Rename, -2)
		require.NoError(t, err)
		require.EqualValues(t, 0, res.RefAfter)
		require.False(t, res.ExistsAfter)
		require.EqualValues(t, -5, res.SizeDiff)
		return tl.Commit()
	}))

	require.NoFileExists(t, blobstore.BlobPath(root, uid))
	require.NoError(t, db.WithTx(dbkit.Deferred, 3, func(tx *dbkit.Tx) error {
		ok, err := m.Exists(tx, uid)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestPutBlobNoOpWhenNothingToReference(t *testing.T) {
	db, m, root := setup(t)
	src := writeSrc(t, "hello")

	require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t1", false)
		require.NoError(t, err)
		defer tl.Close()
		res, err := m.PutBlob(tx, tl, src, blobstore.Rename, -1)
		require.NoError(t, err)
		require.False(t, res.ExistedBefore)
		require.False(t, res.ExistsAfter)
		return tl.Commit()
	}))
}

func TestGetBlobRoundTrip(t *testing.T) {
	db, m, root := setup(t)
	src := writeSrc(t, "payload")
	destDir := t.TempDir()

	var uid string
	require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t1", false)
		require.NoError(t, err)
		defer tl.Close()
		res, err := m.PutBlob(tx, tl, src, blobstore.Rename, 1)
		require.NoError(t, err)
		uid = res.UID
		return tl.Commit()
	}))

	require.NoError(t, db.WithTx(dbkit.Deferred, 3, func(tx *dbkit.Tx) error {
		tl, err := blobstore.New(root, "t2", false)
		require.NoError(t, err)
		defer tl.Close()
		gr, err := m.GetBlob(tx, tl, uid, destDir, "out.bin")
		require.NoError(t, err)
		require.True(t, gr.Found)
		return tl.Commit()
	}))

	got, err := os.ReadFile(filepath.Join(destDir, "out.bin"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestNextChunkOrdersByRowID(t *testing.T) {
	db, m, root := setup(t)

	var uids []string
	for i := 0; i < 3; i++ {
		src := writeSrc(t, "content-unique-"+string(rune('a'+i)))
		require.NoError(t, db.WithTx(dbkit.Exclusive, 3, func(tx *dbkit.Tx) error {
			tl, err := blobstore.New(root, "t", false)
			require.NoError(t, err)
			defer tl.Close()
			res, err := m.PutBlob(tx, tl, src, blobstore.Rename, 1)
			require.NoError(t, err)
			uids = append(uids, res.UID)
			return tl.Commit()
		}))
	}

	require.NoError(t, db.WithTx(dbkit.Deferred, 3, func(tx *dbkit.Tx) error {
		page, next, err := m.NextChunk(tx, 0)
		require.NoError(t, err)
		require.ElementsMatch(t, uids, page)
		require.Zero(t, next)
		return nil
	}))
}
