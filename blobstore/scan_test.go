/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanIntegrityCleanStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitBuckets(root))

	tl, err := New(root, "tid1", false)
	require.NoError(t, err)
	defer tl.Close()

	src := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))
	_, err = tl.Put(src, Rename)
	require.NoError(t, err)
	require.NoError(t, tl.Commit())

	bad, err := ScanIntegrity(context.Background(), root)
	require.NoError(t, err)
	require.Empty(t, bad)
}

func TestScanIntegrityDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, InitBuckets(root))

	src := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))
	uid, _, err := Digest(src)
	require.NoError(t, err)

	dst := BlobPath(root, uid)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("corrupted content"), 0o644))

	bad, err := ScanIntegrity(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	require.Equal(t, uid, bad[0].WantUID)
}
