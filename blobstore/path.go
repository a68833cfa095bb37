// Package blobstore implements the Blob Processor and Transaction Log:
// the sharded on-disk blob tree, the per-request scratch area, and the
// staged, rollback-safe filesystem mutations that every write to the
// cache goes through.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yatool/localcache/internal/errs"
)

const (
	fanoutAlphabet = "0123456789abcdef"
	rmDirName      = "rm"
)

// InitBuckets creates the 256 `<root>/<h0>/<h1>` fan-out directories and the
// `<root>/rm` scratch root up front, rather than creating buckets lazily on
// first write.
func InitBuckets(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errs.Wrap(errs.KindIOErr, err, "create blob root")
	}
	for _, h0 := range fanoutAlphabet {
		for _, h1 := range fanoutAlphabet {
			dir := filepath.Join(root, string(h0), string(h1))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errs.Wrap(errs.KindIOErr, err, "create fan-out bucket")
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(root, rmDirName), 0o755); err != nil {
		return errs.Wrap(errs.KindIOErr, err, "create scratch root")
	}
	return nil
}

// Recreate wipes every blob bucket (but not the rm/ scratch root's parent,
// which is recreated fresh) — the behavior a RECREATE_DB marker file
// triggers on next start after a critical storage error.
func Recreate(root string) error {
	for _, h0 := range fanoutAlphabet {
		for _, h1 := range fanoutAlphabet {
			dir := filepath.Join(root, string(h0), string(h1))
			if err := os.RemoveAll(dir); err != nil {
				return errs.Wrap(errs.KindIOErr, err, "wipe fan-out bucket")
			}
		}
	}
	if err := os.RemoveAll(filepath.Join(root, rmDirName)); err != nil {
		return errs.Wrap(errs.KindIOErr, err, "wipe scratch root")
	}
	return InitBuckets(root)
}

// BlobPath returns the canonical on-disk path for uid: <root>/<h0>/<h1>/<uid>.
func BlobPath(root, uid string) string {
	if len(uid) < 2 {
		// Degenerate uid (shouldn't occur for real digests); fall back
		// to bucket "0/0" rather than panicking on a slice bound.
		return filepath.Join(root, "0", "0", uid)
	}
	return filepath.Join(root, string(uid[0]), string(uid[1]), uid)
}

// ScratchRoot computes the per-transaction scratch directory for task id
// tid: `<root>/rm/<md5(tid)>` in synchronous mode, or the first free
// `<root>/rm/<md5(tid)>-<k>` (k in 0..9) in asynchronous mode so that
// distinct concurrent requests sharing a task id don't collide.
func ScratchRoot(root, tid string, async bool) (string, error) {
	sum := md5.Sum([]byte(tid))
	base := hex.EncodeToString(sum[:])
	rmRoot := filepath.Join(root, rmDirName)
	if !async {
		return filepath.Join(rmRoot, base), nil
	}
	for k := 0; k < 10; k++ {
		dir := filepath.Join(rmRoot, fmt.Sprintf("%s-%d", base, k))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return dir, nil
		}
	}
	return "", errs.New(errs.KindFull, "no free scratch slot for task "+tid)
}
