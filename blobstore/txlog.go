/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/yatool/localcache/internal/errs"
)

const (
	newSubdir = "new"
	oldSubdir = "old"
)

// PreprocessResult is what Preprocess records: the digested content's uid,
// size, chosen filesystem optimization, and the source file's mode.
type PreprocessResult struct {
	UID   string
	Size  int64
	Optim Optim
	Mode  os.FileMode
}

// TxLog is the per-client-request Transaction Log: it records every
// staged create/rename/remove and owns the scratch directories.
// Commit/Rollback are its sole legal terminators; Close rolls back if
// neither was called, a scoped-resource guard against a caller that
// forgets to terminate explicitly.
type TxLog struct {
	root     string
	stashDir string

	preparedPut map[string]*PreprocessResult
	put         map[string]bool
	remove      map[string]bool
	newGetFiles []string

	terminated bool
}

// New creates the scratch root for task id tid and its new/ and old/
// subdirectories.
func New(root, tid string, async bool) (*TxLog, error) {
	stashDir, err := ScratchRoot(root, tid, async)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(stashDir, newSubdir), 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIOErr, err, "create scratch new/")
	}
	if err := os.MkdirAll(filepath.Join(stashDir, oldSubdir), 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIOErr, err, "create scratch old/")
	}
	return &TxLog{
		root:        root,
		stashDir:    stashDir,
		preparedPut: make(map[string]*PreprocessResult),
		put:         make(map[string]bool),
		remove:      make(map[string]bool),
	}, nil
}

func (tl *TxLog) newPath(uid string) string { return filepath.Join(tl.stashDir, newSubdir, uid) }
func (tl *TxLog) oldPath(uid string) string { return filepath.Join(tl.stashDir, oldSubdir, uid) }

// Preprocess computes the digest of srcPath and stages it into
// stash_dir/new/<uid> per the client-requested optimization ceiling,
// independent of the DB lock. It may be called before Put, or Put may
// call it inline if no preprocess result exists.
func (tl *TxLog) Preprocess(srcPath string, ceiling Optim) (*PreprocessResult, error) {
	uid, size, err := Digest(srcPath)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(srcPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindIOErr, err, "stat source")
	}
	if existing, ok := tl.preparedPut[uid]; ok {
		return existing, nil
	}
	optim, err := stageFile(srcPath, tl.newPath(uid), ceiling)
	if err != nil {
		return nil, err
	}
	res := &PreprocessResult{UID: uid, Size: size, Optim: optim, Mode: fi.Mode()}
	tl.preparedPut[uid] = res
	return res, nil
}

// MarkPut marks an already-preprocessed uid for promotion on commit. Used
// by callers (the CAS manager) that must inspect the digest before
// deciding whether the staged payload should actually be kept.
func (tl *TxLog) MarkPut(uid string) error {
	if _, ok := tl.preparedPut[uid]; !ok {
		return errs.New(errs.KindIOErr, "mark-put of unpreprocessed uid "+uid)
	}
	tl.put[uid] = true
	return nil
}

// Put marks uid for promotion on commit, reusing a prior Preprocess result
// if one exists or running it inline otherwise.
func (tl *TxLog) Put(srcPath string, ceiling Optim) (*PreprocessResult, error) {
	res, err := tl.Preprocess(srcPath, ceiling)
	if err != nil {
		return nil, err
	}
	tl.put[res.UID] = true
	return res, nil
}

// StageRemove displaces the canonical blob for uid into stash_dir/old/<uid>
// so it can be restored on rollback or finally
// dropped on commit. A missing source file is not an error: the
// filesystem has already reached the desired post-remove state.
func (tl *TxLog) StageRemove(uid string) error {
	src := BlobPath(tl.root, uid)
	dst := tl.oldPath(uid)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			glog.Warningf("blobstore: remove %s: source already absent", uid)
			tl.remove[uid] = true
			return nil
		}
		return errs.Wrap(errs.KindIOErr, err, "stage remove")
	}
	tl.remove[uid] = true
	return nil
}

// Get materializes the blob uid into destPath/relPath, preferring a
// hardlink and falling back to a copy, verifying the bounded-window
// integrity digest, and recording the destination for rollback.
func (tl *TxLog) Get(uid, destPath, relPath string) (Optim, error) {
	src := BlobPath(tl.root, uid)
	dst := filepath.Join(destPath, relPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Copy, errs.Wrap(errs.KindIOErr, err, "create dest dir")
	}
	optim, err := stageFile(src, dst, Hardlink)
	if err != nil {
		return optim, err
	}
	if verr := VerifyIntegrity(src, dst); verr != nil {
		os.Remove(dst)
		return optim, verr
	}
	tl.newGetFiles = append(tl.newGetFiles, dst)
	return optim, nil
}

// Commit promotes staged files in a strict order: old removals before new
// promotions, so a put that replaces a blob with an identical digest
// never loses data.
func (tl *TxLog) Commit() error {
	if tl.terminated {
		return errs.New(errs.KindIOErr, "transaction log already terminated")
	}
	for uid := range tl.remove {
		if err := os.Remove(tl.oldPath(uid)); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.KindIOErr, err, fmt.Sprintf("drop removed blob %s", uid))
		}
	}
	for uid := range tl.preparedPut {
		if tl.put[uid] {
			continue
		}
		if err := os.Remove(tl.newPath(uid)); err != nil && !os.IsNotExist(err) {
			glog.Warningf("blobstore: prune unused staged blob %s: %v", uid, err)
		}
	}
	for uid := range tl.put {
		dst := BlobPath(tl.root, uid)
		if _, err := os.Stat(dst); err == nil {
			// Already present (e.g. concurrent winner staged it first);
			// the content is identical because uid is its digest.
			os.Remove(tl.newPath(uid))
			continue
		}
		if err := os.Rename(tl.newPath(uid), dst); err != nil {
			return errs.Wrap(errs.KindIOErr, err, fmt.Sprintf("promote new blob %s", uid))
		}
	}
	tl.terminated = true
	return tl.cleanup()
}

// Rollback restores pre-transaction state: staged new-puts are discarded,
// staged removals are restored to their canonical path, and any files
// materialized into a client's destination during Get are deleted.
func (tl *TxLog) Rollback() error {
	if tl.terminated {
		return nil
	}
	for uid := range tl.put {
		os.Remove(tl.newPath(uid))
	}
	for uid := range tl.preparedPut {
		os.Remove(tl.newPath(uid))
	}
	for uid := range tl.remove {
		dst := BlobPath(tl.root, uid)
		if err := os.Rename(tl.oldPath(uid), dst); err != nil && !os.IsNotExist(err) {
			glog.Errorf("blobstore: rollback restore %s: %v", uid, err)
		}
	}
	for _, p := range tl.newGetFiles {
		os.Remove(p)
	}
	tl.terminated = true
	return tl.cleanup()
}

// Close is the safety net for a caller that forgets to terminate: call it
// (typically deferred) after every request; it is a no-op once Commit or
// Rollback has run.
func (tl *TxLog) Close() {
	if !tl.terminated {
		glog.Warningf("blobstore: transaction log %s closed without commit/rollback; rolling back", tl.stashDir)
		if err := tl.Rollback(); err != nil {
			glog.Errorf("blobstore: implicit rollback failed: %v", err)
		}
	}
}

// cleanup removes the now-empty stash directories: commit/rollback always
// leaves both subdirectories empty and the stash dir itself removed.
func (tl *TxLog) cleanup() error {
	if err := os.RemoveAll(tl.stashDir); err != nil {
		return errs.Wrap(errs.KindIOErr, err, "remove scratch dir")
	}
	return nil
}
