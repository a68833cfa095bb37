/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"io"
	"os"

	"github.com/OneOfOne/xxhash"

	"github.com/yatool/localcache/internal/errs"
)

// DigestCheckSize bounds the post-copy integrity check window: only the
// first and last DigestCheckSize bytes are re-hashed, keeping integrity
// verification O(1) in file size for the large blobs
// this cache is expected to hold.
const DigestCheckSize = 4096

// Digest computes the content digest (uid) and logical size of the file at
// path, hashing the whole file — this is the one place a blob's full
// content is actually read: on every put (Preprocess) and in the startup
// ScanIntegrity pass.
func Digest(path string) (uid string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindIOErr, err, "open for digest")
	}
	defer f.Close()

	h := xxhash.New64()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindIOErr, err, "read for digest")
	}
	return xxhash.FormatHex(h.Sum64()), n, nil
}

// boundedWindow reads up to DigestCheckSize bytes from the head and the
// tail of the file at path (the two windows may overlap for small files)
// and returns a digest over head||tail, the cheap re-verification used to
// confirm a staged copy landed correctly without re-reading the whole file.
func boundedWindow(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindIOErr, err, "open for bounded digest")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", 0, errs.Wrap(errs.KindIOErr, err, "stat for bounded digest")
	}
	size := fi.Size()

	h := xxhash.New64()
	head := make([]byte, DigestCheckSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", 0, errs.Wrap(errs.KindIOErr, err, "read head window")
	}
	h.Write(head[:n])

	if size > DigestCheckSize {
		tailStart := size - DigestCheckSize
		if tailStart < int64(n) {
			tailStart = int64(n)
		}
		if _, serr := f.Seek(tailStart, io.SeekStart); serr != nil {
			return "", 0, errs.Wrap(errs.KindIOErr, serr, "seek tail window")
		}
		tail := make([]byte, size-tailStart)
		tn, terr := io.ReadFull(f, tail)
		if terr != nil && terr != io.ErrUnexpectedEOF && terr != io.EOF {
			return "", 0, errs.Wrap(errs.KindIOErr, terr, "read tail window")
		}
		h.Write(tail[:tn])
	}
	return xxhash.FormatHex(h.Sum64()), size, nil
}

// VerifyIntegrity compares size and the bounded-window digest of src and
// dst after a copy lands, to confirm the destination matches the source. A
// mismatch is reported as an I/O failure so the caller can abort.
func VerifyIntegrity(src, dst string) error {
	srcDigest, srcSize, err := boundedWindow(src)
	if err != nil {
		return err
	}
	dstDigest, dstSize, err := boundedWindow(dst)
	if err != nil {
		return err
	}
	if srcSize != dstSize {
		return errs.New(errs.KindIOErr, "integrity check: size mismatch")
	}
	if srcDigest != dstDigest {
		return errs.New(errs.KindIOErr, "integrity check: digest mismatch")
	}
	return nil
}
