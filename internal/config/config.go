// Package config persists arbitrary JSON-encoded structures to disk with an
// embedded checksum: a signed, checksummed envelope written atomically via
// a temp-file-then-rename so a crash mid-write never leaves a torn file in
// place of the previous good one.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"

	"github.com/OneOfOne/xxhash"
	jsoniter "github.com/json-iterator/go"

	"github.com/yatool/localcache/internal/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// signature marks the start of every file this package writes, so Load can
// fail fast on a file written by something else instead of misreading
// garbage as a checksum.
const signature = "lclcache1"

// ErrBadChecksum is returned by Load when the embedded checksum doesn't
// match the payload that follows it — a torn or corrupted write.
var ErrBadChecksum = errs.New(errs.KindIOErr, "config: checksum mismatch")

// Save JSON-encodes v and writes it to path as <signature><8-byte digest>
// <payload>, via a temp file renamed into place so a reader never observes
// a partial write.
func Save(path string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.KindIOErr, err, "marshal config")
	}
	sum := xxhash.Checksum64(payload)

	tmp := path + ".tmp." + strconv.Itoa(os.Getpid())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindIOErr, err, "create temp config file")
	}

	if _, err := f.WriteString(signature); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIOErr, err, "write signature")
	}
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	if _, err := f.Write(sumBuf[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIOErr, err, "write checksum")
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIOErr, err, "write payload")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.KindIOErr, err, "sync temp config file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIOErr, err, "close temp config file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindIOErr, err, "rename config into place")
	}
	return nil
}

// Load reads path, verifies its embedded checksum, and JSON-decodes the
// payload into v. A checksum mismatch returns ErrBadChecksum without
// touching the file — the caller decides whether to discard it.
func Load(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.KindIOErr, err, "read config file")
	}
	sigLen := len(signature)
	if len(raw) < sigLen+8 || string(raw[:sigLen]) != signature {
		return errs.New(errs.KindIOErr, "config: bad signature in "+filepath.Base(path))
	}
	wantSum := binary.BigEndian.Uint64(raw[sigLen : sigLen+8])
	payload := raw[sigLen+8:]
	if xxhash.Checksum64(payload) != wantSum {
		return ErrBadChecksum
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errs.Wrap(errs.KindIOErr, err, "unmarshal config")
	}
	return nil
}
