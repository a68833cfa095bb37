// Package action implements the Action Store: the `acs`, `acs_blobs`,
// `reqs`, `acs_gc`, and dependency-graph tables, and the four externally
// visible operations put_uid/get_uid/has_uid/remove_uid plus the internal
// remove_uid_nested used by the garbage collector.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package action

import (
	"github.com/yatool/localcache/blobstore"
)

// ReplacementMode controls what put_uid does when an action with the same
// uid already exists.
type ReplacementMode int

const (
	ReplaceBlobs ReplacementMode = iota
	UseOldBlobs
)

// Peer identifies the live consumer locking an action.
type Peer struct {
	PID              int
	StartTime        int64
	ExpectedLifetime int64
	TaskGSID         string
}

// BlobInfo is one blob reference carried in a PutUidRequest: a client
// source path plus the relative path it should land at on retrieval.
type BlobInfo struct {
	Path         string
	RelativePath string
	Ceiling      blobstore.Optim
}

type PutUidRequest struct {
	UID             string
	Blobs           []BlobInfo
	Weight          int64
	Origin          string
	ReplacementMode ReplacementMode
	IsResult        bool
	Peer            *Peer
	// TaskID names the scratch-area task id; defaults to Peer.TaskGSID
	// when a peer is present, else UID.
	TaskID string
}

type GetUidRequest struct {
	UID      string
	DestPath string
	Release  bool
	IsResult bool
	Peer     *Peer
	TaskID   string
}

type HasUidRequest struct {
	UID      string
	IsResult bool
	Peer     *Peer
	TaskID   string
}

type RemoveUidRequest struct {
	UID           string
	ForcedRemoval bool
	TaskID        string
}

// Result is the externally visible response shape returned by every
// put_uid/get_uid/has_uid/remove_uid call.
type Result struct {
	Success         bool
	NotFound        bool
	Origin          string
	TotalSizeDiff   int64
	TotalFsSizeDiff int64
	CopyMode        blobstore.Optim
	AcsDiff         int64
	BlobDiff        int64
}

// DepsResult is returned by PutDeps.
type DepsResult struct {
	Added   int
	Skipped int
}
