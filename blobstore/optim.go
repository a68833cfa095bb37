/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

// Optim is the per-blob (and, via Meet, per-action) optimization hint: the
// strongest filesystem operation that can realize a put or get. Ordered so
// Meet (the lattice ⊓) is a plain min: Rename is strongest (no data copy
// at all, just a directory-entry change), Hardlink next (shares the
// inode, no data copy), Copy weakest (always safe, always works across
// filesystems).
//
// This implementation carries no "Stale" hint below Copy — nothing in
// this core produces one — so the three-point lattice below is complete
// and Meet=min is unambiguous. See DESIGN.md "Open Question resolution".
type Optim int

const (
	Copy Optim = iota
	Hardlink
	Rename
)

func (o Optim) String() string {
	switch o {
	case Rename:
		return "rename"
	case Hardlink:
		return "hardlink"
	default:
		return "copy"
	}
}

// Meet combines two optimization results into the strongest hint valid for
// both: Rename ⊓ Hardlink = Hardlink, Hardlink ⊓ Copy = Copy, etc.
func Meet(a, b Optim) Optim {
	if a < b {
		return a
	}
	return b
}

// MeetAll folds Meet across a non-empty slice of per-blob results into the
// action-level optimization result: the meet of all per-blob results.
func MeetAll(results []Optim) Optim {
	if len(results) == 0 {
		return Rename
	}
	m := results[0]
	for _, r := range results[1:] {
		m = Meet(m, r)
	}
	return m
}
