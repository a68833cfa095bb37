// Package diskstat answers the integrity handler's steady-state question —
// is the filesystem holding the cache below its configured watermark — via
// a statfs(2) block-count snapshot.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package diskstat

import "golang.org/x/sys/unix"

// Stats is one statfs(2) snapshot of the filesystem backing path.
type Stats struct {
	Blocks    uint64
	Bavail    uint64
	BlockSize int64
}

// UsedPercent returns the percentage of blocks currently in use, 0 if the
// filesystem reports no blocks at all (an unmounted or degenerate path).
func (s Stats) UsedPercent() uint64 {
	if s.Blocks == 0 {
		return 0
	}
	return (s.Blocks - s.Bavail) * 100 / s.Blocks
}

// Checker reads filesystem usage for one path.
type Checker struct {
	path string
}

func New(path string) *Checker { return &Checker{path: path} }

func (c *Checker) Stats() (Stats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(c.path, &st); err != nil {
		return Stats{}, err
	}
	return Stats{Blocks: st.Blocks, Bavail: st.Bavail, BlockSize: st.Bsize}, nil
}

// BelowWatermark reports whether usage has dropped to or below lowWM
// percent — the condition the steady-state eviction loop stops on.
func (c *Checker) BelowWatermark(lowWM int) (bool, error) {
	st, err := c.Stats()
	if err != nil {
		return false, err
	}
	if st.Blocks == 0 {
		return true, nil
	}
	return st.UsedPercent() <= uint64(lowWM), nil
}

// EvictionTarget reports how many bytes need freeing to bring usage down
// from highWM to lowWM percent. Returns 0 if usage is already below
// highWM: no action below the high watermark, otherwise evict down to the
// low watermark.
func (c *Checker) EvictionTarget(lowWM, highWM int) (int64, error) {
	st, err := c.Stats()
	if err != nil {
		return 0, err
	}
	if st.Blocks == 0 || st.UsedPercent() < uint64(highWM) {
		return 0, nil
	}
	used := st.Blocks - st.Bavail
	lwmBlocks := st.Blocks * uint64(lowWM) / 100
	if used <= lwmBlocks {
		return 0, nil
	}
	return int64(used-lwmBlocks) * st.BlockSize, nil
}
