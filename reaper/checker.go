/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reaper

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessChecker reports whether the process identified by pid/startTime is
// still alive. Taking an interface rather than calling unix.Kill directly
// lets tests substitute a fake liveness table instead of depending on real
// process ids.
type ProcessChecker interface {
	Alive(pid int, startTime int64) bool
}

// UnixChecker probes liveness with a zero-signal kill(2) — ESRCH means the
// process is gone, any other outcome (including EPERM for a process we
// don't own but that still exists) means it's still running — and, when
// /proc is available, cross-checks the recorded start time against
// /proc/<pid>/stat field 22 to catch pid reuse: a dead task's pid handed to
// an unrelated new process would otherwise look alive forever.
type UnixChecker struct{}

func (UnixChecker) Alive(pid int, startTime int64) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return false
	}
	if startTime <= 0 {
		return true
	}
	actual, ok := ProcStartTime(pid)
	if !ok {
		// /proc unavailable (non-Linux, or raced with process exit):
		// fall back to the kill(2) result alone rather than treating an
		// unreadable stat file as proof of pid reuse.
		return true
	}
	return actual == startTime
}

// ProcStartTime reads field 22 of /proc/<pid>/stat — the process's start
// time in clock ticks since boot — the same value a caller should record
// in a Peer when it acquires a lock, so a later liveness check can tell a
// still-running original from an unrelated process that reused its pid.
func ProcStartTime(pid int) (int64, bool) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, false
	}
	// Fields after the process name (in parens, which may itself contain
	// spaces) are space-separated; find the closing paren and split what
	// follows rather than naively splitting on every space.
	parenIdx := strings.LastIndexByte(string(raw), ')')
	if parenIdx < 0 || parenIdx+2 >= len(raw) {
		return 0, false
	}
	fields := strings.Fields(string(raw[parenIdx+2:]))
	const startTimeField = 22 - 3 // fields[0] is field 3 (state); pid and name precede the closing paren
	if startTimeField < 0 || startTimeField >= len(fields) {
		return 0, false
	}
	v, err := strconv.ParseInt(fields[startTimeField], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
