/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reaper

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcStartTimeOfSelfIsStable(t *testing.T) {
	a, ok := ProcStartTime(os.Getpid())
	if !ok {
		t.Skip("/proc not available on this platform")
	}
	b, ok := ProcStartTime(os.Getpid())
	require.True(t, ok)
	require.Equal(t, a, b)
}

func TestUnixCheckerAliveForSelf(t *testing.T) {
	c := UnixChecker{}
	require.True(t, c.Alive(os.Getpid(), 0))
}

func TestUnixCheckerDeadForZeroPid(t *testing.T) {
	c := UnixChecker{}
	require.False(t, c.Alive(0, 0))
}
