/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	want := sample{Name: "blobs", Count: 7}
	require.NoError(t, Save(path, want))

	var got sample
	require.NoError(t, Load(path, &got))
	require.Equal(t, want, got)
}

func TestLoadDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, Save(path, sample{Name: "x", Count: 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	var got sample
	err = Load(path, &got)
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestLoadRejectsBadSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte("not a config file"), 0o644))

	var got sample
	err := Load(path, &got)
	require.Error(t, err)
}
