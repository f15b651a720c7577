package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultraprof/ultra/diagport"
)

func TestGuessKind(t *testing.T) {
	assert.Equal(t, "clr", guessKind("ultra_foo_2026-01-01_00_00_00_123_clr.nettrace"))
	assert.Equal(t, "sampler", guessKind("ultra_foo_2026-01-01_00_00_00_123_sampler.nettrace"))
	assert.Equal(t, "", guessKind("ultra_foo_123.nettrace"))
}

func TestDumpNativeReadsFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out_123_sampler.nettrace")

	w, err := diagport.CreateWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteNativeProcessStart(0, diagport.NativeProcessStart{
		StartTimeUTC: 0,
		Architecture: 1,
		RID:          "linux-x64",
		OS:           "linux",
	}))
	require.NoError(t, w.Close())

	require.NoError(t, dumpNative(path))
}

func TestDumpRuntimeMissingFileErrors(t *testing.T) {
	assert.Error(t, dumpRuntime(filepath.Join(t.TempDir(), "missing.nettrace")))
}
