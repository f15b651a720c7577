package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ultraprof/ultra/internal/uerrors"
)

func TestDurationFromMs(t *testing.T) {
	assert.Equal(t, time.Duration(0), durationFromMs(0))
	assert.Equal(t, time.Duration(0), durationFromMs(-5))
	assert.Equal(t, 2500*time.Microsecond, durationFromMs(2.5))
}

func TestDurationFromSeconds(t *testing.T) {
	assert.Equal(t, time.Duration(0), durationFromSeconds(0))
	assert.Equal(t, 3*time.Second, durationFromSeconds(3))
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCodeFor(nil))
	assert.Equal(t, exitCancel, exitCodeFor(uerrors.New(uerrors.KindUserCancel, "op", nil)))
	assert.Equal(t, exitConfig, exitCodeFor(uerrors.New(uerrors.KindConfig, "op", nil)))
	assert.Equal(t, exitTarget, exitCodeFor(uerrors.New(uerrors.KindConnect, "op", nil)))
	assert.Equal(t, exitConfig, exitCodeFor(uerrors.New(uerrors.KindIO, "op", nil)))
}
