//go:build linux

package orchestrator

import "github.com/ultraprof/ultra/sampler"

func newPlatformBackend() sampler.ThreadBackend { return sampler.NewLinuxBackend() }
