//go:build darwin

package orchestrator

import "github.com/ultraprof/ultra/sampler"

func newPlatformBackend() sampler.ThreadBackend { return sampler.NewDarwinBackend() }
