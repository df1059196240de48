//go:build !linux

package resourcemon

import (
	"sync"

	"github.com/cuemby/orchestrator/pkg/log"
)

type platformSampler struct{}

var warnOnce sync.Once

// Sample returns zeros on platforms without a /proc-based sampler wired
// up, logging once rather than failing the caller.
func (*platformSampler) Sample(pid int) (Sample, error) {
	warnOnce.Do(func() {
		log.WithComponent("resourcemon").Warn().Msg("resource sampling not implemented on this platform, reporting zeros")
	})
	return Sample{}, nil
}
