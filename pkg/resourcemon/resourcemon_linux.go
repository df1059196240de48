//go:build linux

package resourcemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const clockTicksPerSec = 100

type cpuSnapshot struct {
	ticks int64
	at    time.Time
}

type platformSampler struct {
	mu   sync.Mutex
	last map[int]cpuSnapshot
}

var sharedLinuxSampler = &platformSampler{last: make(map[int]cpuSnapshot)}

// Sample reads /proc/<pid>/stat and /proc/<pid>/statm directly; the proc
// files are the cheapest way to sample a foreign pid every tick.
func (*platformSampler) Sample(pid int) (Sample, error) {
	return sharedLinuxSampler.sample(pid)
}

func (s *platformSampler) sample(pid int) (Sample, error) {
	statmData, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return Sample{}, fmt.Errorf("read statm: %w", err)
	}
	fields := strings.Fields(string(statmData))
	if len(fields) < 2 {
		return Sample{}, fmt.Errorf("unexpected statm format")
	}
	residentPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("parse statm rss: %w", err)
	}
	memoryBytes := residentPages * uint64(os.Getpagesize())

	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return Sample{}, fmt.Errorf("read stat: %w", err)
	}
	ticks, ok := parseTotalTicks(string(statData))
	now := time.Now()

	var cpuPercent float64
	if ok {
		s.mu.Lock()
		prev, had := s.last[pid]
		s.last[pid] = cpuSnapshot{ticks: ticks, at: now}
		s.mu.Unlock()

		if had {
			elapsed := now.Sub(prev.at).Seconds()
			if elapsed > 0 {
				deltaSeconds := float64(ticks-prev.ticks) / clockTicksPerSec
				cpuPercent = (deltaSeconds / elapsed) * 100
			}
		}
	}

	return Sample{MemoryBytes: memoryBytes, CPUPercent: cpuPercent, At: now}, nil
}

// parseTotalTicks returns utime+stime from a /proc/<pid>/stat line. The
// comm field may itself contain spaces or parens, so split on the last
// ')' rather than by fixed field index.
func parseTotalTicks(stat string) (int64, bool) {
	closeParen := strings.LastIndex(stat, ")")
	if closeParen < 0 {
		return 0, false
	}
	rest := strings.Fields(stat[closeParen+1:])
	// state is field 3 overall = rest[0]; utime is field 14 = rest[11];
	// stime is field 15 = rest[12].
	if len(rest) < 13 {
		return 0, false
	}
	utime, err1 := strconv.ParseInt(rest[11], 10, 64)
	stime, err2 := strconv.ParseInt(rest[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return utime + stime, true
}
