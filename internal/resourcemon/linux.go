package resourcemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const clockTicksPerSecond = 100 // standard USER_HZ on almost all Linux distros

// readLinuxProc reads /proc/<pid>/stat for CPU ticks and RSS, and counts
// entries under /proc/<pid>/fd for open handles. lastCPUTime/lastSampled
// are updated in place so the caller can compute a CPU percentage across
// calls.
func readLinuxProc(pid int, lastCPUTime *time.Duration, lastSampled *time.Time) (Sample, error) {
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	raw, err := os.ReadFile(statPath)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	// Fields after the parenthesized comm name are space-separated; comm
	// itself may contain spaces, so split on the closing paren first.
	closeParen := strings.LastIndexByte(string(raw), ')')
	if closeParen < 0 {
		return Sample{}, fmt.Errorf("resourcemon: malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(raw)[closeParen+1:])
	// fields[0] is state; utime is field index 11 (0-based) per proc(5),
	// i.e. fields[11], stime is fields[12], rss (pages) is fields[21].
	const (
		idxUtime = 11
		idxStime = 12
		idxRSS   = 21
	)
	if len(fields) <= idxRSS {
		return Sample{}, fmt.Errorf("resourcemon: unexpected stat field count for pid %d", pid)
	}

	utime, _ := strconv.ParseUint(fields[idxUtime], 10, 64)
	stime, _ := strconv.ParseUint(fields[idxStime], 10, 64)
	rssPages, _ := strconv.ParseUint(fields[idxRSS], 10, 64)

	totalTicks := utime + stime
	cpuTime := time.Duration(totalTicks) * time.Second / clockTicksPerSecond

	now := time.Now()
	var cpuPercent float64
	if !lastSampled.IsZero() {
		elapsed := now.Sub(*lastSampled)
		if elapsed > 0 {
			cpuPercent = 100 * float64(cpuTime-*lastCPUTime) / float64(elapsed)
		}
	}
	*lastCPUTime = cpuTime
	*lastSampled = now

	handles := countOpenHandles(pid)

	return Sample{
		Timestamp:   now,
		RSSBytes:    rssPages * uint64(os.Getpagesize()),
		CPUPercent:  cpuPercent,
		OpenHandles: handles,
	}, nil
}

func countOpenHandles(pid int) int {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		return 0
	}
	return len(entries)
}
