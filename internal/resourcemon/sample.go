package resourcemon

import (
	"fmt"
	"math"
	"runtime"
	"time"
)

// Sample is one point-in-time resource reading for a child process.
type Sample struct {
	Timestamp  time.Time
	RSSBytes   uint64
	CPUPercent float64
	OpenHandles int
}

// Monitor samples one PID on a fixed interval, keeping a short ring of
// recent samples for outlier detection (Sandbox's behavioural scan) and
// threshold comparison (Supervisor's soft/hard limit ladder).
type Monitor struct {
	pid      int
	interval time.Duration

	ring    []Sample
	ringCap int

	lastCPUTime time.Duration
	lastSampled time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor builds a Monitor for pid, retaining up to ringCap samples.
func NewMonitor(pid int, interval time.Duration, ringCap int) *Monitor {
	if ringCap <= 0 {
		ringCap = 32
	}
	return &Monitor{
		pid:     pid,
		interval: interval,
		ringCap: ringCap,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins background sampling, invoking onSample after each reading.
func (m *Monitor) Start(onSample func(Sample)) {
	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s, err := m.sampleOnce()
				if err != nil {
					continue
				}
				m.push(s)
				if onSample != nil {
					onSample(s)
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts background sampling.
func (m *Monitor) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.doneCh
}

func (m *Monitor) push(s Sample) {
	m.ring = append(m.ring, s)
	if len(m.ring) > m.ringCap {
		m.ring = m.ring[len(m.ring)-m.ringCap:]
	}
}

// Recent returns the retained ring of samples, oldest first.
func (m *Monitor) Recent() []Sample {
	return append([]Sample(nil), m.ring...)
}

// sampleOnce reads /proc/<pid>/stat and lists /proc/<pid>/fd on Linux; on
// other platforms it returns a zero-valued sample so callers degrade
// gracefully rather than failing outright.
func (m *Monitor) sampleOnce() (Sample, error) {
	if runtime.GOOS != "linux" {
		return Sample{Timestamp: time.Now()}, nil
	}
	return readLinuxProc(m.pid, &m.lastCPUTime, &m.lastSampled)
}

// Outlier reports whether sample s deviates from the ring's running mean by
// more than the given number of standard deviations, on either RSS or CPU
// (spec §4.12: "flag outliers").
func Outlier(ring []Sample, s Sample, stddevs float64) bool {
	if len(ring) < 2 {
		return false
	}
	rssMean, rssStd := meanStd(rssValues(ring))
	cpuMean, cpuStd := meanStd(cpuValues(ring))

	if rssStd > 0 && math.Abs(float64(s.RSSBytes)-rssMean) > stddevs*rssStd {
		return true
	}
	if cpuStd > 0 && math.Abs(s.CPUPercent-cpuMean) > stddevs*cpuStd {
		return true
	}
	return false
}

func rssValues(ring []Sample) []float64 {
	out := make([]float64, len(ring))
	for i, s := range ring {
		out[i] = float64(s.RSSBytes)
	}
	return out
}

func cpuValues(ring []Sample) []float64 {
	out := make([]float64, len(ring))
	for i, s := range ring {
		out[i] = s.CPUPercent
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// ErrUnsupported is returned by platform-specific readers that cannot find
// the process.
var ErrUnsupported = fmt.Errorf("resourcemon: process not found")
