// Package monitor samples process resource usage during a crawl and
// aggregates per-request timing into a report.
package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const sampleInterval = time.Second

// Report is the derived statistics snapshot returned by Stats. Every
// ratio defaults to 0 when its denominator is 0.
type Report struct {
	TotalTime         float64 `json:"total_time"`
	RequestCount      int     `json:"request_count"`
	SuccessCount      int     `json:"success_count"`
	ErrorCount        int     `json:"error_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgRequestTime    float64 `json:"avg_request_time"`
	MinRequestTime    float64 `json:"min_request_time"`
	MaxRequestTime    float64 `json:"max_request_time"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	MemoryMB          float64 `json:"memory_usage"`
	PeakMemoryMB      float64 `json:"max_memory"`
	CPUPercent        float64 `json:"cpu_usage"`
	PeakCPUPercent    float64 `json:"max_cpu"`
}

// Monitor records request outcomes and, while running, samples process
// memory and CPU at ~1 Hz on a background goroutine. Request durations are
// recorded once per attempt, so a retried call contributes one sample per
// try.
type Monitor struct {
	mu            sync.Mutex
	startedAt     time.Time
	endedAt       time.Time
	requestTimes  []float64
	successCount  int
	errorCount    int
	memoryHistory []float64
	cpuHistory    []float64

	logger  *zap.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Monitor.
func New(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{logger: logger}
}

// Start resets all counters and launches the resource sampler.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.startedAt = time.Now()
	m.endedAt = time.Time{}
	m.requestTimes = nil
	m.successCount = 0
	m.errorCount = 0
	m.memoryHistory = nil
	m.cpuHistory = nil
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true
	go m.sample(m.stopCh, m.doneCh)
}

// End stops the sampler and freezes the total time.
func (m *Monitor) End() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.endedAt = time.Now()
	stop, done := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stop)
	<-done
}

// RecordRequest appends one request outcome.
func (m *Monitor) RecordRequest(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestTimes = append(m.requestTimes, duration.Seconds())
	if success {
		m.successCount++
	} else {
		m.errorCount++
	}
}

// RequestCount returns the number of recorded requests so far.
func (m *Monitor) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requestTimes)
}

// Stats derives the report from everything recorded so far.
func (m *Monitor) Stats() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		RequestCount: len(m.requestTimes),
		SuccessCount: m.successCount,
		ErrorCount:   m.errorCount,
	}

	if !m.startedAt.IsZero() {
		end := m.endedAt
		if end.IsZero() {
			end = time.Now()
		}
		r.TotalTime = end.Sub(m.startedAt).Seconds()
	}
	if r.RequestCount > 0 {
		r.SuccessRate = float64(m.successCount) / float64(r.RequestCount) * 100
		min, max, sum := m.requestTimes[0], m.requestTimes[0], 0.0
		for _, d := range m.requestTimes {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			sum += d
		}
		r.MinRequestTime = min
		r.MaxRequestTime = max
		r.AvgRequestTime = sum / float64(r.RequestCount)
	}
	if r.TotalTime > 0 {
		r.RequestsPerSecond = float64(r.RequestCount) / r.TotalTime
	}
	if n := len(m.memoryHistory); n > 0 {
		r.MemoryMB = m.memoryHistory[n-1]
		for _, v := range m.memoryHistory {
			if v > r.PeakMemoryMB {
				r.PeakMemoryMB = v
			}
		}
	}
	if n := len(m.cpuHistory); n > 0 {
		r.CPUPercent = m.cpuHistory[n-1]
		for _, v := range m.cpuHistory {
			if v > r.PeakCPUPercent {
				r.PeakCPUPercent = v
			}
		}
	}
	return r
}

// sample reads /proc/self once per interval until stopped.
func (m *Monitor) sample(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	proc, err := procfs.Self()
	if err != nil {
		m.logger.Debug("resource sampling unavailable", zap.Error(err))
		return
	}

	var lastCPU float64
	var lastAt time.Time
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			stat, err := proc.Stat()
			if err != nil {
				continue
			}
			memMB := float64(stat.ResidentMemory()) / 1024 / 1024
			cpuSecs := stat.CPUTime()

			var cpuPct float64
			if !lastAt.IsZero() {
				if elapsed := now.Sub(lastAt).Seconds(); elapsed > 0 {
					cpuPct = (cpuSecs - lastCPU) / elapsed * 100
				}
			}
			lastCPU = cpuSecs
			lastAt = now

			m.mu.Lock()
			m.memoryHistory = append(m.memoryHistory, memMB)
			if cpuPct >= 0 {
				m.cpuHistory = append(m.cpuHistory, cpuPct)
			}
			m.mu.Unlock()
		}
	}
}
