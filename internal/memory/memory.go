package memory

import (
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// DefaultMemoryRatio is the fraction of the container memory limit given to
// the Go heap. The rest is reserved for ffmpeg/ffprobe subprocesses, vips
// buffers, and goroutine stacks.
const DefaultMemoryRatio = 0.85

// ConfigureFromEnv sets GOMEMLIMIT from the container memory limit. Call it
// early in main, before significant allocations.
//
// GOMEMLIMIT takes precedence when set explicitly. Otherwise MEMORY_LIMIT
// (bytes, e.g. from the Kubernetes Downward API) scaled by MEMORY_RATIO is
// applied.
func ConfigureFromEnv() {
	if value := os.Getenv("GOMEMLIMIT"); value != "" {
		logging.Info("GOMEMLIMIT set via environment: %s", value)
		return
	}

	value := os.Getenv("MEMORY_LIMIT")
	if value == "" {
		logging.Debug("MEMORY_LIMIT not set, GOMEMLIMIT not configured")
		return
	}
	limit, err := strconv.ParseInt(value, 10, 64)
	if err != nil || limit <= 0 {
		logging.Warn("Ignoring invalid MEMORY_LIMIT %q", value)
		return
	}

	ratio := DefaultMemoryRatio
	if ratioValue := os.Getenv("MEMORY_RATIO"); ratioValue != "" {
		if parsed, err := strconv.ParseFloat(ratioValue, 64); err == nil && parsed > 0 && parsed <= 1.0 {
			ratio = parsed
		} else {
			logging.Warn("Ignoring invalid MEMORY_RATIO %q, using %.2f", ratioValue, ratio)
		}
	}

	goLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goLimit)
	logging.Info("GOMEMLIMIT configured: %d bytes (%.0f%% of %d byte container limit)",
		goLimit, ratio*100, limit)
}

// Config tunes the backpressure monitor.
type Config struct {
	// MemoryLimitBytes overrides GOMEMLIMIT as the reference limit. 0 uses
	// GOMEMLIMIT when set; without any limit the monitor is inert.
	MemoryLimitBytes int64

	// HighWaterMark is the usage fraction at which processing resumes after
	// a pause.
	HighWaterMark float64

	// CriticalWaterMark is the usage fraction that pauses processing.
	CriticalWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Monitor samples heap usage and pauses import processing while allocation
// sits above the critical water mark.
type Monitor struct {
	config Config
	limit  int64
	stop   chan struct{}

	mu        sync.RWMutex
	current   uint64
	paused    bool
	pauseChan chan struct{}
}

// NewMonitor creates a Monitor. Without a configured limit it never pauses.
func NewMonitor(config Config) *Monitor {
	limit := config.MemoryLimitBytes
	if limit == 0 {
		if goLimit := debug.SetMemoryLimit(-1); goLimit > 0 && goLimit < math.MaxInt64 {
			limit = goLimit
			logging.Info("Memory monitor using GOMEMLIMIT: %.1f MB", float64(limit)/(1024*1024))
		}
	}
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config:    config,
		limit:     limit,
		stop:      make(chan struct{}),
		pauseChan: make(chan struct{}),
	}
}

// Start launches the sampling loop. A no-op without a limit.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases all waiters.
func (m *Monitor) Stop() {
	close(m.stop)
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) check() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = stats.Alloc
	usage := float64(stats.Alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= m.config.CriticalWaterMark && !m.paused:
		logging.Warn("Memory critical (%.1f%% of limit), pausing imports", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCForced.Inc()
		go runtime.GC()
	case usage < m.config.HighWaterMark && m.paused:
		logging.Info("Memory recovered (%.1f%% of limit), resuming imports", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.pauseChan)
		m.pauseChan = make(chan struct{})
	}
}

// WaitIfPaused blocks while processing is paused. It returns false when the
// monitor is stopped before the pause lifts.
func (m *Monitor) WaitIfPaused() bool {
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return true
	}
	pauseChan := m.pauseChan
	m.mu.RUnlock()

	select {
	case <-pauseChan:
		return true
	case <-m.stop:
		return false
	}
}

// IsPaused reports whether processing is currently paused.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Usage returns heap allocation as a fraction of the limit, 0 without one.
func (m *Monitor) Usage() float64 {
	if m.limit == 0 {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) / float64(m.limit)
}
