package metrics

import (
	"sort"
	"sync"
	"time"
)

// GenerationStats aggregates generation outcomes since process start
type GenerationStats struct {
	Started      int64 `json:"started"`
	Completed    int64 `json:"completed"`
	Stopped      int64 `json:"stopped"`
	Failed       int64 `json:"failed"`
	QuotaBlocked int64 `json:"quota_blocked"`

	AvgDurationMS int64 `json:"avg_duration_ms"`
	P95DurationMS int64 `json:"p95_duration_ms"`
}

// Collector aggregates process-local counters for the health and metrics
// endpoints. Everything here is volatile; a restart starts from zero.
type Collector struct {
	mu        sync.RWMutex
	stats     GenerationStats
	durations []int64
	started   time.Time
}

const maxDurationSamples = 100

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		durations: make([]int64, 0, maxDurationSamples),
		started:   time.Now(),
	}
}

// GenerationStarted records the start of a generation task
func (c *Collector) GenerationStarted() {
	c.mu.Lock()
	c.stats.Started++
	c.mu.Unlock()
}

// GenerationCompleted records a completed generation and its duration
func (c *Collector) GenerationCompleted(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Completed++
	c.recordDuration(duration)
}

// GenerationStopped records a client-stopped generation
func (c *Collector) GenerationStopped(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Stopped++
	c.recordDuration(duration)
}

// GenerationFailed records a failed generation
func (c *Collector) GenerationFailed() {
	c.mu.Lock()
	c.stats.Failed++
	c.mu.Unlock()
}

// QuotaBlocked records a request rejected by the usage gate
func (c *Collector) QuotaBlocked() {
	c.mu.Lock()
	c.stats.QuotaBlocked++
	c.mu.Unlock()
}

// recordDuration keeps a bounded sliding window of samples; caller holds the
// lock
func (c *Collector) recordDuration(duration time.Duration) {
	c.durations = append(c.durations, duration.Milliseconds())
	if len(c.durations) > maxDurationSamples {
		c.durations = c.durations[len(c.durations)-maxDurationSamples:]
	}

	sorted := make([]int64, len(c.durations))
	copy(sorted, c.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, d := range sorted {
		sum += d
	}
	c.stats.AvgDurationMS = sum / int64(len(sorted))
	c.stats.P95DurationMS = sorted[min(int(float64(len(sorted))*0.95), len(sorted)-1)]
}

// Snapshot returns a copy of the current stats
func (c *Collector) Snapshot() GenerationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Uptime returns how long the collector has been running
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.started)
}
