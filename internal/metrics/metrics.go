// Package metrics collects the process-wide performance, filter, and
// memory counters the admin surface polls and pushes to the metrics
// WebSocket every 500ms. All counters are atomics so the proxy's
// request-handling goroutines can update them without contention.
package metrics

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Collector accumulates request counts, processing-time totals, and
// memory usage for the running process.
type Collector struct {
	networkRequests        atomic.Uint64
	cosmeticRequests       atomic.Uint64
	blockedRequests        atomic.Uint64
	failedRequests         atomic.Uint64
	requestsPerSecond      atomic.Uint64
	networkProcessingTime  atomic.Uint64
	cosmeticProcessingTime atomic.Uint64
	engineUpdateTime       atomic.Uint64
	lastUpdateTime         atomic.Uint64
	activeFilters          atomic.Uint64
	filterUpdates          atomic.Uint64
	failedUpdates          atomic.Uint64
	peakMemoryUsageKB      atomic.Uint64
	currentMemoryUsageKB   atomic.Uint64

	proc *process.Process
}

// NewCollector returns a Collector with every counter at zero.
func NewCollector() *Collector {
	c := &Collector{}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Run polls process memory and refreshes the requests-per-second
// exponential moving average once a second, until ctx is canceled.
// Grounded on the source's 1-second poll loop with alpha=0.3 smoothing.
func (c *Collector) Run(ctx context.Context) {
	const alpha = 0.3
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var prevTotal uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollMemory()

			total := c.networkRequests.Load() + c.cosmeticRequests.Load()
			delta := total - prevTotal
			prevTotal = total

			prevRate := c.requestsPerSecond.Load()
			newRate := uint64(alpha*float64(delta) + (1-alpha)*float64(prevRate))
			c.requestsPerSecond.Store(newRate)
		}
	}
}

func (c *Collector) pollMemory() {
	if c.proc == nil {
		return
	}
	info, err := c.proc.MemoryInfo()
	if err != nil || info == nil {
		return
	}
	usedKB := info.RSS / 1024
	c.currentMemoryUsageKB.Store(usedKB)
	for {
		peak := c.peakMemoryUsageKB.Load()
		if usedKB <= peak {
			break
		}
		if c.peakMemoryUsageKB.CompareAndSwap(peak, usedKB) {
			break
		}
	}
}

// RecordNetwork records one network-match query and its elapsed
// processing time.
func (c *Collector) RecordNetwork(elapsed time.Duration, blocked, failed bool) {
	c.networkRequests.Add(1)
	c.networkProcessingTime.Add(uint64(elapsed.Nanoseconds()))
	if blocked {
		c.blockedRequests.Add(1)
	}
	if failed {
		c.failedRequests.Add(1)
	}
}

// RecordCosmetic records one cosmetic-match query and its elapsed
// processing time.
func (c *Collector) RecordCosmetic(elapsed time.Duration) {
	c.cosmeticRequests.Add(1)
	c.cosmeticProcessingTime.Add(uint64(elapsed.Nanoseconds()))
}

// RecordEngineUpdate records one ReplaceEngine command: its elapsed
// time, the new engine's size in KB, and whether it succeeded.
func (c *Collector) RecordEngineUpdate(elapsed time.Duration, sizeKB uint64, ok bool) {
	c.engineUpdateTime.Add(uint64(elapsed.Nanoseconds()))
	c.lastUpdateTime.Store(uint64(elapsed.Nanoseconds()))
	if ok {
		c.filterUpdates.Add(1)
		c.activeFilters.Store(sizeKB)
	} else {
		c.failedUpdates.Add(1)
	}
}

// Performance is the averaged performance snapshot served to the
// admin UI.
type Performance struct {
	AvgRequestTimeMs  float64 `json:"avg_request_time_ms"`
	AvgNetworkTimeMs  float64 `json:"avg_network_time_ms"`
	AvgCosmeticTimeMs float64 `json:"avg_cosmetic_time_ms"`
	AvgUpdateTimeMs   float64 `json:"avg_update_time_ms"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// Filters is the filter-engine snapshot served to the admin UI.
type Filters struct {
	ActiveFilters    uint64 `json:"active_filters"`
	FilterUpdates    uint64 `json:"filter_updates"`
	FailedUpdates    uint64 `json:"failed_updates"`
	LastUpdateTimeMs uint64 `json:"last_update_time_ms"`
}

// Memory is the memory-usage snapshot served to the admin UI.
type Memory struct {
	CurrentUsageKB uint64 `json:"current_usage_kb"`
	PeakUsageKB    uint64 `json:"peak_usage_kb"`
	FilterMemoryKB uint64 `json:"filter_memory_kb"`
}

// Snapshot is the full metrics payload pushed over the WebSocket
// every 500ms.
type Snapshot struct {
	Performance Performance `json:"performance"`
	Filters     Filters     `json:"filters"`
	Memory      Memory      `json:"memory"`
}

// Snapshot computes the current metrics snapshot from the live
// counters.
func (c *Collector) Snapshot() Snapshot {
	networkRequests := c.networkRequests.Load()
	cosmeticRequests := c.cosmeticRequests.Load()
	totalRequests := networkRequests + cosmeticRequests

	networkTime := c.networkProcessingTime.Load()
	cosmeticTime := c.cosmeticProcessingTime.Load()
	updateTime := c.engineUpdateTime.Load()
	filterUpdates := c.filterUpdates.Load()

	avg := func(numerator uint64, count uint64) float64 {
		if count == 0 {
			return 0
		}
		return float64(numerator) / float64(count) / 1_000_000
	}

	return Snapshot{
		Performance: Performance{
			AvgRequestTimeMs:  avg(networkTime+cosmeticTime, totalRequests),
			AvgNetworkTimeMs:  avg(networkTime, networkRequests),
			AvgCosmeticTimeMs: avg(cosmeticTime, cosmeticRequests),
			AvgUpdateTimeMs:   avg(updateTime, filterUpdates),
			RequestsPerSecond: float64(c.requestsPerSecond.Load()),
		},
		Filters: Filters{
			ActiveFilters:    c.activeFilters.Load(),
			FilterUpdates:    filterUpdates,
			FailedUpdates:    c.failedUpdates.Load(),
			LastUpdateTimeMs: c.lastUpdateTime.Load() / 1_000_000,
		},
		Memory: Memory{
			CurrentUsageKB: c.currentMemoryUsageKB.Load(),
			PeakUsageKB:    c.peakMemoryUsageKB.Load(),
			FilterMemoryKB: c.activeFilters.Load(),
		},
	}
}
