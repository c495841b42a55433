package mailer

import (
	"sync"
	"time"
)

type DeliveryStats struct {
	Sent         int
	Failed       int
	LastError    string
	LastFailedAt time.Time
	TotalLatency time.Duration
}

type MetricsCollector struct {
	stats DeliveryStats
	mu    sync.RWMutex
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

func (mc *MetricsCollector) RecordSuccess(latency time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stats.Sent++
	mc.stats.TotalLatency += latency
}

func (mc *MetricsCollector) RecordFailure(latency time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.stats.Failed++
	mc.stats.TotalLatency += latency
	mc.stats.LastError = err.Error()
	mc.stats.LastFailedAt = time.Now()
}

func (mc *MetricsCollector) Snapshot() DeliveryStats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.stats
}
