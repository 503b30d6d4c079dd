package verifier

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ProviderMetrics keeps in-process counters for the verification provider.
// The breaker reads ConsecutiveTimeouts; Stats feeds the health endpoint.
type ProviderMetrics struct {
	TotalRequests       atomic.Int64
	Verified            atomic.Int64
	Rejected            atomic.Int64
	Timeouts            atomic.Int64
	TotalLatencyMs      atomic.Int64
	ConsecutiveTimeouts atomic.Int32
	LastTimeoutTime     atomic.Int64
	LastSuccessTime     atomic.Int64

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *ProviderMetrics) RecordVerified(latencyMs int64) {
	m.record(latencyMs)
	m.Verified.Add(1)
	m.ConsecutiveTimeouts.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

// RecordRejected counts a definitive answer that was not a valid slip. The
// provider did answer, so it resets the timeout streak.
func (m *ProviderMetrics) RecordRejected(latencyMs int64) {
	m.record(latencyMs)
	m.Rejected.Add(1)
	m.ConsecutiveTimeouts.Store(0)
}

func (m *ProviderMetrics) RecordTimeout() {
	m.TotalRequests.Add(1)
	m.Timeouts.Add(1)
	m.ConsecutiveTimeouts.Add(1)
	m.LastTimeoutTime.Store(time.Now().Unix())
}

func (m *ProviderMetrics) record(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.TotalLatencyMs.Add(latencyMs)

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	answered := m.TotalRequests.Load() - m.Timeouts.Load()
	if answered <= 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / answered
}

func (m *ProviderMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencyHistory) == 0 {
		return 0
	}

	sorted := make([]int64, len(m.latencyHistory))
	copy(sorted, m.latencyHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type ProviderStats struct {
	State               string `json:"state"`
	TotalRequests       int64  `json:"total_requests"`
	Verified            int64  `json:"verified"`
	Rejected            int64  `json:"rejected"`
	Timeouts            int64  `json:"timeouts"`
	ConsecutiveTimeouts int32  `json:"consecutive_timeouts"`
	AvgLatencyMs        int64  `json:"avg_latency_ms"`
	P95LatencyMs        int64  `json:"p95_latency_ms"`
}
