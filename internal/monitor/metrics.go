package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks pipeline-wide counters: how many signals moved
// through each terminal state and how long execution took end to end.
// Generalized from the teacher's order/tick/gateway-pool counters to
// this spec's signal lifecycle.
type SystemMetrics struct {
	SignalLatency *LatencyHistogram
	APILatency    *LatencyHistogram

	signalsQueued       uint64
	signalsCompleted    uint64
	signalsRiskRejected uint64
	signalsDeadLettered uint64
	errorsCount         uint64
	apiRequests         uint64
	apiErrors           uint64
}

// LatencyHistogram tracks latency samples with a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		SignalLatency: NewLatencyHistogram(1000),
		APILatency:    NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Uses lazy computation —
// only recomputes when samples have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementQueued counts a signal successfully enqueued by Ingress.
func (m *SystemMetrics) IncrementQueued() {
	atomic.AddUint64(&m.signalsQueued, 1)
}

// IncrementCompleted counts a signal the worker filled (fully or partially).
func (m *SystemMetrics) IncrementCompleted() {
	atomic.AddUint64(&m.signalsCompleted, 1)
}

// IncrementRiskRejected counts a signal RiskManager rejected.
func (m *SystemMetrics) IncrementRiskRejected() {
	atomic.AddUint64(&m.signalsRiskRejected, 1)
}

// IncrementDeadLettered counts a signal moved to the dead-letter list,
// whether it exhausted its retries or failed with retry disabled.
func (m *SystemMetrics) IncrementDeadLettered() {
	atomic.AddUint64(&m.signalsDeadLettered, 1)
}

// IncrementErrors increments the unclassified-error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI counts one served HTTP request, for RequestLogger.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts one HTTP response with a 4xx/5xx status.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view for /metrics.
type MetricsSnapshot struct {
	SignalLatency       LatencyStats `json:"signal_latency"`
	APILatency          LatencyStats `json:"api_latency"`
	SignalsQueued       uint64       `json:"signals_queued"`
	SignalsCompleted    uint64       `json:"signals_completed"`
	SignalsRiskRejected uint64       `json:"signals_risk_rejected"`
	SignalsDeadLettered uint64       `json:"signals_dead_lettered"`
	ErrorsCount         uint64       `json:"errors_count"`
	APIRequests         uint64       `json:"api_requests"`
	APIErrors           uint64       `json:"api_errors"`
	GoroutineCount      int          `json:"goroutine_count"`
	HeapAlloc           uint64       `json:"heap_alloc_bytes"`
	HeapSys             uint64       `json:"heap_sys_bytes"`
	Timestamp           time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		SignalLatency:       m.SignalLatency.Stats(),
		APILatency:          m.APILatency.Stats(),
		SignalsQueued:       atomic.LoadUint64(&m.signalsQueued),
		SignalsCompleted:    atomic.LoadUint64(&m.signalsCompleted),
		SignalsRiskRejected: atomic.LoadUint64(&m.signalsRiskRejected),
		SignalsDeadLettered: atomic.LoadUint64(&m.signalsDeadLettered),
		ErrorsCount:         atomic.LoadUint64(&m.errorsCount),
		APIRequests:         atomic.LoadUint64(&m.apiRequests),
		APIErrors:           atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:      runtime.NumGoroutine(),
		HeapAlloc:           memStats.HeapAlloc,
		HeapSys:             memStats.HeapSys,
		Timestamp:           time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
