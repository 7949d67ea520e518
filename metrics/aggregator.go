// Package metrics implements the metrics aggregator (C7): rolling sample
// buffers, sliding 60-second counters, and monotonic connection/error
// counters, grounded on original_source/backend/app/manager.py's
// PerformanceMetrics. No example repo wires a third-party metrics library
// (aistore's go.mod lists prometheus/client_golang but no retrieved
// aistore source imports it), so this stays on sync/atomic and a
// mutex-guarded ring, matching every example repo's actual practice.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const sampleCapacity = 1000

// ring is a bounded, mutex-guarded sample buffer. Once full, the oldest
// sample is overwritten (a circular buffer), matching manager.py's
// `deque(maxlen=1000)`.
type ring struct {
	mu     sync.Mutex
	values []float64
	next   int
	filled bool
}

func newRing() *ring {
	return &ring{values: make([]float64, sampleCapacity)}
}

func (r *ring) add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[r.next] = v
	r.next = (r.next + 1) % sampleCapacity
	if r.next == 0 {
		r.filled = true
	}
}

func (r *ring) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.filled {
		n = sampleCapacity
	}
	out := make([]float64, n)
	copy(out, r.values[:n])
	return out
}

// percentile computes the pth percentile (0-100) of samples. Per spec
// §4.7, p95 needs at least 20 samples and p99 needs at least 100; below
// that threshold the current max is returned instead.
func percentile(samples []float64, p float64, minSamples int) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) < minSamples {
		return maxOf(samples)
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[idx]
}

func maxOf(samples []float64) float64 {
	m := samples[0]
	for _, v := range samples[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// slidingCounter tracks event timestamps in a 60-second sliding window,
// ported from manager.py's deque-based per-minute rate counters.
type slidingCounter struct {
	mu    sync.Mutex
	times []time.Time
}

func newSlidingCounter() *slidingCounter {
	return &slidingCounter{}
}

func (c *slidingCounter) mark() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times = append(c.times, time.Now())
	c.prune()
}

func (c *slidingCounter) prune() {
	cutoff := time.Now().Add(-60 * time.Second)
	i := 0
	for i < len(c.times) && c.times[i].Before(cutoff) {
		i++
	}
	c.times = c.times[i:]
}

func (c *slidingCounter) rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return float64(len(c.times)) / 60.0
}

// Aggregator is the process-wide metrics collector. Create one with New
// and share it across the coordinator, session store, and api package.
type Aggregator struct {
	latencyMs           *ring
	operationProcessMs  *ring
	operationsCounter   *slidingCounter
	messagesCounter     *slidingCounter
	errorCounter        *slidingCounter

	totalConnections      atomic.Int64
	activeConnections     atomic.Int64
	connectionErrors      atomic.Int64
	reconnectionAttempts  atomic.Int64

	errMu      sync.Mutex
	errCounts  map[string]int64
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		latencyMs:          newRing(),
		operationProcessMs: newRing(),
		operationsCounter:  newSlidingCounter(),
		messagesCounter:    newSlidingCounter(),
		errorCounter:       newSlidingCounter(),
		errCounts:          make(map[string]int64),
	}
}

// RecordLatency adds a connection-latency sample in milliseconds.
func (a *Aggregator) RecordLatency(ms float64) {
	a.latencyMs.add(ms)
}

// RecordOperationProcessing adds an operation-processing-time sample in
// milliseconds.
func (a *Aggregator) RecordOperationProcessing(ms float64) {
	a.operationProcessMs.add(ms)
	a.operationsCounter.mark()
}

// RecordMessage marks one inbound message for the messages/sec counter.
func (a *Aggregator) RecordMessage() {
	a.messagesCounter.mark()
}

// ConnectionOpened increments total and active connection counters.
func (a *Aggregator) ConnectionOpened() {
	a.totalConnections.Add(1)
	a.activeConnections.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (a *Aggregator) ConnectionClosed() {
	a.activeConnections.Add(-1)
}

// ConnectionError increments the connection-error counter.
func (a *Aggregator) ConnectionError() {
	a.connectionErrors.Add(1)
}

// ReconnectionAttempted increments the reconnection-attempt counter.
func (a *Aggregator) ReconnectionAttempted() {
	a.reconnectionAttempts.Add(1)
}

// RecordError increments the per-kind error counter used both for the
// error_rate_per_minute window and the §6 health derivation.
func (a *Aggregator) RecordError(kind string) {
	a.errMu.Lock()
	a.errCounts[kind]++
	a.errMu.Unlock()
	a.errorCounter.mark()
}

// Snapshot is the aggregated view exposed by the get_metrics wire message
// and the /api/metrics endpoint.
type Snapshot struct {
	LatencyP95Ms            float64          `json:"latency_p95_ms"`
	LatencyP99Ms            float64          `json:"latency_p99_ms"`
	OperationProcessP95Ms   float64          `json:"operation_processing_p95_ms"`
	OperationProcessP99Ms   float64          `json:"operation_processing_p99_ms"`
	OperationsPerSecond     float64          `json:"operations_per_second"`
	MessagesPerSecond       float64          `json:"messages_per_second"`
	ErrorRatePerMinute      float64          `json:"error_rate_per_minute"`
	TotalConnections        int64            `json:"total_connections"`
	ActiveConnections       int64            `json:"active_connections"`
	ConnectionErrors        int64            `json:"connection_errors"`
	ReconnectionAttempts    int64            `json:"reconnection_attempts"`
	ErrorsByKind            map[string]int64 `json:"errors_by_kind"`
}

// Snapshot returns the current aggregated metrics.
func (a *Aggregator) Snapshot() Snapshot {
	latency := a.latencyMs.snapshot()
	opProcessing := a.operationProcessMs.snapshot()

	a.errMu.Lock()
	errCopy := make(map[string]int64, len(a.errCounts))
	for k, v := range a.errCounts {
		errCopy[k] = v
	}
	a.errMu.Unlock()

	return Snapshot{
		LatencyP95Ms:          percentile(latency, 95, 20),
		LatencyP99Ms:          percentile(latency, 99, 100),
		OperationProcessP95Ms: percentile(opProcessing, 95, 20),
		OperationProcessP99Ms: percentile(opProcessing, 99, 100),
		OperationsPerSecond:   a.operationsCounter.rate(),
		MessagesPerSecond:     a.messagesCounter.rate(),
		ErrorRatePerMinute:    a.errorCounter.rate() * 60.0,
		TotalConnections:      a.totalConnections.Load(),
		ActiveConnections:     a.activeConnections.Load(),
		ConnectionErrors:      a.connectionErrors.Load(),
		ReconnectionAttempts:  a.reconnectionAttempts.Load(),
		ErrorsByKind:          errCopy,
	}
}

// HealthStatus derives healthy/degraded/unhealthy per spec §6 from active
// connections and the recent error rate.
func (a *Aggregator) HealthStatus() string {
	snap := a.Snapshot()
	switch {
	case snap.ErrorRatePerMinute > 50:
		return "unhealthy"
	case snap.ErrorRatePerMinute > 10 || snap.ActiveConnections == 0 && snap.TotalConnections > 0:
		return "degraded"
	default:
		return "healthy"
	}
}
