package discord

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/whisperengine-ai/whisperengine/internal/respond"
)

// ResponseStats collects response-path latency samples and counters for the
// /status command. It maintains a bounded ring buffer of recent observations
// per stage from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type ResponseStats struct {
	mu sync.Mutex

	assembly   latencyBuffer
	generation latencyBuffer
	total      latencyBuffer

	responses int64
	errors    int64
}

var _ respond.Stats = (*ResponseStats)(nil)

// NewResponseStats creates a ResponseStats with the given window size
// (maximum number of latency samples retained per stage).
func NewResponseStats(windowSize int) *ResponseStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &ResponseStats{
		assembly:   newLatencyBuffer(windowSize),
		generation: newLatencyBuffer(windowSize),
		total:      newLatencyBuffer(windowSize),
	}
}

// RecordAssembly records a hot-context assembly latency sample.
func (rs *ResponseStats) RecordAssembly(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.assembly.add(d)
}

// RecordGeneration records an LLM stream latency sample (first token to
// stream drained).
func (rs *ResponseStats) RecordGeneration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.generation.add(d)
}

// RecordResponse records an end-to-end response latency sample and counts
// the response.
func (rs *ResponseStats) RecordResponse(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.total.add(d)
	rs.responses++
}

// IncrErrors increments the error counter.
func (rs *ResponseStats) IncrErrors() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.errors++
}

// LatencyPercentiles holds p50 and p95 values for a latency stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// StatsSnapshot captures a point-in-time view of all response statistics.
type StatsSnapshot struct {
	Assembly   LatencyPercentiles
	Generation LatencyPercentiles
	Total      LatencyPercentiles
	Responses  int64
	Errors     int64
}

// Snapshot returns a point-in-time view of all response statistics.
func (rs *ResponseStats) Snapshot() StatsSnapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return StatsSnapshot{
		Assembly:   rs.assembly.percentiles(),
		Generation: rs.generation.percentiles(),
		Total:      rs.total.percentiles(),
		Responses:  rs.responses,
		Errors:     rs.errors,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, lb.data[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
