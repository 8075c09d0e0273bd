package runtime

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/eventmesh/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// RouteStats accumulates execution statistics for one route.
type RouteStats struct {
	mu sync.Mutex `json:"-"`

	EventsProcessed uint64            `json:"events_processed"`
	EventsFailed    uint64            `json:"events_failed"`
	EventsBuffered  uint64            `json:"events_buffered"`
	TotalExecTimeNs int64             `json:"total_exec_time_ns"`
	LastProcessedAt time.Time         `json:"last_processed_at"`
	InFlight        uint64            `json:"in_flight"`
	MaxInFlight     uint64            `json:"max_in_flight"`
	Latency         LatencyMetrics    `json:"latency"`
	Throughput      ThroughputMetrics `json:"throughput"`
	Errors          ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS     float64 `json:"current_rps"`
	WindowSeconds  float64 `json:"window_seconds"`
	EventsInWindow uint64  `json:"events_in_window"`
}

// ErrorBreakdown counts failures by response status class.
type ErrorBreakdown struct {
	Validation  uint64 `json:"validation"`
	Application uint64 `json:"application"`
	Internal    uint64 `json:"internal"`
	LastError   string `json:"last_error,omitempty"`
}

func newRouteStats() *RouteStats {
	return &RouteStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *RouteStats) onStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InFlight++
	if s.InFlight > s.MaxInFlight {
		s.MaxInFlight = s.InFlight
	}
}

func (s *RouteStats) onFinish(duration time.Duration, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InFlight > 0 {
		s.InFlight--
	}
	s.EventsProcessed++
	s.TotalExecTimeNs += int64(duration)
	s.LastProcessedAt = time.Now().UTC()

	s.latencyWindow.Add(duration)
	snapshot := s.latencyWindow.Snapshot()
	snapshot.AverageNs = s.TotalExecTimeNs / int64(s.EventsProcessed)
	s.Latency = snapshot

	tp := s.throughputWindow.AddAndSnapshot(time.Now())
	s.Throughput = ThroughputMetrics{
		CurrentRPS:     tp.CurrentRPS,
		WindowSeconds:  tp.WindowSeconds,
		EventsInWindow: uint64(tp.Count),
	}

	if err != nil {
		s.EventsFailed++
		s.Errors.record(status, err)
	}
}

func (s *RouteStats) onBuffered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventsBuffered++
}

// Buffered returns how many events were spilled to the overflow queue.
func (s *RouteStats) Buffered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsBuffered
}

// Snapshot returns a copy safe to read without locking.
func (s *RouteStats) Snapshot() RouteStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RouteStats{
		EventsProcessed: s.EventsProcessed,
		EventsFailed:    s.EventsFailed,
		EventsBuffered:  s.EventsBuffered,
		TotalExecTimeNs: s.TotalExecTimeNs,
		LastProcessedAt: s.LastProcessedAt,
		InFlight:        s.InFlight,
		MaxInFlight:     s.MaxInFlight,
		Latency:         s.Latency,
		Throughput:      s.Throughput,
		Errors:          s.Errors,
	}
}

func (s *RouteStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type alias RouteStats
	return jsoncodec.Marshal((*alias)(s))
}

func (e *ErrorBreakdown) record(status int, err error) {
	switch {
	case status == 400:
		e.Validation++
	case status >= 500:
		e.Internal++
	default:
		e.Application++
	}
	e.LastError = err.Error()
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	metrics.LastNs = lw.last
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
