package runtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/handlers"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// HandlerStats aggregates one handler's invocations across every bot.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	Invocations         uint64    `json:"invocations"`
	Handled             uint64    `json:"handled"`
	Continued           uint64    `json:"continued"`
	Errored             uint64    `json:"errored"`
	InFlight            uint64    `json:"in_flight"`
	MaxInFlight         uint64    `json:"max_in_flight"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastInvokedAt       time.Time `json:"last_invoked_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
}

// HandlerInfo describes a registered handler for the status API.
type HandlerInfo struct {
	Name     string        `json:"name"`
	Position int           `json:"position"`
	Stats    *HandlerStats `json:"stats"`
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
	CurrentRPS          float64 `json:"current_rps"`
	WindowSeconds       float64 `json:"window_seconds"`
	InvocationsInWindow uint64  `json:"invocations_in_window"`
	TotalInvocations    uint64  `json:"total_invocations"`
}

type ErrorBreakdown struct {
	Extraction uint64 `json:"extraction"`
	Timeout    uint64 `json:"timeout"`
	Panic      uint64 `json:"panic"`
	Transport  uint64 `json:"transport"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryExtraction ErrorCategory = "extraction"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets handler failures for stats and metrics labels.
type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(sampler *resourceTracker) *HandlerStats {
	return &HandlerStats{
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (h *HandlerStats) onInvokeStart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.InFlight++
	if h.InFlight > h.MaxInFlight {
		h.MaxInFlight = h.InFlight
	}
}

func (h *HandlerStats) onInvokeFinish(duration time.Duration, outcome handlers.Outcome, classifier ErrorClassifier) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.InFlight > 0 {
		h.InFlight--
	}

	h.Invocations++
	switch outcome.Kind() {
	case handlers.OutcomeHandled:
		h.Handled++
	case handlers.OutcomeErrored:
		h.Errored++
	default:
		h.Continued++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastInvokedAt = now.UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		snapshot.AverageNs = h.TotalProcessingTime / int64(h.Invocations)
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(now)
		h.Throughput.CurrentRPS = snapshot.CurrentRPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.InvocationsInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalInvocations = h.Invocations

	if outcome.IsErrored() {
		if classifier == nil {
			classifier = defaultErrorClassifier
		}
		h.Errors.Record(classifier(outcome.Err()), outcome.Err())
	}

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}
}

// recordCheckFailure counts a predicate that panicked. The handler body never
// ran, so latency and throughput stay untouched.
func (h *HandlerStats) recordCheckFailure(err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Errored++
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)
}

// Snapshot returns a copy that is safe to read without locking.
func (h *HandlerStats) Snapshot() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HandlerStats{
		Invocations:         h.Invocations,
		Handled:             h.Handled,
		Continued:           h.Continued,
		Errored:             h.Errored,
		InFlight:            h.InFlight,
		MaxInFlight:         h.MaxInFlight,
		TotalProcessingTime: h.TotalProcessingTime,
		LastInvokedAt:       h.LastInvokedAt,
		Latency:             h.Latency,
		Throughput:          h.Throughput,
		Errors:              h.Errors,
		Resource:            h.Resource,
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryExtraction:
		e.Extraction++
	case ErrorCategoryTimeout:
		e.Timeout++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryTransport:
		e.Transport++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// latencyWindow is a fixed-size ring of recent handler durations.
type latencyWindow struct {
	ring   []int64
	pos    int
	filled int
	last   int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.ring) == 0 {
		return
	}
	lw.last = int64(d)
	lw.ring[lw.pos] = lw.last
	lw.pos = (lw.pos + 1) % len(lw.ring)
	lw.filled = min(lw.filled+1, len(lw.ring))
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	if lw == nil {
		return LatencyMetrics{}
	}
	out := LatencyMetrics{LastNs: lw.last, SampleSize: lw.filled}
	if lw.filled == 0 {
		return out
	}

	// Until the ring wraps only the prefix holds samples; order is irrelevant
	// once sorted.
	sorted := slices.Clone(lw.ring[:lw.filled])
	slices.Sort(sorted)

	var total int64
	for _, v := range sorted {
		total += v
	}
	out.AverageNs = total / int64(len(sorted))
	out.P50Ns = percentile(sorted, 0.50)
	out.P95Ns = percentile(sorted, 0.95)
	out.P99Ns = percentile(sorted, 0.99)
	return out
}

// percentile reads quantile q from sorted, interpolating between neighbours.
func percentile(sorted []int64, q float64) int64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	rank := q * float64(n-1)
	lo := int(rank)
	if lo+1 >= n {
		return sorted[lo]
	}
	return sorted[lo] + int64(float64(sorted[lo+1]-sorted[lo])*(rank-float64(lo)))
}

// throughputWindow keeps invocation timestamps younger than horizon.
type throughputWindow struct {
	horizon time.Duration
	stamps  []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	cutoff := now.Add(-tw.horizon)
	if i := slices.IndexFunc(tw.stamps, func(ts time.Time) bool { return !ts.Before(cutoff) }); i > 0 {
		tw.stamps = tw.stamps[i:]
	} else if i < 0 {
		tw.stamps = tw.stamps[:0]
	}
	tw.stamps = append(tw.stamps, now)

	span := max(now.Sub(tw.stamps[0]), time.Nanosecond).Seconds()
	return throughputSnapshot{
		Count:         len(tw.stamps),
		WindowSeconds: span,
		CurrentRPS:    float64(len(tw.stamps)) / span,
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case errors.Is(err, errspkg.ErrExtraction):
		return ErrorCategoryExtraction
	case errors.Is(err, errspkg.ErrDispatchTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, errspkg.ErrHandlerPanicked):
		return ErrorCategoryPanic
	case errors.Is(err, &errspkg.TransportError{}),
		errors.Is(err, errspkg.ErrNotConnected),
		errors.Is(err, errspkg.ErrSessionNotFound),
		errors.Is(err, errspkg.ErrTransportClosed),
		errors.Is(err, errspkg.ErrSendUnsupported),
		errors.Is(err, errspkg.ErrCallUnsupported):
		return ErrorCategoryTransport
	default:
		return ErrorCategoryOther
	}
}
