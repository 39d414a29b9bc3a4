package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics tracks per-bot dispatch and per-handler invocation
// statistics. All methods are safe on a nil receiver.
type DispatchMetrics struct {
	mu sync.RWMutex

	bots map[string]*BotDispatchStats

	eventsTotal        *prometheus.CounterVec
	unhandledTotal     *prometheus.CounterVec
	abortedTotal       *prometheus.CounterVec
	framesTotal        *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	handlerErrors      *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
	dispatchDuration   *prometheus.HistogramVec
	inboxDepth         *prometheus.GaugeVec
	framesDroppedTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// BotDispatchStats holds one bot's dispatch counters.
type BotDispatchStats struct {
	Frames         uint64    `json:"frames"`
	Ignored        uint64    `json:"ignored"`
	Responses      uint64    `json:"responses"`
	DecodeFailures uint64    `json:"decode_failures"`
	Dropped        uint64    `json:"dropped"`
	Dispatched     uint64    `json:"dispatched"`
	Handled        uint64    `json:"handled"`
	Unhandled      uint64    `json:"unhandled"`
	Aborted        uint64    `json:"aborted"`
	HandlerErrors  uint64    `json:"handler_errors"`
	LastEventAt    time.Time `json:"last_event_at,omitempty"`
}

// DispatchMetricsSnapshot is a point-in-time view of every bot's counters.
type DispatchMetricsSnapshot struct {
	TotalDispatched uint64                       `json:"total_dispatched"`
	TotalHandled    uint64                       `json:"total_handled"`
	TotalUnhandled  uint64                       `json:"total_unhandled"`
	Bots            map[string]*BotDispatchStats `json:"bots"`
	CollectedAt     time.Time                    `json:"collected_at"`
}

// Frame results recorded by RecordFrame.
const (
	FrameDecoded       = "decoded"
	FrameIgnored       = "ignored"
	FrameDecodeFailure = "decode_failure"
	FramePipelineError = "pipeline_error"
	// FrameResponse is an action response routed to a waiting call.
	FrameResponse      = "response"
)

func newDispatchCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botflow",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newDispatchHistogramVec(name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botflow",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		labels,
	)
}

func newDispatchGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botflow",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewDispatchMetrics creates the collectors. A nil registerer selects the
// Prometheus default registerer.
func NewDispatchMetrics(registerer prometheus.Registerer) *DispatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &DispatchMetrics{
		bots:               make(map[string]*BotDispatchStats),
		registerer:         registerer,
		eventsTotal:        newDispatchCounterVec("events_total", "Events dispatched, by bot and event type", []string{"bot_id", "event_type"}),
		unhandledTotal:     newDispatchCounterVec("unhandled_total", "Dispatches that no handler claimed", []string{"bot_id"}),
		abortedTotal:       newDispatchCounterVec("aborted_total", "Dispatches stopped by cancellation", []string{"bot_id"}),
		framesTotal:        newDispatchCounterVec("frames_total", "Inbound frames by processing result", []string{"bot_id", "result"}),
		framesDroppedTotal: newDispatchCounterVec("frames_dropped_total", "Frames discarded because the bot was stopping", []string{"bot_id"}),
		invocationsTotal:   newDispatchCounterVec("handler_invocations_total", "Handler invocations by outcome", []string{"handler", "outcome"}),
		handlerErrors:      newDispatchCounterVec("handler_errors_total", "Handler failures by category", []string{"handler", "category"}),
		handlerDuration:    newDispatchHistogramVec("handler_duration_seconds", "Time spent in Handle", []string{"handler"}),
		dispatchDuration:   newDispatchHistogramVec("duration_seconds", "Time spent dispatching one event", []string{"bot_id"}),
		inboxDepth:         newDispatchGaugeVec("inbox_depth", "Frames waiting in the bot inbox", []string{"bot_id"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *DispatchMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.unhandledTotal,
		m.abortedTotal,
		m.framesTotal,
		m.invocationsTotal,
		m.handlerErrors,
		m.handlerDuration,
		m.dispatchDuration,
		m.inboxDepth,
		m.framesDroppedTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordFrame counts one inbound frame by processing result.
func (m *DispatchMetrics) RecordFrame(botID, result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.botStatsLocked(botID)
	stats.Frames++
	switch result {
	case FrameIgnored:
		stats.Ignored++
	case FrameResponse:
		stats.Responses++
	case FrameDecodeFailure:
		stats.DecodeFailures++
	}
	m.framesTotal.WithLabelValues(botID, result).Inc()
}

// RecordDropped counts a frame that never reached the inbox.
func (m *DispatchMetrics) RecordDropped(botID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.botStatsLocked(botID).Dropped++
	m.framesDroppedTotal.WithLabelValues(botID).Inc()
}

// SetInboxDepth publishes the current inbox length.
func (m *DispatchMetrics) SetInboxDepth(botID string, depth int) {
	if m == nil {
		return
	}
	m.inboxDepth.WithLabelValues(botID).Set(float64(depth))
}

// RecordDispatch records a finished dispatch.
func (m *DispatchMetrics) RecordDispatch(botID string, eventType string, report Report) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.botStatsLocked(botID)
	stats.Dispatched++
	stats.LastEventAt = time.Now()
	switch {
	case report.Aborted:
		stats.Aborted++
		m.abortedTotal.WithLabelValues(botID).Inc()
	case report.Handled:
		stats.Handled++
	default:
		stats.Unhandled++
		m.unhandledTotal.WithLabelValues(botID).Inc()
	}
	stats.HandlerErrors += uint64(len(report.Errors))

	m.eventsTotal.WithLabelValues(botID, eventType).Inc()
	m.dispatchDuration.WithLabelValues(botID).Observe(report.Duration.Seconds())
}

// RecordInvocation records one Handle call.
func (m *DispatchMetrics) RecordInvocation(handler, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(handler, outcome).Inc()
	m.handlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordHandlerError records a handler failure under its category.
func (m *DispatchMetrics) RecordHandlerError(handler string, category ErrorCategory) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(handler, string(category)).Inc()
}

// BotStats returns a copy of one bot's counters, or nil when the bot has not
// recorded anything yet.
func (m *DispatchMetrics) BotStats(botID string) *BotDispatchStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.bots[botID]; ok {
		cp := *stats
		return &cp
	}
	return nil
}

// Snapshot returns every bot's counters.
func (m *DispatchMetrics) Snapshot() DispatchMetricsSnapshot {
	snapshot := DispatchMetricsSnapshot{
		Bots:        make(map[string]*BotDispatchStats),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, stats := range m.bots {
		cp := *stats
		snapshot.Bots[id] = &cp
		snapshot.TotalDispatched += stats.Dispatched
		snapshot.TotalHandled += stats.Handled
		snapshot.TotalUnhandled += stats.Unhandled
	}
	return snapshot
}

func (m *DispatchMetrics) botStatsLocked(botID string) *BotDispatchStats {
	if stats, ok := m.bots[botID]; ok {
		return stats
	}
	stats := &BotDispatchStats{}
	m.bots[botID] = stats
	return stats
}

// Reset clears all counters.
func (m *DispatchMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bots = make(map[string]*BotDispatchStats)
	m.eventsTotal.Reset()
	m.unhandledTotal.Reset()
	m.abortedTotal.Reset()
	m.framesTotal.Reset()
	m.invocationsTotal.Reset()
	m.handlerErrors.Reset()
	m.handlerDuration.Reset()
	m.dispatchDuration.Reset()
	m.inboxDepth.Reset()
	m.framesDroppedTotal.Reset()
}
