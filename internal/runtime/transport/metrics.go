package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks connection statistics for every managed bot.
type Metrics struct {
	mu sync.RWMutex

	perBot map[string]*ConnectionStats

	state           *prometheus.GaugeVec
	connectsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	heartbeatMisses *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	sessionsCurrent *prometheus.GaugeVec
	retryDelayHist  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// ConnectionStats holds the counters for one bot's connection.
type ConnectionStats struct {
	State             string    `json:"state"`
	Connects          uint64    `json:"connects"`
	ConnectFailures   uint64    `json:"connect_failures"`
	Retries           uint64    `json:"retries"`
	HeartbeatTimeouts uint64    `json:"heartbeat_timeouts"`
	FramesReceived    uint64    `json:"frames_received"`
	Sessions          int       `json:"sessions"`
	LastConnectedAt   time.Time `json:"last_connected_at,omitempty"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

func newTransportCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botflow",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newTransportGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botflow",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates a connection metrics collector.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		perBot:          make(map[string]*ConnectionStats),
		registerer:      registerer,
		state:           newTransportGaugeVec("state", "Current connection state (1 for the active state, 0 otherwise)", []string{"bot_id", "state"}),
		connectsTotal:   newTransportCounterVec("connects_total", "Connection attempts by result", []string{"bot_id", "result"}),
		retriesTotal:    newTransportCounterVec("reconnect_attempts_total", "Reconnect attempts made after a failure", []string{"bot_id"}),
		heartbeatMisses: newTransportCounterVec("heartbeat_timeouts_total", "Connections dropped because the peer went silent", []string{"bot_id"}),
		framesTotal:     newTransportCounterVec("frames_received_total", "Raw frames received from the transport", []string{"bot_id"}),
		sessionsCurrent: newTransportGaugeVec("sessions_current", "Open sessions on listening transports", []string{"bot_id"}),
		retryDelayHist: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "botflow",
				Subsystem: "transport",
				Name:      "retry_delay_seconds",
				Help:      "Backoff delay slept before a reconnect attempt",
				Buckets:   []float64{0.1, 0.5, 1, 2, 4, 8, 16, 30, 60, 120},
			},
			[]string{"bot_id"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.state,
		m.connectsTotal,
		m.retriesTotal,
		m.heartbeatMisses,
		m.framesTotal,
		m.sessionsCurrent,
		m.retryDelayHist,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordState marks to as the active state for botID.
func (m *Metrics) RecordState(botID string, to State) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(botID)
	stats.State = to.String()
	stats.LastUpdatedAt = time.Now()
	if to == Connected {
		stats.LastConnectedAt = stats.LastUpdatedAt
	}
	for _, s := range States() {
		v := 0.0
		if s == to {
			v = 1
		}
		m.state.WithLabelValues(botID, s.String()).Set(v)
	}
}

// RecordConnect records the outcome of a dial.
func (m *Metrics) RecordConnect(botID string, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(botID)
	result := "success"
	if ok {
		stats.Connects++
	} else {
		stats.ConnectFailures++
		result = "failure"
	}
	m.connectsTotal.WithLabelValues(botID, result).Inc()
}

// RecordRetry records a backoff sleep followed by a reconnect attempt.
func (m *Metrics) RecordRetry(botID string, delay time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(botID).Retries++
	m.retriesTotal.WithLabelValues(botID).Inc()
	m.retryDelayHist.WithLabelValues(botID).Observe(delay.Seconds())
}

// RecordHeartbeatTimeout records a connection dropped for silence.
func (m *Metrics) RecordHeartbeatTimeout(botID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(botID).HeartbeatTimeouts++
	m.heartbeatMisses.WithLabelValues(botID).Inc()
}

// RecordFrame counts one inbound frame.
func (m *Metrics) RecordFrame(botID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(botID).FramesReceived++
	m.framesTotal.WithLabelValues(botID).Inc()
}

// SetSessions sets the open session count.
func (m *Metrics) SetSessions(botID string, n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(botID).Sessions = n
	m.sessionsCurrent.WithLabelValues(botID).Set(float64(n))
}

// Stats returns a copy of botID's counters, or nil if none were recorded.
func (m *Metrics) Stats(botID string) *ConnectionStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.perBot[botID]; ok {
		cp := *stats
		return &cp
	}
	return nil
}

// Snapshot returns copies of every bot's counters.
func (m *Metrics) Snapshot() map[string]ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ConnectionStats, len(m.perBot))
	for id, stats := range m.perBot {
		out[id] = *stats
	}
	return out
}

func (m *Metrics) getOrCreate(botID string) *ConnectionStats {
	if stats, ok := m.perBot[botID]; ok {
		return stats
	}
	stats := &ConnectionStats{State: Disconnected.String()}
	m.perBot[botID] = stats
	return stats
}

// Reset clears all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.perBot = make(map[string]*ConnectionStats)
	m.state.Reset()
	m.connectsTotal.Reset()
	m.retriesTotal.Reset()
	m.heartbeatMisses.Reset()
	m.framesTotal.Reset()
	m.sessionsCurrent.Reset()
	m.retryDelayHist.Reset()
}
