package transport

import (
	"sync"
	"time"
)

// DefaultHeartbeatGrace is the number of missed intervals tolerated before a
// connection is declared dead.
const DefaultHeartbeatGrace = 3

// HeartbeatTracker records the last sign of life on a connection. It is reset
// on every successful connect and fed by inbound frames and pongs.
type HeartbeatTracker struct {
	mu       sync.Mutex
	interval time.Duration
	grace    int
	lastAck  time.Time
}

// NewHeartbeatTracker returns a tracker; an interval of zero disables expiry.
func NewHeartbeatTracker(interval time.Duration, grace int) *HeartbeatTracker {
	if grace <= 0 {
		grace = DefaultHeartbeatGrace
	}
	return &HeartbeatTracker{interval: interval, grace: grace}
}

// Enabled reports whether liveness is supervised at all.
func (h *HeartbeatTracker) Enabled() bool { return h.interval > 0 }

// Interval is the ping period.
func (h *HeartbeatTracker) Interval() time.Duration { return h.interval }

// Window is how long the peer may stay silent.
func (h *HeartbeatTracker) Window() time.Duration {
	return h.interval * time.Duration(h.grace)
}

// Reset starts a fresh window at now.
func (h *HeartbeatTracker) Reset(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastAck = now
}

// Ack records a sign of life at now.
func (h *HeartbeatTracker) Ack(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now.After(h.lastAck) {
		h.lastAck = now
	}
}

// LastAck returns the time of the last recorded sign of life.
func (h *HeartbeatTracker) LastAck() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastAck
}

// Expired reports whether the peer has been silent for longer than Window.
func (h *HeartbeatTracker) Expired(now time.Time) bool {
	if !h.Enabled() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Sub(h.lastAck) > h.Window()
}
