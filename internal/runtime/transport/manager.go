package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drblury/botflow/internal/runtime/backoff"
	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/logging"
	"github.com/drblury/botflow/transport"
)

var errPeerClosed = errors.New("connection closed by peer")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Manager.
type Options struct {
	BotID    string
	Endpoint transport.Endpoint
	Policy   backoff.Policy
	// AutoReconnect redials after failures. When false any failure closes
	// the manager.
	AutoReconnect     bool
	HeartbeatInterval time.Duration
	HeartbeatGrace    int

	// OnFrame receives every inbound frame on the read loop goroutine. It may
	// block to apply backpressure.
	OnFrame func(transport.Frame)
	// OnStateChange is called synchronously after each transition.
	OnStateChange func(from, to State)

	Logger  logging.ServiceLogger
	Metrics *Metrics
	Sleep   SleepFunc
	Now     func() time.Time
}

// SessionInfo describes one open session of a listening transport.
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Status is a point-in-time view of a manager.
type Status struct {
	BotID     string    `json:"bot_id"`
	Transport string    `json:"transport"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Sessions  int       `json:"sessions"`
	LastError string    `json:"last_error,omitempty"`
	LastAck   time.Time `json:"last_ack,omitempty"`
	Since     time.Time `json:"since"`
}

type openSession struct {
	session  transport.Session
	openedAt time.Time
}

// Manager owns one bot's connection. Run drives it; Send and the accessors
// are safe for concurrent use.
type Manager struct {
	opts      Options
	log       logging.ServiceLogger
	heartbeat *HeartbeatTracker
	started   atomic.Bool

	mu       sync.RWMutex
	state    State
	since    time.Time
	attempts int
	lastErr  error
	conn     transport.Conn
	sessions map[string]openSession
}

// NewManager validates opts and returns a manager in the Disconnected state.
func NewManager(opts Options) (*Manager, error) {
	if opts.BotID == "" {
		return nil, errspkg.NewConfigError("bot.id", "is required")
	}
	if opts.Endpoint.Dialer == nil && opts.Endpoint.Listener == nil {
		return nil, fmt.Errorf("bot %s: endpoint has neither dialer nor listener", opts.BotID)
	}
	if opts.OnFrame == nil {
		return nil, fmt.Errorf("bot %s: frame callback is required", opts.BotID)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		opts: opts,
		log: opts.Logger.With(logging.LogFields{
			"bot_id":    opts.BotID,
			"transport": opts.Endpoint.Caps.Name,
		}),
		heartbeat: NewHeartbeatTracker(opts.HeartbeatInterval, opts.HeartbeatGrace),
		state:     Disconnected,
		since:     opts.Now(),
		sessions:  make(map[string]openSession),
	}, nil
}

// Run supervises the connection until ctx is done or the manager closes. It
// returns nil on cancellation and *errors.RetriesExhaustedError when a
// bounded retry budget runs out. Other transport failures are absorbed by the
// state machine.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bot %s: %w", m.opts.BotID, errspkg.ErrRuntimeStarted)
	}
	m.opts.Metrics.RecordState(m.opts.BotID, Disconnected)
	if m.opts.Endpoint.IsServer() {
		return m.runListener(ctx)
	}
	return m.runDialer(ctx)
}

func (m *Manager) runDialer(ctx context.Context) error {
	retries := 0
	outage := false
	var last error

	for {
		if ctx.Err() != nil {
			m.transition(Closed)
			return nil
		}

		if outage {
			if !m.opts.AutoReconnect {
				m.log.Info("Auto reconnect disabled, closing", nil)
				m.transition(Closed)
				return nil
			}
			if m.opts.Policy.Exhausted(retries) {
				m.transition(Closed)
				err := &errspkg.RetriesExhaustedError{BotID: m.opts.BotID, Attempts: retries, Last: last}
				m.log.Error("Reconnect retries exhausted, bot degraded", err, nil)
				return err
			}
			delay := backoff.NextDelay(retries, m.opts.Policy)
			m.log.Debug("Waiting before reconnect", logging.LogFields{"attempt": retries + 1, "delay": delay.String()})
			if err := m.opts.Sleep(ctx, delay); err != nil {
				m.transition(Closed)
				return nil
			}
			retries++
			m.setAttempts(retries)
			m.opts.Metrics.RecordRetry(m.opts.BotID, delay)
		}

		m.transition(Connecting)
		conn, err := m.opts.Endpoint.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.transition(Closed)
				return nil
			}
			last = errspkg.NewTransportError(errspkg.ConnectFailed, m.opts.BotID, err)
			m.recordError(last)
			m.opts.Metrics.RecordConnect(m.opts.BotID, false)
			m.log.Error("Connect failed", last, logging.LogFields{"attempt": retries})
			m.transition(Disconnected)
			outage = true
			continue
		}

		m.opts.Metrics.RecordConnect(m.opts.BotID, true)
		retries = 0
		m.setAttempts(0)
		m.setConn(conn)
		m.transition(Connected)
		m.log.Info("Connected", nil)

		lost := m.serveConn(ctx, conn)
		m.setConn(nil)
		if lost == nil {
			m.transition(Closed)
			return nil
		}

		last = lost
		m.recordError(lost)
		m.log.Error("Connection lost", lost, nil)
		m.transition(Reconnecting)
		m.transition(Disconnected)
		outage = true
	}
}

// serveConn runs the read loop and heartbeat for one connection. It returns
// nil when ctx is done and the loss cause otherwise.
func (m *Manager) serveConn(ctx context.Context, conn transport.Conn) error {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer func() { _ = conn.Close() }()

	m.heartbeat.Reset(m.opts.Now())

	var wg sync.WaitGroup
	if m.heartbeat.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.superviseHeartbeat(connCtx, cancel, conn)
		}()
	}

	readErr := conn.ReadLoop(connCtx, m.receive, m.ack)
	cancel(nil)
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if cause := context.Cause(connCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if readErr == nil {
		readErr = errPeerClosed
	}
	return errspkg.NewTransportError(errspkg.Disconnected, m.opts.BotID, readErr)
}

func (m *Manager) superviseHeartbeat(ctx context.Context, drop context.CancelCauseFunc, conn transport.Conn) {
	ticker := time.NewTicker(m.heartbeat.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.heartbeat.Expired(m.opts.Now()) {
			m.opts.Metrics.RecordHeartbeatTimeout(m.opts.BotID)
			drop(errspkg.NewTransportError(errspkg.HeartbeatTimeout, m.opts.BotID,
				fmt.Errorf("no ack within %v", m.heartbeat.Window())))
			return
		}
		if err := conn.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			drop(errspkg.NewTransportError(errspkg.Disconnected, m.opts.BotID, fmt.Errorf("ping: %w", err)))
			return
		}
		m.log.Trace("Heartbeat ping sent", nil)
	}
}

func (m *Manager) runListener(ctx context.Context) error {
	m.transition(Connecting)
	err := m.opts.Endpoint.Listener.Serve(ctx, listenerCallbacks{m})
	if err != nil && ctx.Err() == nil {
		terr := errspkg.NewTransportError(errspkg.ConnectFailed, m.opts.BotID, err)
		m.recordError(terr)
		m.log.Error("Listener failed", terr, nil)
	}
	m.transition(Closed)
	return nil
}

type listenerCallbacks struct{ m *Manager }

func (l listenerCallbacks) OnListening(addr string) {
	l.m.opts.Metrics.RecordConnect(l.m.opts.BotID, true)
	l.m.transition(Connected)
	l.m.log.Info("Listening", logging.LogFields{"addr": addr})
}

func (l listenerCallbacks) OnSessionOpen(s transport.Session) {
	m := l.m
	m.mu.Lock()
	m.sessions[s.ID()] = openSession{session: s, openedAt: m.opts.Now()}
	n := len(m.sessions)
	m.mu.Unlock()

	m.opts.Metrics.SetSessions(m.opts.BotID, n)
	m.log.Debug("Session opened", logging.LogFields{"session_id": s.ID(), "remote_addr": s.RemoteAddr()})
}

func (l listenerCallbacks) OnFrame(f transport.Frame) {
	l.m.receive(f)
}

func (l listenerCallbacks) OnSessionClose(s transport.Session, err error) {
	m := l.m
	m.mu.Lock()
	delete(m.sessions, s.ID())
	n := len(m.sessions)
	m.mu.Unlock()

	m.opts.Metrics.SetSessions(m.opts.BotID, n)
	fields := logging.LogFields{"session_id": s.ID()}
	if err != nil {
		m.log.Error("Session closed with error", errspkg.NewTransportError(errspkg.Disconnected, m.opts.BotID, err), fields)
		return
	}
	m.log.Debug("Session closed", fields)
}

func (m *Manager) receive(f transport.Frame) {
	m.ack()
	m.opts.Metrics.RecordFrame(m.opts.BotID)
	m.opts.OnFrame(f)
}

func (m *Manager) ack() {
	m.heartbeat.Ack(m.opts.Now())
}

// Send writes payload to the connection. Listening transports route by
// sessionID; an empty id is accepted when exactly one session is open.
func (m *Manager) Send(ctx context.Context, sessionID string, payload []byte) error {
	if m.opts.Endpoint.IsServer() {
		s, err := m.lookupSession(sessionID)
		if err != nil {
			return err
		}
		return s.Send(ctx, payload)
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("bot %s: %w", m.opts.BotID, errspkg.ErrNotConnected)
	}
	return conn.Send(ctx, payload)
}

// Request writes payload and returns the reply carried by the same exchange.
// It fails with ErrNoRequestReply when the transport delivers replies as
// separate inbound frames.
func (m *Manager) Request(ctx context.Context, payload []byte) ([]byte, error) {
	if m.opts.Endpoint.IsServer() {
		return nil, fmt.Errorf("bot %s: %w", m.opts.BotID, errspkg.ErrNoRequestReply)
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("bot %s: %w", m.opts.BotID, errspkg.ErrNotConnected)
	}
	r, ok := conn.(transport.Requester)
	if !ok {
		return nil, fmt.Errorf("bot %s: %w", m.opts.BotID, errspkg.ErrNoRequestReply)
	}
	return r.Request(ctx, payload)
}

func (m *Manager) lookupSession(id string) (transport.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id == "" && len(m.sessions) == 1 {
		for _, s := range m.sessions {
			return s.session, nil
		}
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("bot %s session %q: %w", m.opts.BotID, id, errspkg.ErrSessionNotFound)
	}
	return s.session, nil
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		m.log.Error("Rejected state transition", fmt.Errorf("%s -> %s", from, to), nil)
		return
	}
	m.state = to
	m.since = m.opts.Now()
	m.mu.Unlock()

	m.opts.Metrics.RecordState(m.opts.BotID, to)
	m.log.Debug("State changed", logging.LogFields{"from": from.String(), "to": to.String()})
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, to)
	}
}

func (m *Manager) setConn(conn transport.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
}

func (m *Manager) setAttempts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = n
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns the reconnect attempts made in the current outage.
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// LastError returns the most recent transport failure, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Sessions lists open sessions sorted by open time.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, SessionInfo{ID: id, RemoteAddr: s.session.RemoteAddr(), OpenedAt: s.openedAt})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Status returns a snapshot for the status API.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		BotID:     m.opts.BotID,
		Transport: m.opts.Endpoint.Caps.Name,
		State:     m.state,
		Attempts:  m.attempts,
		Sessions:  len(m.sessions),
		Since:     m.since,
		LastAck:   m.heartbeat.LastAck(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
