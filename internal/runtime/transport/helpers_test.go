package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/drblury/botflow/internal/runtime/backoff"
	"github.com/drblury/botflow/transport"
)

type fakeConn struct {
	frames chan []byte
	fail   chan error
	silent bool
	sent   chan []byte

	mu     sync.Mutex
	pings  int
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 8),
		fail:   make(chan error, 1),
		sent:   make(chan []byte, 8),
	}
}

func (c *fakeConn) ReadLoop(ctx context.Context, recv func(transport.Frame), alive func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.fail:
			return err
		case data := <-c.frames:
			if !c.silent {
				alive()
			}
			recv(transport.NewFrame("", data))
		}
	}
}

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.sent <- payload
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// requestConn answers every request with reply.
type requestConn struct {
	*fakeConn
	reply []byte
}

func (c *requestConn) Request(_ context.Context, payload []byte) ([]byte, error) {
	c.sent <- payload
	return c.reply, nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// scriptedDialer returns the scripted results in order and fails afterwards.
type scriptedDialer struct {
	mu      sync.Mutex
	results []any
	calls   int
}

func (d *scriptedDialer) Dial(context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	next := d.results[0]
	d.results = d.results[1:]
	switch v := next.(type) {
	case transport.Conn:
		return v, nil
	case error:
		return nil, v
	}
	return nil, errors.New("bad script")
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	// onSleep may cancel the run; it receives the 1-based call number.
	onSleep func(n int) error
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if s.onSleep != nil {
		if err := s.onSleep(n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *stateRecorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func testPolicy(maxRetries int) backoff.Policy {
	return backoff.Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

type fakeSession struct {
	id   string
	sent chan []byte
}

func (s *fakeSession) ID() string         { return s.id }
func (s *fakeSession) RemoteAddr() string { return "127.0.0.1:5000" }
func (s *fakeSession) Send(_ context.Context, p []byte) error {
	s.sent <- p
	return nil
}
func (s *fakeSession) Close() error { return nil }

type fakeListener struct {
	sessions []*fakeSession
	frames   []transport.Frame
	ready    chan struct{}
	err      error
}

func (l *fakeListener) Serve(ctx context.Context, h transport.SessionHandler) error {
	if l.err != nil {
		return l.err
	}
	h.OnListening("127.0.0.1:6700")
	for _, s := range l.sessions {
		h.OnSessionOpen(s)
	}
	for _, f := range l.frames {
		h.OnFrame(f)
	}
	close(l.ready)
	<-ctx.Done()
	for _, s := range l.sessions {
		h.OnSessionClose(s, nil)
	}
	return nil
}
