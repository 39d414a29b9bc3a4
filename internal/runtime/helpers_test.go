package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	"github.com/drblury/botflow/transport"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type chatEvent struct {
	text string
}

func (e *chatEvent) Name() string      { return "message.private" }
func (e *chatEvent) Platform() string  { return "test" }
func (e *chatEvent) Type() event.Type  { return event.TypeMessage }
func (e *chatEvent) BotID() string     { return "10001" }
func (e *chatEvent) PlainText() string { return e.text }

type joinEvent struct{}

func (joinEvent) Name() string     { return "notice.group_increase" }
func (joinEvent) Platform() string { return "test" }
func (joinEvent) Type() event.Type { return event.TypeNotice }
func (joinEvent) BotID() string    { return "10001" }

// callLog records handler invocations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// recording returns a handler that logs its name and reports outcome.
func recording(log *callLog, name string, check handlers.CheckFunc, outcome handlers.Outcome) handlers.Handler {
	return handlers.New(name, check, func(context.Context, *handlers.Context) handlers.Outcome {
		log.add(name)
		return outcome
	})
}

func newTestDispatcher(t *testing.T, opts DispatcherOptions, hs ...handlers.Handler) (*Dispatcher, *HandlerRegistry) {
	t.Helper()
	reg := NewHandlerRegistry()
	for _, h := range hs {
		if err := reg.Register(h); err != nil {
			t.Fatalf("register %s: %v", h.Name(), err)
		}
	}
	if opts.BotID == "" {
		opts.BotID = "bot-a"
	}
	if opts.Metrics == nil {
		opts.Metrics = NewDispatchMetrics(prometheus.NewRegistry())
	}
	return NewDispatcher(reg, opts), reg
}

// fakeConn is a transport.Conn fed from a channel.
type fakeConn struct {
	frames chan []byte
	sent   chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		sent:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadLoop(ctx context.Context, recv func(transport.Frame), alive func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.closed:
			return nil
		case payload := <-c.frames:
			alive()
			recv(transport.NewFrame("", payload))
		}
	}
}

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.sent <- append([]byte(nil), payload...)
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func waitFor[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		var zero T
		t.Fatalf("timed out after %v", timeout)
		return zero
	}
}
