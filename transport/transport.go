// Package transport defines the connection contracts the bot runtime drives.
// Each wire shape (ws-client, ws-server, http-client, http-server) lives in its
// own sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Frame is one raw inbound payload. SessionID is empty for client transports.
type Frame struct {
	SessionID  string
	Payload    []byte
	Metadata   map[string]string
	ReceivedAt time.Time
}

// NewFrame stamps payload with the receive time.
func NewFrame(sessionID string, payload []byte) Frame {
	return Frame{SessionID: sessionID, Payload: payload, ReceivedAt: time.Now()}
}

// Conn is an established client connection.
type Conn interface {
	// ReadLoop delivers inbound frames to recv until the connection fails or
	// ctx is done. alive is called on every sign of life from the peer,
	// including pongs that never surface as frames.
	ReadLoop(ctx context.Context, recv func(Frame), alive func()) error
	Send(ctx context.Context, payload []byte) error
	// Ping asks the peer for a sign of life. Transports without a ping
	// primitive return nil and rely on ReadLoop calling alive.
	Ping(ctx context.Context) error
	Close() error
}

// Requester is implemented by client connections whose wire carries the reply
// to an outbound payload in the same exchange, such as an HTTP POST.
type Requester interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
}

// Dialer opens client connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Session is one inbound peer of a server transport.
type Session interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// SessionHandler receives listener lifecycle callbacks. Calls for different
// sessions may arrive concurrently.
type SessionHandler interface {
	OnListening(addr string)
	OnSessionOpen(s Session)
	OnFrame(f Frame)
	OnSessionClose(s Session, err error)
}

// Listener accepts inbound sessions until ctx is done or binding fails.
type Listener interface {
	Serve(ctx context.Context, h SessionHandler) error
}

// Endpoint is what a Builder produces: exactly one of Dialer or Listener is set.
type Endpoint struct {
	Dialer   Dialer
	Listener Listener
	Caps     Capabilities
}

// IsServer reports whether the endpoint accepts inbound sessions.
func (e Endpoint) IsServer() bool { return e.Listener != nil }

// Builder is the function signature for creating an endpoint from config.
// Each transport package provides a Builder that it registers in init.
type Builder func(cfg Config, logger watermill.LoggerAdapter) (Endpoint, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetType returns the transport kind, e.g. "ws-client".
	GetType() string
	GetURL() string
	GetAccessToken() string
	PollInterval() time.Duration
	RequestTimeout() time.Duration
}

// StaticConfig is a plain Config, handy for tests and programmatic setups.
type StaticConfig struct {
	Type        string
	URL         string
	AccessToken string
	Poll        time.Duration
	Timeout     time.Duration
}

func (c StaticConfig) GetType() string        { return c.Type }
func (c StaticConfig) GetURL() string         { return c.URL }
func (c StaticConfig) GetAccessToken() string { return c.AccessToken }

func (c StaticConfig) PollInterval() time.Duration {
	if c.Poll <= 0 {
		return time.Second
	}
	return c.Poll
}

func (c StaticConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// CapabilitiesProvider is implemented by dialers and listeners that can
// report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
