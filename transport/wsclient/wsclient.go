// Package wsclient provides the outbound WebSocket transport: the bot dials the
// platform's WebSocket endpoint and keeps the connection alive with ping frames.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "ws-client"

const writeWait = 10 * time.Second

// DialerFactory allows overriding the websocket dialer for testing.
var DialerFactory = func(handshakeTimeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WSClientCapabilities)
}

// Build validates the URL and returns a dialing endpoint.
func Build(cfg transport.Config, logger watermill.LoggerAdapter) (transport.Endpoint, error) {
	target, err := url.Parse(cfg.GetURL())
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("parse url: %w", err)
	}
	if s := strings.ToLower(target.Scheme); s != "ws" && s != "wss" {
		return transport.Endpoint{}, fmt.Errorf("ws-client needs a ws:// or wss:// url, got scheme %q", target.Scheme)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return transport.Endpoint{
		Dialer: &Dialer{
			url:     target.String(),
			token:   cfg.GetAccessToken(),
			timeout: cfg.RequestTimeout(),
			logger:  logger.With(watermill.LogFields{"transport": TransportName}),
		},
		Caps: transport.WSClientCapabilities,
	}, nil
}

// Dialer opens one WebSocket connection per Dial call.
type Dialer struct {
	url     string
	token   string
	timeout time.Duration
	logger  watermill.LoggerAdapter
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}

	ws, resp, err := DialerFactory(d.timeout).DialContext(ctx, d.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	d.logger.Debug("WebSocket connected", watermill.LogFields{"url": d.url})
	return &Conn{ws: ws, logger: d.logger}, nil
}

// Conn wraps a gorilla connection. Writes are serialized; control frames use
// WriteControl, which is safe to call concurrently.
type Conn struct {
	ws     *websocket.Conn
	logger watermill.LoggerAdapter

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an already established connection.
func NewConn(ws *websocket.Conn, logger watermill.LoggerAdapter) *Conn {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Conn{ws: ws, logger: logger}
}

func (c *Conn) ReadLoop(ctx context.Context, recv func(transport.Frame), alive func()) error {
	c.ws.SetPongHandler(func(string) error {
		alive()
		return nil
	})
	c.ws.SetPingHandler(func(data string) error {
		alive()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		alive()
		recv(transport.NewFrame("", data))
	}
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return errspkg.ErrTransportClosed
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// Close sends a close frame on a best-effort basis and tears the socket down.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WSClientCapabilities
}
