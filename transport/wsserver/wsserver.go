// Package wsserver provides the inbound WebSocket transport: the platform
// connects to the bot, and every accepted connection becomes a session.
package wsserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/ids"
	"github.com/drblury/botflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "ws-server"

const writeWait = 10 * time.Second

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WSServerCapabilities)
}

// Build validates the listen URL and returns a listening endpoint.
func Build(cfg transport.Config, logger watermill.LoggerAdapter) (transport.Endpoint, error) {
	addr, path, err := transport.ListenTarget(cfg.GetURL(), "ws", "wss")
	if err != nil {
		return transport.Endpoint{}, err
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return transport.Endpoint{
		Listener: &Listener{
			addr:     addr,
			path:     path,
			token:    cfg.GetAccessToken(),
			logger:   logger.With(watermill.LogFields{"transport": TransportName}),
			upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
			sessions: make(map[string]*Session),
		},
		Caps: transport.WSServerCapabilities,
	}, nil
}

// Listener accepts WebSocket upgrades on a single route.
type Listener struct {
	addr     string
	path     string
	token    string
	logger   watermill.LoggerAdapter
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

func (l *Listener) Serve(ctx context.Context, h transport.SessionHandler) error {
	r := chi.NewRouter()
	r.Get(l.path, l.handleUpgrade(h))

	err := transport.ServeHTTP(ctx, l.addr, r, h.OnListening)
	l.closeAll()
	return err
}

func (l *Listener) handleUpgrade(h transport.SessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !transport.Authorized(r, l.token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.logger.Error("WebSocket upgrade failed", err, watermill.LogFields{"remote_addr": r.RemoteAddr})
			return
		}
		ws.SetReadLimit(transport.WSServerCapabilities.MaxMessageSize)

		s := &Session{id: ids.NewSessionID(), remote: r.RemoteAddr, ws: ws}
		l.track(s)
		l.serveSession(r.Context(), s, h)
	}
}

// serveSession runs one session's read loop. A panic or read error ends only
// this session.
func (l *Listener) serveSession(ctx context.Context, s *Session, h transport.SessionHandler) {
	var closeErr error
	defer func() {
		if r := recover(); r != nil {
			closeErr = &errspkg.PanicError{Handler: "session " + s.id, Value: r}
			l.logger.Error("Session panicked", closeErr, watermill.LogFields{"session_id": s.id})
		}
		l.untrack(s.id)
		_ = s.Close()
		h.OnSessionClose(s, closeErr)
	}()

	h.OnSessionOpen(s)
	l.logger.Info("Session opened", watermill.LogFields{"session_id": s.id, "remote_addr": s.remote})

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				closeErr = err
			}
			return
		}
		h.OnFrame(transport.NewFrame(s.id, data))
	}
}

func (l *Listener) track(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[s.id] = s
}

func (l *Listener) untrack(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, id)
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	open := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		open = append(open, s)
	}
	l.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}
}

// Session is one accepted WebSocket peer.
type Session struct {
	id     string
	remote string
	ws     *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.remote }

func (s *Session) Send(ctx context.Context, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return errspkg.ErrTransportClosed
		}
		return fmt.Errorf("write to session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		err = s.ws.Close()
	})
	return err
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WSServerCapabilities
}
