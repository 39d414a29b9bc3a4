// Package httpserver provides the inbound HTTP transport: the platform POSTs
// event frames to the bot. It is receive-only.
package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/ids"
	"github.com/drblury/botflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http-server"

// SelfIDHeader identifies the posting client; OneBot implementations set it
// to the bot account id.
const SelfIDHeader = "X-Self-ID"

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPServerCapabilities)
}

// Build validates the listen URL and returns a listening endpoint.
func Build(cfg transport.Config, logger watermill.LoggerAdapter) (transport.Endpoint, error) {
	addr, path, err := transport.ListenTarget(cfg.GetURL(), "http", "https")
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
			sessions: make(map[string]*Session),
		},
		Caps: transport.HTTPServerCapabilities,
	}, nil
}

// Listener receives POSTed frames on a single route. Each distinct client
// becomes one session for the lifetime of the listener.
type Listener struct {
	addr   string
	path   string
	token  string
	logger watermill.LoggerAdapter

	mu       sync.Mutex
	sessions map[string]*Session
}

func (l *Listener) Serve(ctx context.Context, h transport.SessionHandler) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(l.path, l.handleFrame(h))

	err := transport.ServeHTTP(ctx, l.addr, r, h.OnListening)

	l.mu.Lock()
	open := l.sessions
	l.sessions = make(map[string]*Session)
	l.mu.Unlock()
	for _, s := range open {
		h.OnSessionClose(s, nil)
	}
	return err
}

func (l *Listener) handleFrame(h transport.SessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !transport.Authorized(r, l.token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, transport.HTTPServerCapabilities.MaxMessageSize))
		if err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if len(body) == 0 {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}

		s := l.session(r, h)
		h.OnFrame(transport.NewFrame(s.id, body))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (l *Listener) session(r *http.Request, h transport.SessionHandler) *Session {
	key := r.Header.Get(SelfIDHeader)
	if key == "" {
		key = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
	}

	l.mu.Lock()
	s, ok := l.sessions[key]
	if !ok {
		s = &Session{id: ids.NewSessionID(), key: key, remote: r.RemoteAddr}
		l.sessions[key] = s
	}
	l.mu.Unlock()

	if !ok {
		l.logger.Info("Session opened", watermill.LogFields{"session_id": s.id, "client": key})
		h.OnSessionOpen(s)
	}
	return s
}

// Session is one posting client.
type Session struct {
	id     string
	key    string
	remote string
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.remote }

// Send always fails: the platform never reads from this transport.
func (s *Session) Send(context.Context, []byte) error { return errspkg.ErrSendUnsupported }

func (s *Session) Close() error { return nil }

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPServerCapabilities
}
