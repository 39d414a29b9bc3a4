package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botflow/transport"
)

func newEchoServer(t *testing.T, wantToken string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			typ, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRegister(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.WSClientCapabilities, Capabilities())
}

func TestBuildRejectsHTTPScheme(t *testing.T) {
	_, err := Build(transport.StaticConfig{Type: TransportName, URL: "http://localhost:1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws://")
}

func TestDialSendAndReceive(t *testing.T) {
	srv := newEchoServer(t, "secret")

	ep, err := Build(transport.StaticConfig{Type: TransportName, URL: wsURL(srv), AccessToken: "secret"}, nil)
	require.NoError(t, err)
	require.NotNil(t, ep.Dialer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ep.Dialer.Dial(ctx)
	require.NoError(t, err)

	frames := make(chan transport.Frame, 1)
	var alive atomic.Int32
	loopDone := make(chan error, 1)
	loopCtx, stopLoop := context.WithCancel(ctx)
	go func() {
		loopDone <- conn.ReadLoop(loopCtx, func(f transport.Frame) { frames <- f }, func() { alive.Add(1) })
	}()

	require.NoError(t, conn.Send(ctx, []byte(`{"post_type":"message"}`)))

	select {
	case f := <-frames:
		assert.JSONEq(t, `{"post_type":"message"}`, string(f.Payload))
		assert.Empty(t, f.SessionID)
	case <-ctx.Done():
		t.Fatalf("no frame echoed back")
	}

	require.NoError(t, conn.Ping(ctx))
	assert.Eventually(t, func() bool { return alive.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	stopLoop()
	select {
	case err := <-loopDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not stop on cancellation")
	}
	assert.NoError(t, conn.Close())
}

func TestDialRejectedWithoutToken(t *testing.T) {
	srv := newEchoServer(t, "secret")

	ep, err := Build(transport.StaticConfig{Type: TransportName, URL: wsURL(srv)}, nil)
	require.NoError(t, err)

	_, err = ep.Dialer.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestReadLoopReportsPeerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.Close()
	}))
	defer srv.Close()

	ep, err := Build(transport.StaticConfig{Type: TransportName, URL: wsURL(srv)}, nil)
	require.NoError(t, err)
	conn, err := ep.Dialer.Dial(context.Background())
	require.NoError(t, err)

	err = conn.ReadLoop(context.Background(), func(transport.Frame) {}, func() {})
	assert.Error(t, err)
}
