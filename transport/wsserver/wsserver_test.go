package wsserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botflow/transport"
)

type recordingHandler struct {
	listening chan string
	opened    chan transport.Session
	frames    chan transport.Frame
	closed    chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		listening: make(chan string, 1),
		opened:    make(chan transport.Session, 4),
		frames:    make(chan transport.Frame, 16),
		closed:    make(chan string, 4),
	}
}

func (h *recordingHandler) OnListening(addr string)           { h.listening <- addr }
func (h *recordingHandler) OnSessionOpen(s transport.Session) { h.opened <- s }
func (h *recordingHandler) OnFrame(f transport.Frame)         { h.frames <- f }
func (h *recordingHandler) OnSessionClose(s transport.Session, err error) {
	h.closed <- s.ID()
}

func startListener(t *testing.T, token string) (*recordingHandler, string, context.CancelFunc, <-chan error) {
	t.Helper()
	ep, err := Build(transport.StaticConfig{Type: TransportName, URL: "ws://127.0.0.1:0/onebot", AccessToken: token}, nil)
	require.NoError(t, err)
	require.True(t, ep.IsServer())

	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ep.Listener.Serve(ctx, h) }()

	select {
	case addr := <-h.listening:
		return h, addr, cancel, done
	case err := <-done:
		cancel()
		t.Fatalf("listener exited: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("listener never bound")
	}
	return nil, "", cancel, done
}

func TestBuildRequiresPort(t *testing.T) {
	_, err := Build(transport.StaticConfig{Type: TransportName, URL: "ws://localhost/onebot"}, nil)
	assert.Error(t, err)
}

func TestSessionsAreIndependent(t *testing.T) {
	h, addr, cancel, done := startListener(t, "secret")
	defer cancel()

	header := http.Header{"Authorization": {"Bearer secret"}}
	first, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/onebot", header)
	require.NoError(t, err)
	second, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/onebot?access_token=secret", nil)
	require.NoError(t, err)
	defer second.Close()

	s1 := <-h.opened
	s2 := <-h.opened
	assert.NotEqual(t, s1.ID(), s2.ID())

	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`)))
	f := <-h.frames
	assert.JSONEq(t, `{"n":1}`, string(f.Payload))
	assert.NotEmpty(t, f.SessionID)

	_ = first.Close()
	select {
	case id := <-h.closed:
		assert.Equal(t, f.SessionID, id)
	case <-time.After(5 * time.Second):
		t.Fatalf("closed session was not reported")
	}

	target := s1
	if s1.ID() == f.SessionID {
		target = s2
	}
	require.NoError(t, target.Send(context.Background(), []byte(`{"action":"send_msg"}`)))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"send_msg"}`, string(data))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("listener did not stop")
	}
}

func TestUnauthorizedUpgradeRejected(t *testing.T) {
	_, addr, cancel, _ := startListener(t, "secret")
	defer cancel()

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/onebot", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
