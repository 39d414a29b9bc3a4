package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/botflow/adapter"
	"github.com/drblury/botflow/internal/runtime/backoff"
	configpkg "github.com/drblury/botflow/internal/runtime/config"
	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/handlers"
	idspkg "github.com/drblury/botflow/internal/runtime/ids"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/botflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/botflow/internal/runtime/transport"
	"github.com/drblury/botflow/transport"
)

var errDecodeFailure = errors.New("frame could not be decoded")

// BotStatus is the status API view of one bot.
type BotStatus struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	Adapter        string                     `json:"adapter"`
	Connection     transportpkg.Status        `json:"connection"`
	SessionList    []transportpkg.SessionInfo `json:"session_list,omitempty"`
	Degraded       bool                       `json:"degraded"`
	DegradedReason string                     `json:"degraded_reason,omitempty"`
	InboxDepth     int                        `json:"inbox_depth"`
	InboxCapacity  int                        `json:"inbox_capacity"`
	Dispatch       *BotDispatchStats          `json:"dispatch,omitempty"`
}

type botParams struct {
	conf            configpkg.BotConfig
	adapter         adapter.Adapter
	endpoint        transport.Endpoint
	policy          backoff.Policy
	heartbeatGrace  int
	inboxSize       int
	shutdownTimeout time.Duration
	registry        *HandlerRegistry
	dispatch        DispatcherOptions
	middlewares     []MiddlewareRegistration
	transport       *transportpkg.Metrics
	metrics         *DispatchMetrics
	logger          loggingpkg.ServiceLogger
}

// Bot is one configured bot instance: a connection manager feeding an inbox
// that a single worker drains through the frame pipeline into the
// dispatcher.
type Bot struct {
	id              string
	name            string
	adapter         adapter.Adapter
	responder       adapter.Responder
	calls           *pendingCalls
	callTimeout     time.Duration
	transportKind   string
	dispatcher      *Dispatcher
	manager         *transportpkg.Manager
	pipeline        message.HandlerFunc
	services        *handlers.Services
	inbox           chan transport.Frame
	stopping        chan struct{}
	shutdownTimeout time.Duration
	metrics         *DispatchMetrics
	log             loggingpkg.ServiceLogger
	started         atomic.Bool

	mu             sync.RWMutex
	degraded       bool
	degradedReason string
	lastReport     *Report
}

func newBot(p botParams) (*Bot, error) {
	log := p.logger.With(loggingpkg.LogFields{
		"bot_id":    p.conf.ID,
		"adapter":   p.adapter.Name(),
		"transport": p.endpoint.Caps.Name,
	})
	if p.inboxSize <= 0 {
		p.inboxSize = configpkg.DefaultEventBufferSize
	}
	if p.shutdownTimeout <= 0 {
		p.shutdownTimeout = configpkg.DefaultShutdownTimeout
	}

	b := &Bot{
		id:              p.conf.ID,
		name:            p.conf.DisplayName(),
		adapter:         p.adapter,
		calls:           newPendingCalls(),
		callTimeout:     p.conf.Transport.RequestTimeout(),
		transportKind:   p.endpoint.Caps.Name,
		inbox:           make(chan transport.Frame, p.inboxSize),
		stopping:        make(chan struct{}),
		shutdownTimeout: p.shutdownTimeout,
		metrics:         p.metrics,
		log:             log,
	}
	b.responder, _ = p.adapter.(adapter.Responder)

	manager, err := transportpkg.NewManager(transportpkg.Options{
		BotID:             p.conf.ID,
		Endpoint:          p.endpoint,
		Policy:            p.policy,
		AutoReconnect:     p.conf.Transport.ReconnectEnabled(),
		HeartbeatInterval: p.conf.Transport.HeartbeatInterval(),
		HeartbeatGrace:    p.heartbeatGrace,
		OnFrame:           b.enqueue,
		OnStateChange:     b.connectionChanged,
		Logger:            p.logger,
		Metrics:           p.transport,
	})
	if err != nil {
		return nil, err
	}
	b.manager = manager

	opts := p.dispatch
	opts.BotID = b.id
	opts.Logger = log
	opts.Metrics = p.metrics
	if opts.Services == nil {
		opts.Services = handlers.NewServices(log, nil)
	}
	b.services = opts.Services
	opts.Services = b.services.WithSink(b.sessionSink("")).WithCaller(b.sessionCaller(""))
	b.dispatcher = NewDispatcher(p.registry, opts)

	pipeline, err := buildPipeline(b, p.middlewares, b.handleFrame)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", b.id, err)
	}
	b.pipeline = pipeline
	return b, nil
}

func (b *Bot) ID() string                     { return b.id }
func (b *Bot) Name() string                   { return b.name }
func (b *Bot) Adapter() adapter.Adapter       { return b.adapter }
func (b *Bot) Dispatcher() *Dispatcher        { return b.dispatcher }
func (b *Bot) Manager() *transportpkg.Manager { return b.manager }
func (b *Bot) State() transportpkg.State      { return b.manager.State() }

// Run connects the bot and processes frames until ctx is done. Exhausted
// retries mark the bot degraded and return nil so sibling bots keep running.
func (b *Bot) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bot %s: %w", b.id, errspkg.ErrRuntimeStarted)
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		b.work(workCtx)
	}()

	b.log.Info("Bot starting", loggingpkg.LogFields{"name": b.name})
	err := b.manager.Run(ctx)
	close(b.stopping)

	timer := time.NewTimer(b.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-workerDone:
	case <-timer.C:
		b.log.Info("Inbox drain timed out, abandoning queued frames", loggingpkg.LogFields{
			"pending": len(b.inbox),
		})
		cancelWork()
		<-workerDone
	}

	var exhausted *errspkg.RetriesExhaustedError
	switch {
	case errors.As(err, &exhausted):
		b.markDegraded(err)
		b.log.Error("Bot degraded", err, nil)
		return nil
	case err != nil:
		return err
	case ctx.Err() == nil:
		b.markDegraded(errors.New("transport closed"))
		b.log.Info("Bot stopped with reconnect disabled", nil)
	default:
		b.log.Info("Bot stopped", nil)
	}
	return nil
}

// enqueue runs on the transport's read goroutine. Responses to pending calls
// are resolved here so a handler waiting on Call never blocks the worker that
// would otherwise deliver them. Other frames block while the inbox is full and
// are dropped once the bot is stopping.
func (b *Bot) enqueue(f transport.Frame) {
	if b.resolveCall(f.Payload) {
		b.metrics.RecordFrame(b.id, FrameResponse)
		return
	}
	select {
	case b.inbox <- f:
	case <-b.stopping:
		b.metrics.RecordDropped(b.id)
	}
}

func (b *Bot) resolveCall(frame []byte) bool {
	if b.responder == nil || b.calls.len() == 0 {
		return false
	}
	resp, ok := b.responder.DecodeResponse(frame)
	if !ok || resp.Echo == "" {
		return false
	}
	return b.calls.resolve(resp)
}

// connectionChanged fails pending calls once the connection that would carry
// their responses is gone.
func (b *Bot) connectionChanged(from, to transportpkg.State) {
	if from != transportpkg.Connected || to == transportpkg.Connected {
		return
	}
	if n := b.calls.failAll(fmt.Errorf("bot %s: %w", b.id, errspkg.ErrNotConnected)); n > 0 {
		b.log.Info("Failed pending calls after connection loss", loggingpkg.LogFields{"calls": n})
	}
}

func (b *Bot) work(ctx context.Context) {
	for {
		select {
		case f := <-b.inbox:
			b.process(ctx, f)
		case <-b.stopping:
			b.drain(ctx)
			return
		}
	}
}

func (b *Bot) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case f := <-b.inbox:
			b.process(ctx, f)
		default:
			return
		}
	}
}

func (b *Bot) process(ctx context.Context, f transport.Frame) {
	receivedAt := f.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	md := metadatapkg.Metadata(f.Metadata).WithAll(metadatapkg.New(
		metadatapkg.KeyBotID, b.id,
		metadatapkg.KeyAdapter, b.adapter.Name(),
		metadatapkg.KeyTransport, b.transportKind,
		metadatapkg.KeyReceivedAt, receivedAt.UTC().Format(time.RFC3339Nano),
		metadatapkg.KeyQueueDepth, strconv.Itoa(len(b.inbox)),
	))
	if f.SessionID != "" {
		md = md.With(metadatapkg.KeySessionID, f.SessionID)
	}

	msg := newFrameMessage(f.Payload, md, receivedAt)
	msg.SetContext(ctx)
	if _, err := b.pipeline(msg); err != nil {
		if errors.Is(err, errDecodeFailure) {
			b.log.Error("Dropped undecodable frame", err, loggingpkg.LogFields{"frame_uuid": msg.UUID})
			return
		}
		b.log.Error("Frame pipeline failed", err, loggingpkg.LogFields{"frame_uuid": msg.UUID})
	}
}

// handleFrame is the innermost pipeline stage: decode, then dispatch.
func (b *Bot) handleFrame(msg *message.Message) ([]*message.Message, error) {
	ev, err := adapter.DecodeFrame(b.adapter, msg.Payload)
	if errors.Is(err, adapter.ErrIgnoredFrame) {
		b.metrics.RecordFrame(b.id, FrameIgnored)
		return nil, nil
	}
	if err != nil {
		b.metrics.RecordFrame(b.id, FrameDecodeFailure)
		terr := errspkg.NewTransportError(errspkg.ProtocolDecodeFailure, b.id, err)
		return nil, fmt.Errorf("%w: %w", errDecodeFailure, terr)
	}
	b.metrics.RecordFrame(b.id, FrameDecoded)

	md := metadatapkg.FromWatermill(msg.Metadata)
	report := b.dispatcher.Dispatch(msg.Context(), ev,
		handlers.WithMetadata(md),
		handlers.WithServices(b.services.
			WithSink(b.sessionSink(md.Get(metadatapkg.KeySessionID))).
			WithCaller(b.sessionCaller(md.Get(metadatapkg.KeySessionID)))),
	)

	b.mu.Lock()
	b.lastReport = &report
	b.mu.Unlock()
	return nil, nil
}

// sessionSink encodes actions with the bot's adapter and routes them to the
// session the triggering frame arrived on.
func (b *Bot) sessionSink(sessionID string) handlers.ActionSink {
	return handlers.ActionSinkFunc(func(ctx context.Context, action event.Action) error {
		return b.sendTo(ctx, sessionID, action)
	})
}

// sessionCaller is sessionSink for calls that wait on a response.
func (b *Bot) sessionCaller(sessionID string) handlers.ActionCaller {
	return handlers.ActionCallerFunc(func(ctx context.Context, action event.Action) (jsoncodec.RawMessage, error) {
		return b.callOn(ctx, sessionID, action)
	})
}

// Send encodes action and writes it to the bot's connection. Listening
// transports require exactly one open session.
func (b *Bot) Send(ctx context.Context, action event.Action) error {
	return b.sendTo(ctx, "", action)
}

// SendToSession is Send for a specific session of a listening transport.
func (b *Bot) SendToSession(ctx context.Context, sessionID string, action event.Action) error {
	return b.sendTo(ctx, sessionID, action)
}

func (b *Bot) sendTo(ctx context.Context, sessionID string, action event.Action) error {
	payload, err := b.adapter.Encode(action)
	if err != nil {
		return fmt.Errorf("bot %s: encode %s: %w", b.id, action.Name, err)
	}
	return b.manager.Send(ctx, sessionID, payload)
}

// Call sends action and waits for the platform's response, returning its data
// payload. Request/response transports return the reply from the same
// exchange; others match the response frame by echo, generating one when
// action has none. Without a deadline on ctx the transport request timeout
// applies.
func (b *Bot) Call(ctx context.Context, action event.Action) (jsoncodec.RawMessage, error) {
	return b.callOn(ctx, "", action)
}

// CallSession is Call for a specific session of a listening transport.
func (b *Bot) CallSession(ctx context.Context, sessionID string, action event.Action) (jsoncodec.RawMessage, error) {
	return b.callOn(ctx, sessionID, action)
}

func (b *Bot) callOn(ctx context.Context, sessionID string, action event.Action) (jsoncodec.RawMessage, error) {
	if b.responder == nil {
		return nil, fmt.Errorf("bot %s: adapter %s: %w", b.id, b.adapter.Name(), errspkg.ErrCallUnsupported)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}
	if action.Echo == "" {
		action.Echo = idspkg.CreateULID()
	}
	payload, err := b.adapter.Encode(action)
	if err != nil {
		return nil, fmt.Errorf("bot %s: encode %s: %w", b.id, action.Name, err)
	}

	reply, err := b.manager.Request(ctx, payload)
	switch {
	case err == nil:
		return b.decodeReply(action, reply)
	case !errors.Is(err, errspkg.ErrNoRequestReply):
		return nil, fmt.Errorf("bot %s: call %s: %w", b.id, action.Name, err)
	}

	waiting, err := b.calls.register(action.Echo)
	if err != nil {
		return nil, fmt.Errorf("bot %s: call %s: %w", b.id, action.Name, err)
	}
	defer b.calls.forget(action.Echo)

	if err := b.manager.Send(ctx, sessionID, payload); err != nil {
		return nil, fmt.Errorf("bot %s: call %s: %w", b.id, action.Name, err)
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bot %s: call %s: %w", b.id, action.Name, ctx.Err())
	case resp := <-waiting:
		if resp.Err != nil {
			return nil, fmt.Errorf("bot %s: call %s: %w", b.id, action.Name, resp.Err)
		}
		return resp.Data, nil
	}
}

func (b *Bot) decodeReply(action event.Action, reply []byte) (jsoncodec.RawMessage, error) {
	if len(bytes.TrimSpace(reply)) == 0 {
		return nil, nil
	}
	resp, ok := b.responder.DecodeResponse(reply)
	if !ok {
		return nil, fmt.Errorf("bot %s: call %s: reply is not an action response", b.id, action.Name)
	}
	if resp.Err != nil {
		return nil, fmt.Errorf("bot %s: call %s: %w", b.id, action.Name, resp.Err)
	}
	return resp.Data, nil
}

func (b *Bot) markDegraded(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.degraded = true
	b.degradedReason = err.Error()
}

// Degraded reports whether the bot gave up on its transport.
func (b *Bot) Degraded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.degraded
}

// LastReport returns the report of the most recent dispatch.
func (b *Bot) LastReport() (Report, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastReport == nil {
		return Report{}, false
	}
	return *b.lastReport, true
}

// Status returns the bot's status API view.
func (b *Bot) Status() BotStatus {
	b.mu.RLock()
	degraded, reason := b.degraded, b.degradedReason
	b.mu.RUnlock()

	return BotStatus{
		ID:             b.id,
		Name:           b.name,
		Adapter:        b.adapter.Name(),
		Connection:     b.manager.Status(),
		SessionList:    b.manager.Sessions(),
		Degraded:       degraded,
		DegradedReason: reason,
		InboxDepth:     len(b.inbox),
		InboxCapacity:  cap(b.inbox),
		Dispatch:       b.metrics.BotStats(b.id),
	}
}
