package handlers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
	idspkg "github.com/drblury/botflow/internal/runtime/ids"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/botflow/internal/runtime/metadata"
)

// Context wraps one event for the duration of a single dispatch. Handlers may
// read it freely; the only writes they can perform are outbound actions
// through Send and Call.
type Context struct {
	ev            event.Event
	botID         string
	correlationID string
	sequence      uint64
	createdAt     time.Time
	metadata      metadatapkg.Metadata
	services      *Services

	out  *outbox
	gate *writeGate
}

// outbox is the action log shared by every handle of one dispatch.
type outbox struct {
	mu       sync.Mutex
	actions  []event.Action
	released atomic.Bool
}

func (o *outbox) record(action event.Action) {
	o.mu.Lock()
	o.actions = append(o.actions, action)
	o.mu.Unlock()
}

// writeGate guards one handler run's write access. Revoking cancels the
// context of a write already in progress and waits for it to return.
type writeGate struct {
	mu      sync.Mutex
	revoked bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func newWriteGate() *writeGate {
	ctx, cancel := context.WithCancel(context.Background())
	return &writeGate{ctx: ctx, cancel: cancel}
}

// ContextOption customises a Context at construction.
type ContextOption func(*Context)

// WithCorrelationID overrides the generated correlation id.
func WithCorrelationID(id string) ContextOption {
	return func(c *Context) {
		if id != "" {
			c.correlationID = id
		}
	}
}

// WithSequence stamps the per-bot receipt sequence number.
func WithSequence(seq uint64) ContextOption {
	return func(c *Context) { c.sequence = seq }
}

// WithServices attaches the runtime services visible to handlers.
func WithServices(s *Services) ContextOption {
	return func(c *Context) {
		if s != nil {
			c.services = s
		}
	}
}

// WithMetadata attaches frame metadata such as the session id.
func WithMetadata(md metadatapkg.Metadata) ContextOption {
	return func(c *Context) { c.metadata = md.Clone() }
}

// WithCreatedAt overrides the creation timestamp.
func WithCreatedAt(t time.Time) ContextOption {
	return func(c *Context) { c.createdAt = t }
}

// NewContext is the only way to build a dispatch context around ev.
func NewContext(ev event.Event, botID string, opts ...ContextOption) *Context {
	c := &Context{
		ev:        ev,
		botID:     botID,
		createdAt: time.Now(),
		metadata:  metadatapkg.Metadata{},
		services:  emptyServices,
		out:       &outbox{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.correlationID == "" {
		c.correlationID = c.metadata.Get(metadatapkg.KeyCorrelationID)
	}
	if c.correlationID == "" {
		c.correlationID = idspkg.CreateULID()
	}
	return c
}

func (c *Context) Event() event.Event             { return c.ev }
func (c *Context) BotID() string                  { return c.botID }
func (c *Context) CorrelationID() string          { return c.correlationID }
func (c *Context) Sequence() uint64               { return c.sequence }
func (c *Context) CreatedAt() time.Time           { return c.createdAt }
func (c *Context) Services() *Services            { return c.services }
func (c *Context) Get(key string) string          { return c.metadata.Get(key) }
func (c *Context) SessionID() string              { return c.metadata.Get(metadatapkg.KeySessionID) }
func (c *Context) PlainText() string              { return event.PlainText(c.ev) }
func (c *Context) EventType() event.Type          { return typeOf(c.ev) }
func (c *Context) Metadata() metadatapkg.Metadata { return c.metadata.Clone() }

// Logger returns the runtime logger enriched with the dispatch identity.
func (c *Context) Logger() loggingpkg.ServiceLogger {
	return c.services.logger().With(loggingpkg.LogFields{
		"bot_id":         c.botID,
		"correlation_id": c.correlationID,
	})
}

// Scoped returns a handle on the same dispatch whose write access can be
// revoked on its own. The dispatcher gives each Handle call a fresh handle.
func (c *Context) Scoped() *Context {
	return &Context{
		ev:            c.ev,
		botID:         c.botID,
		correlationID: c.correlationID,
		sequence:      c.sequence,
		createdAt:     c.createdAt,
		metadata:      c.metadata,
		services:      c.services,
		out:           c.out,
		gate:          newWriteGate(),
	}
}

// Revoke ends this handle's write access. A Send or Call already running on
// the handle sees its context cancelled and Revoke waits for it to return;
// later ones fail with ErrContextReleased.
func (c *Context) Revoke() {
	if c.gate == nil {
		return
	}
	c.gate.cancel()
	c.gate.mu.Lock()
	c.gate.revoked = true
	c.gate.mu.Unlock()
}

func (c *Context) write(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.gate != nil {
		c.gate.mu.Lock()
		defer c.gate.mu.Unlock()
		if c.gate.revoked {
			return errspkg.ErrContextReleased
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.gate.ctx, cancel)
		defer stop()
	}
	if c.out.released.Load() {
		return errspkg.ErrContextReleased
	}
	return fn(ctx)
}

// Send hands action to the outbound sink and records it in the dispatch's
// action log once the sink accepted it.
func (c *Context) Send(ctx context.Context, action event.Action) error {
	return c.write(ctx, func(ctx context.Context) error {
		sink := c.services.Sink()
		if sink == nil {
			return errspkg.ErrSendUnsupported
		}
		if err := sink.Send(ctx, action); err != nil {
			return err
		}
		c.out.record(action)
		return nil
	})
}

// Call performs action and waits for the platform's answer, returning its
// result payload.
func (c *Context) Call(ctx context.Context, action event.Action) (jsoncodec.RawMessage, error) {
	var result jsoncodec.RawMessage
	err := c.write(ctx, func(ctx context.Context) error {
		caller := c.services.Caller()
		if caller == nil {
			return errspkg.ErrCallUnsupported
		}
		res, err := caller.Call(ctx, action)
		if err != nil {
			return err
		}
		result = res
		c.out.record(action)
		return nil
	})
	return result, err
}

// Actions returns a copy of the actions delivered so far.
func (c *Context) Actions() []event.Action {
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	out := make([]event.Action, len(c.out.actions))
	copy(out, c.out.actions)
	return out
}

// Release marks the dispatch as finished. The dispatcher calls it; later
// writes through any handle are rejected.
func (c *Context) Release() {
	c.out.released.Store(true)
}

// Released reports whether the owning dispatch finished.
func (c *Context) Released() bool {
	return c.out.released.Load()
}

func typeOf(ev event.Event) event.Type {
	if ev == nil {
		return event.TypeOther
	}
	return ev.Type()
}
