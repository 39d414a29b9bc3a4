package handlers

import (
	"context"
	"reflect"

	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
)

// ActionSink delivers outbound actions to the bot's transport.
type ActionSink interface {
	Send(ctx context.Context, action event.Action) error
}

// ActionSinkFunc adapts a function to ActionSink.
type ActionSinkFunc func(ctx context.Context, action event.Action) error

func (f ActionSinkFunc) Send(ctx context.Context, action event.Action) error { return f(ctx, action) }

// ActionCaller performs an action and waits for the platform's response.
type ActionCaller interface {
	Call(ctx context.Context, action event.Action) (jsoncodec.RawMessage, error)
}

// ActionCallerFunc adapts a function to ActionCaller.
type ActionCallerFunc func(ctx context.Context, action event.Action) (jsoncodec.RawMessage, error)

func (f ActionCallerFunc) Call(ctx context.Context, action event.Action) (jsoncodec.RawMessage, error) {
	return f(ctx, action)
}

// Services are the runtime-wide, read-only collaborators reachable from a
// Context. A Services value is never mutated after construction.
type Services struct {
	log    loggingpkg.ServiceLogger
	sink   ActionSink
	caller ActionCaller
	state  map[reflect.Type]any
}

var emptyServices = &Services{}

// NewServices bundles a logger, an outbound sink and shared state values.
// Each state value is keyed by its dynamic type and retrieved with Lookup or
// the State extractor.
func NewServices(log loggingpkg.ServiceLogger, sink ActionSink, state ...any) *Services {
	s := &Services{log: log, sink: sink, state: make(map[reflect.Type]any, len(state))}
	for _, v := range state {
		if v == nil {
			continue
		}
		s.state[reflect.TypeOf(v)] = v
	}
	return s
}

// WithSink returns a copy bound to a different sink, sharing the state.
func (s *Services) WithSink(sink ActionSink) *Services {
	return &Services{log: s.log, sink: sink, caller: s.caller, state: s.state}
}

// WithCaller returns a copy bound to a different caller, sharing the state.
func (s *Services) WithCaller(caller ActionCaller) *Services {
	return &Services{log: s.log, sink: s.sink, caller: caller, state: s.state}
}

// Sink returns the outbound action sink, which may be nil.
func (s *Services) Sink() ActionSink {
	if s == nil {
		return nil
	}
	return s.sink
}

// Caller returns the action caller, which may be nil.
func (s *Services) Caller() ActionCaller {
	if s == nil {
		return nil
	}
	return s.caller
}

func (s *Services) logger() loggingpkg.ServiceLogger {
	if s == nil || s.log == nil {
		return loggingpkg.Discard()
	}
	return s.log
}

// Lookup returns the state value registered under T.
func Lookup[T any](s *Services) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.state[reflect.TypeFor[T]()]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
