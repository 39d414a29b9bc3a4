package runtime

import (
	"context"
	"time"

	"github.com/drblury/botflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
)

// DispatchInfo identifies one dispatch to hooks.
type DispatchInfo struct {
	BotID         string
	CorrelationID string
	Sequence      uint64
	// Event is the event's dotted name.
	Event string
	// Context is the dispatch's context.Context, carrying the span.
	Context   context.Context
	StartedAt time.Time
	// Duration is only set in OnDispatchDone.
	Duration time.Duration
}

// HandlerRun describes a single handler invocation within a dispatch.
type HandlerRun struct {
	DispatchInfo
	Handler  string
	Position int
	// Outcome and Duration are only set in OnHandlerDone and OnHandlerError.
	Outcome  handlers.OutcomeKind
	Duration time.Duration
}

// DispatchHooks observe the dispatch lifecycle. Every field is optional.
// Hooks run synchronously on the bot's worker goroutine and must not block.
type DispatchHooks struct {
	OnDispatchStart func(info DispatchInfo)
	// OnHandlerStart runs after Check matched, before Handle.
	OnHandlerStart func(run HandlerRun)
	// OnHandlerDone runs after every Handle, whatever its outcome.
	OnHandlerDone func(run HandlerRun)
	// OnHandlerError runs for Errored outcomes, timeouts and panics,
	// including panics raised by Check.
	OnHandlerError func(run HandlerRun, err error)
	OnDispatchDone func(info DispatchInfo, report Report)
}

// Merge combines two DispatchHooks. The hooks from other run after h's.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chain(h.OnDispatchStart, other.OnDispatchStart),
		OnHandlerStart:  chain(h.OnHandlerStart, other.OnHandlerStart),
		OnHandlerDone:   chain(h.OnHandlerDone, other.OnHandlerDone),
		OnHandlerError:  chain2(h.OnHandlerError, other.OnHandlerError),
		OnDispatchDone:  chain2(h.OnDispatchDone, other.OnDispatchDone),
	}
}

func chain[T any](a, b func(T)) func(T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}

func chain2[T, U any](a, b func(T, U)) func(T, U) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v T, u U) {
		a(v, u)
		b(v, u)
	}
}

func (h DispatchHooks) dispatchStart(info DispatchInfo) {
	if h.OnDispatchStart != nil {
		h.OnDispatchStart(info)
	}
}

func (h DispatchHooks) handlerStart(run HandlerRun) {
	if h.OnHandlerStart != nil {
		h.OnHandlerStart(run)
	}
}

func (h DispatchHooks) handlerDone(run HandlerRun) {
	if h.OnHandlerDone != nil {
		h.OnHandlerDone(run)
	}
}

func (h DispatchHooks) handlerError(run HandlerRun, err error) {
	if h.OnHandlerError != nil {
		h.OnHandlerError(run, err)
	}
}

func (h DispatchHooks) dispatchDone(info DispatchInfo, report Report) {
	if h.OnDispatchDone != nil {
		h.OnDispatchDone(info, report)
	}
}

// LoggingHooks returns hooks that log the dispatch lifecycle. Handler starts
// and completions are logged at debug level, failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnHandlerStart: func(run HandlerRun) {
			logger.Debug("Handler started", loggingpkg.LogFields{
				"bot_id":         run.BotID,
				"handler":        run.Handler,
				"event":          run.Event,
				"correlation_id": run.CorrelationID,
			})
		},
		OnHandlerDone: func(run HandlerRun) {
			logger.Debug("Handler finished", loggingpkg.LogFields{
				"bot_id":         run.BotID,
				"handler":        run.Handler,
				"outcome":        run.Outcome.String(),
				"correlation_id": run.CorrelationID,
				"duration_ms":    run.Duration.Milliseconds(),
			})
		},
		OnHandlerError: func(run HandlerRun, err error) {
			logger.Error("Handler failed", err, loggingpkg.LogFields{
				"bot_id":         run.BotID,
				"handler":        run.Handler,
				"event":          run.Event,
				"correlation_id": run.CorrelationID,
				"duration_ms":    run.Duration.Milliseconds(),
			})
		},
		OnDispatchDone: func(info DispatchInfo, report Report) {
			logger.Debug("Dispatch finished", loggingpkg.LogFields{
				"bot_id":         info.BotID,
				"event":          info.Event,
				"correlation_id": info.CorrelationID,
				"handled_by":     report.HandledBy,
				"aborted":        report.Aborted,
				"duration_ms":    info.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks forwards handler lifecycle events to caller-supplied counters.
func MetricsHooks(onStart, onDone, onError func(botID, handler string)) DispatchHooks {
	return DispatchHooks{
		OnHandlerStart: func(run HandlerRun) {
			if onStart != nil {
				onStart(run.BotID, run.Handler)
			}
		},
		OnHandlerDone: func(run HandlerRun) {
			if onDone != nil {
				onDone(run.BotID, run.Handler)
			}
		},
		OnHandlerError: func(run HandlerRun, _ error) {
			if onError != nil {
				onError(run.BotID, run.Handler)
			}
		},
	}
}

// AlertingHooks calls alert for every handler failure.
func AlertingHooks(alert func(run HandlerRun, err error)) DispatchHooks {
	return DispatchHooks{
		OnHandlerError: alert,
	}
}
