package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
)

const tracerName = "github.com/drblury/botflow/internal/runtime"

// HandlerResult records one handler whose Check matched.
type HandlerResult struct {
	Handler  string               `json:"handler"`
	Outcome  handlers.OutcomeKind `json:"-"`
	Duration time.Duration        `json:"duration_ns"`
	Err      error                `json:"-"`
}

// Report summarises one dispatch. An unhandled event is not an error.
type Report struct {
	BotID         string
	CorrelationID string
	Sequence      uint64
	Event         string
	Handled       bool
	HandledBy     string
	// Aborted is set when the parent context was cancelled mid-dispatch.
	Aborted  bool
	Results  []HandlerResult
	Errors   []error
	Actions  []event.Action
	Duration time.Duration
}

// Err joins every handler failure of the dispatch.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	BotID string
	// Timeout bounds each Handle call. Zero disables the bound.
	Timeout    time.Duration
	Services   *handlers.Services
	Hooks      DispatchHooks
	Metrics    *DispatchMetrics
	Classifier ErrorClassifier
	Logger     loggingpkg.ServiceLogger
	Tracer     trace.Tracer
}

// Dispatcher walks a sealed handler chain for one bot. Dispatch is safe for
// concurrent use; each call gets its own Context and the chain is read-only.
type Dispatcher struct {
	chain      []*registeredHandler
	botID      string
	timeout    time.Duration
	services   *handlers.Services
	hooks      DispatchHooks
	metrics    *DispatchMetrics
	classifier ErrorClassifier
	log        loggingpkg.ServiceLogger
	tracer     trace.Tracer
	seq        atomic.Uint64
}

// NewDispatcher seals reg and binds its chain to one bot.
func NewDispatcher(reg *HandlerRegistry, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		chain:      reg.sealAndSnapshot(),
		botID:      opts.BotID,
		timeout:    opts.Timeout,
		services:   opts.Services,
		hooks:      opts.Hooks,
		metrics:    opts.Metrics,
		classifier: opts.Classifier,
		log:        opts.Logger,
		tracer:     opts.Tracer,
	}
	if d.classifier == nil {
		d.classifier = defaultErrorClassifier
	}
	if d.log == nil {
		d.log = loggingpkg.Discard()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	return d
}

// Dispatch builds a fresh Context around ev and runs the chain in
// registration order until a handler reports Handled. opts are applied after
// the dispatcher's own options, so callers may override services or
// metadata per event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event, opts ...handlers.ContextOption) Report {
	base := []handlers.ContextOption{handlers.WithSequence(d.seq.Add(1))}
	if d.services != nil {
		base = append(base, handlers.WithServices(d.services))
	}
	c := handlers.NewContext(ev, d.botID, append(base, opts...)...)
	defer c.Release()

	name := eventName(ev)
	ctx, span := d.tracer.Start(ctx, "botflow.dispatch", trace.WithAttributes(
		attribute.String("botflow.bot_id", d.botID),
		attribute.String("botflow.event", name),
		attribute.String("botflow.correlation_id", c.CorrelationID()),
		attribute.Int64("botflow.sequence", int64(c.Sequence())),
	))
	defer span.End()

	info := DispatchInfo{
		BotID:         d.botID,
		CorrelationID: c.CorrelationID(),
		Sequence:      c.Sequence(),
		Event:         name,
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	report := Report{
		BotID:         d.botID,
		CorrelationID: c.CorrelationID(),
		Sequence:      c.Sequence(),
		Event:         name,
	}
	d.hooks.dispatchStart(info)

	for pos, entry := range d.chain {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		run := HandlerRun{DispatchInfo: info, Handler: entry.name, Position: pos}

		matched, err := d.check(entry, c)
		if err != nil {
			run.Outcome = handlers.OutcomeErrored
			entry.stats.recordCheckFailure(err, d.classifier)
			d.fail(&report, run, err)
			continue
		}
		if !matched {
			continue
		}

		d.hooks.handlerStart(run)
		outcome, duration, aborted := d.invoke(ctx, entry, c)
		if aborted {
			report.Aborted = true
			break
		}
		run.Outcome = outcome.Kind()
		run.Duration = duration
		report.Results = append(report.Results, HandlerResult{
			Handler:  entry.name,
			Outcome:  outcome.Kind(),
			Duration: duration,
			Err:      outcome.Err(),
		})
		d.metrics.RecordInvocation(entry.name, outcome.Kind().String(), duration)
		d.hooks.handlerDone(run)

		if outcome.IsErrored() {
			cause := outcome.Err()
			if cause == nil {
				cause = errors.New("handler reported an error without a cause")
			}
			var timeout *errspkg.TimeoutError
			var panicked *errspkg.PanicError
			if !errors.As(cause, &timeout) && !errors.As(cause, &panicked) {
				cause = &errspkg.HandlerError{Handler: entry.name, Cause: cause}
			}
			d.fail(&report, run, cause)
			continue
		}
		if outcome.IsHandled() {
			report.Handled = true
			report.HandledBy = entry.name
			break
		}
	}

	report.Actions = c.Actions()
	info.Duration = time.Since(info.StartedAt)
	report.Duration = info.Duration

	span.SetAttributes(
		attribute.Bool("botflow.handled", report.Handled),
		attribute.String("botflow.handled_by", report.HandledBy),
		attribute.Bool("botflow.aborted", report.Aborted),
	)
	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, report.Err().Error())
	}

	d.metrics.RecordDispatch(d.botID, string(typeOfEvent(ev)), report)
	d.hooks.dispatchDone(info, report)
	return report
}

// check runs the predicate, turning a panic into an error.
func (d *Dispatcher) check(entry *registeredHandler, c *handlers.Context) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = &errspkg.PanicError{Handler: entry.name, Value: r}
		}
	}()
	return entry.handler.Check(c), nil
}

// invoke runs Handle on its own goroutine so a timeout can abandon it. The
// handler gets a scoped handle that is revoked before invoke returns, so an
// abandoned goroutine can no longer send anything; its eventual result is
// discarded.
func (d *Dispatcher) invoke(ctx context.Context, entry *registeredHandler, c *handlers.Context) (handlers.Outcome, time.Duration, bool) {
	hctx, span := d.tracer.Start(ctx, "botflow.handler", trace.WithAttributes(
		attribute.String("botflow.handler", entry.name),
		attribute.String("botflow.bot_id", d.botID),
	))
	defer span.End()

	cancel := func() {}
	if d.timeout > 0 {
		hctx, cancel = context.WithTimeout(hctx, d.timeout)
	}
	defer cancel()

	entry.stats.onInvokeStart()
	start := time.Now()

	hc := c.Scoped()
	defer hc.Revoke()

	done := make(chan handlers.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlers.Errored(&errspkg.PanicError{Handler: entry.name, Value: r})
			}
		}()
		done <- entry.handler.Handle(hctx, hc)
	}()

	var outcome handlers.Outcome
	aborted := false
	select {
	case outcome = <-done:
	case <-hctx.Done():
		hc.Revoke()
		if ctx.Err() != nil {
			aborted = true
			outcome = handlers.Errored(ctx.Err())
		} else {
			outcome = handlers.Errored(&errspkg.TimeoutError{Handler: entry.name, Timeout: d.timeout})
		}
	}
	duration := time.Since(start)
	entry.stats.onInvokeFinish(duration, outcome, d.classifier)

	span.SetAttributes(attribute.String("botflow.outcome", outcome.Kind().String()))
	if err := outcome.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, duration, aborted
}

func (d *Dispatcher) fail(report *Report, run HandlerRun, err error) {
	report.Errors = append(report.Errors, err)
	category := d.classifier(err)
	d.metrics.RecordHandlerError(run.Handler, category)
	d.hooks.handlerError(run, err)
	d.log.Error("Handler failed", err, loggingpkg.LogFields{
		"bot_id":         run.BotID,
		"handler":        run.Handler,
		"event":          run.Event,
		"correlation_id": run.CorrelationID,
		"category":       string(category),
	})
}

// BotID returns the bot the dispatcher serves.
func (d *Dispatcher) BotID() string { return d.botID }

func eventName(ev event.Event) string {
	if ev == nil {
		return ""
	}
	return ev.Name()
}

func typeOfEvent(ev event.Event) event.Type {
	if ev == nil {
		return event.TypeOther
	}
	return ev.Type()
}
