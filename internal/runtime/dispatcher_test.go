package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/handlers"
	metadatapkg "github.com/drblury/botflow/internal/runtime/metadata"
)

func TestDispatchRunsInRegistrationOrderAndStopsAtHandled(t *testing.T) {
	log := &callLog{}
	d, _ := newTestDispatcher(t, DispatcherOptions{},
		recording(log, "first", nil, handlers.Continue()),
		recording(log, "second", nil, handlers.Handled()),
		recording(log, "third", nil, handlers.Handled()),
	)

	report := d.Dispatch(context.Background(), &chatEvent{text: "hi"})

	assert.Equal(t, []string{"first", "second"}, log.list())
	assert.True(t, report.Handled)
	assert.Equal(t, "second", report.HandledBy)
	assert.False(t, report.Aborted)
	assert.NoError(t, report.Err())
	require.Len(t, report.Results, 2)
	assert.Equal(t, handlers.OutcomeContinue, report.Results[0].Outcome)
	assert.Equal(t, handlers.OutcomeHandled, report.Results[1].Outcome)
}

func TestDispatchSkipsHandlersWhoseCheckFails(t *testing.T) {
	log := &callLog{}
	d, _ := newTestDispatcher(t, DispatcherOptions{},
		recording(log, "notices", handlers.OnType(event.TypeNotice), handlers.Handled()),
		recording(log, "messages", handlers.OnEvent[*chatEvent](), handlers.Handled()),
	)

	report := d.Dispatch(context.Background(), &chatEvent{})
	assert.Equal(t, []string{"messages"}, log.list())
	assert.Equal(t, "messages", report.HandledBy)
	assert.Len(t, report.Results, 1)
}

func TestDispatchUnhandledIsNotAnError(t *testing.T) {
	log := &callLog{}
	d, _ := newTestDispatcher(t, DispatcherOptions{},
		recording(log, "a", nil, handlers.Continue()),
		recording(log, "b", nil, handlers.Continue()),
	)

	report := d.Dispatch(context.Background(), joinEvent{})
	assert.False(t, report.Handled)
	assert.Empty(t, report.HandledBy)
	assert.NoError(t, report.Err())
	assert.Equal(t, []string{"a", "b"}, log.list())
}

func TestDispatchEmptyChain(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherOptions{})
	report := d.Dispatch(context.Background(), joinEvent{})
	assert.False(t, report.Handled)
	assert.Empty(t, report.Results)
}

func TestDispatchErroredForwardsToSinkAndContinues(t *testing.T) {
	cause := errors.New("database unavailable")
	log := &callLog{}

	var hookErr error
	var hookRun HandlerRun
	hooks := DispatchHooks{
		OnHandlerError: func(run HandlerRun, err error) {
			hookRun = run
			hookErr = err
		},
	}

	d, reg := newTestDispatcher(t, DispatcherOptions{Hooks: hooks},
		recording(log, "flaky", nil, handlers.Errored(cause)),
		recording(log, "fallback", nil, handlers.Handled()),
	)

	report := d.Dispatch(context.Background(), &chatEvent{})

	assert.Equal(t, []string{"flaky", "fallback"}, log.list())
	assert.True(t, report.Handled)
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Err(), cause)

	var herr *errspkg.HandlerError
	require.ErrorAs(t, report.Errors[0], &herr)
	assert.Equal(t, "flaky", herr.Handler)

	assert.Equal(t, "flaky", hookRun.Handler)
	assert.Equal(t, 0, hookRun.Position)
	assert.ErrorIs(t, hookErr, cause)

	stats, ok := reg.Stats("flaky")
	require.True(t, ok)
	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Errored)
	assert.Equal(t, uint64(1), snap.Errors.Other)
	assert.Equal(t, cause.Error(), snap.Errors.LastError)
}

func TestDispatchTimeoutAbandonsHandler(t *testing.T) {
	observed := make(chan error, 1)
	slow := handlers.New("slow", nil, func(ctx context.Context, _ *handlers.Context) handlers.Outcome {
		<-ctx.Done()
		observed <- ctx.Err()
		return handlers.Handled()
	})
	log := &callLog{}

	d, reg := newTestDispatcher(t, DispatcherOptions{Timeout: 20 * time.Millisecond},
		slow,
		recording(log, "next", nil, handlers.Handled()),
	)

	report := d.Dispatch(context.Background(), &chatEvent{})

	assert.True(t, report.Handled)
	assert.Equal(t, "next", report.HandledBy, "a timed out handler cannot claim the event")
	require.Len(t, report.Errors, 1)
	assert.ErrorIs(t, report.Errors[0], errspkg.ErrDispatchTimeout)

	var te *errspkg.TimeoutError
	require.ErrorAs(t, report.Errors[0], &te)
	assert.Equal(t, "slow", te.Handler)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)

	assert.ErrorIs(t, waitFor(t, observed, time.Second), context.DeadlineExceeded)

	stats, _ := reg.Stats("slow")
	assert.Equal(t, uint64(1), stats.Snapshot().Errors.Timeout)
}

func TestDispatchRevokesTimedOutHandlerWrites(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []string
	)
	sink := handlers.ActionSinkFunc(func(_ context.Context, a event.Action) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, a.Name)
		return nil
	})
	lateErr := make(chan error, 1)
	slow := handlers.New("slow", nil, func(_ context.Context, c *handlers.Context) handlers.Outcome {
		time.Sleep(60 * time.Millisecond)
		lateErr <- c.Send(context.Background(), event.NewAction("late_from_slow"))
		return handlers.Handled()
	})
	next := handlers.New("next", nil, func(ctx context.Context, c *handlers.Context) handlers.Outcome {
		time.Sleep(90 * time.Millisecond)
		if err := c.Send(ctx, event.NewAction("from_next")); err != nil {
			return handlers.Errored(err)
		}
		return handlers.Handled()
	})

	d, _ := newTestDispatcher(t, DispatcherOptions{
		Timeout:  30 * time.Millisecond,
		Services: handlers.NewServices(nil, sink),
	}, slow, next)

	report := d.Dispatch(context.Background(), &chatEvent{})

	assert.Equal(t, "next", report.HandledBy)
	assert.ErrorIs(t, waitFor(t, lateErr, time.Second), errspkg.ErrContextReleased)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, "from_next", report.Actions[0].Name)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"from_next"}, delivered)
}

func TestDispatchConcurrentCallsGetDistinctSequences(t *testing.T) {
	d, _ := newTestDispatcher(t, DispatcherOptions{},
		handlers.New("echo", nil, func(context.Context, *handlers.Context) handlers.Outcome { return handlers.Handled() }),
	)

	const n = 64
	seqs := make(chan uint64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seqs <- d.Dispatch(context.Background(), &chatEvent{}).Sequence
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, n)
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence %d assigned twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, n)
	for i := uint64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	log := &callLog{}
	panicsInHandle := handlers.New("boom", nil, func(context.Context, *handlers.Context) handlers.Outcome {
		panic("kaput")
	})
	panicsInCheck := handlers.New("bad-check", func(*handlers.Context) bool {
		panic("check exploded")
	}, func(context.Context, *handlers.Context) handlers.Outcome {
		log.add("bad-check")
		return handlers.Handled()
	})

	d, _ := newTestDispatcher(t, DispatcherOptions{},
		panicsInHandle,
		panicsInCheck,
		recording(log, "survivor", nil, handlers.Handled()),
	)

	report := d.Dispatch(context.Background(), &chatEvent{})

	assert.Equal(t, []string{"survivor"}, log.list())
	assert.Equal(t, "survivor", report.HandledBy)
	require.Len(t, report.Errors, 2)
	for _, err := range report.Errors {
		assert.ErrorIs(t, err, errspkg.ErrHandlerPanicked)
	}

	var pe *errspkg.PanicError
	require.ErrorAs(t, report.Errors[0], &pe)
	assert.Equal(t, "boom", pe.Handler)
	assert.Equal(t, "kaput", pe.Value)
}

func TestDispatchAbortsWhenParentCancelled(t *testing.T) {
	t.Run("before the first handler", func(t *testing.T) {
		log := &callLog{}
		d, _ := newTestDispatcher(t, DispatcherOptions{}, recording(log, "a", nil, handlers.Handled()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report := d.Dispatch(ctx, &chatEvent{})
		assert.True(t, report.Aborted)
		assert.False(t, report.Handled)
		assert.Empty(t, log.list())
	})

	t.Run("during a handler", func(t *testing.T) {
		log := &callLog{}
		ctx, cancel := context.WithCancel(context.Background())
		blocking := handlers.New("blocking", nil, func(hctx context.Context, _ *handlers.Context) handlers.Outcome {
			cancel()
			<-hctx.Done()
			return handlers.Continue()
		})
		d, _ := newTestDispatcher(t, DispatcherOptions{Timeout: time.Minute},
			blocking,
			recording(log, "after", nil, handlers.Handled()),
		)

		report := d.Dispatch(ctx, &chatEvent{})
		assert.True(t, report.Aborted)
		assert.Empty(t, log.list())
		assert.Empty(t, report.Errors)
	})
}

func TestDispatchBuildsFreshContextPerEvent(t *testing.T) {
	var mu sync.Mutex
	var seen []*handlers.Context
	capture := handlers.New("capture", nil, func(_ context.Context, c *handlers.Context) handlers.Outcome {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
		return handlers.Continue()
	})
	d, _ := newTestDispatcher(t, DispatcherOptions{}, capture)

	first := d.Dispatch(context.Background(), &chatEvent{text: "one"})
	second := d.Dispatch(context.Background(), &chatEvent{text: "two"},
		handlers.WithMetadata(metadatapkg.New(metadatapkg.KeyCorrelationID, "corr-1", metadatapkg.KeySessionID, "s-9")))

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
	assert.True(t, seen[0].Released())
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, "corr-1", second.CorrelationID)
	assert.Equal(t, "s-9", seen[1].SessionID())
	assert.Equal(t, "bot-a", seen[1].BotID())
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
}

func TestDispatchCollectsActions(t *testing.T) {
	sent := make(chan event.Action, 4)
	sink := handlers.ActionSinkFunc(func(_ context.Context, a event.Action) error {
		sent <- a
		return nil
	})
	reply := handlers.New("reply", handlers.OnEvent[*chatEvent](), func(ctx context.Context, c *handlers.Context) handlers.Outcome {
		if err := c.Send(ctx, event.NewAction("send_msg", "text", c.PlainText())); err != nil {
			return handlers.Errored(err)
		}
		return handlers.Handled()
	})

	d, _ := newTestDispatcher(t, DispatcherOptions{Services: handlers.NewServices(newTestLogger(), sink)}, reply)
	report := d.Dispatch(context.Background(), &chatEvent{text: "echo me"})

	require.Len(t, report.Actions, 1)
	assert.Equal(t, "echo me", report.Actions[0].Params["text"])
	assert.Equal(t, "send_msg", waitFor(t, sent, time.Second).Name)
}

func TestDispatchRecordsMetrics(t *testing.T) {
	metrics := NewDispatchMetrics(prometheus.NewRegistry())
	require.NoError(t, metrics.Register())
	log := &callLog{}

	d, _ := newTestDispatcher(t, DispatcherOptions{Metrics: metrics},
		recording(log, "skip", nil, handlers.Continue()),
		recording(log, "claim", handlers.OnType(event.TypeMessage), handlers.Handled()),
	)
	d.Dispatch(context.Background(), &chatEvent{})
	d.Dispatch(context.Background(), joinEvent{})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invocationsTotal.WithLabelValues("claim", "handled")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.invocationsTotal.WithLabelValues("skip", "continue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.unhandledTotal.WithLabelValues("bot-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("bot-a", "notice")))

	stats := metrics.BotStats("bot-a")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(2), stats.Dispatched)
	assert.Equal(t, uint64(1), stats.Handled)
	assert.Equal(t, uint64(1), stats.Unhandled)
}

func TestDispatchHookSequence(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	note := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}
	hooks := DispatchHooks{
		OnDispatchStart: func(DispatchInfo) { note("dispatch:start") },
		OnHandlerStart:  func(run HandlerRun) { note("start:" + run.Handler) },
		OnHandlerDone:   func(run HandlerRun) { note("done:" + run.Handler + ":" + run.Outcome.String()) },
		OnHandlerError:  func(run HandlerRun, _ error) { note("error:" + run.Handler) },
		OnDispatchDone:  func(_ DispatchInfo, r Report) { note("dispatch:done:" + r.HandledBy) },
	}
	log := &callLog{}
	d, _ := newTestDispatcher(t, DispatcherOptions{Hooks: hooks},
		recording(log, "a", nil, handlers.Errored(errors.New("x"))),
		recording(log, "b", nil, handlers.Handled()),
	)

	d.Dispatch(context.Background(), &chatEvent{})

	assert.Equal(t, []string{
		"dispatch:start",
		"start:a", "done:a:errored", "error:a",
		"start:b", "done:b:handled",
		"dispatch:done:b",
	}, trace)
}
