package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMetricsNilReceiver(t *testing.T) {
	var m *DispatchMetrics
	assert.NotPanics(t, func() {
		assert.NoError(t, m.Register())
		m.RecordFrame("b", FrameDecoded)
		m.RecordDropped("b")
		m.SetInboxDepth("b", 3)
		m.RecordDispatch("b", "message", Report{})
		m.RecordInvocation("h", "handled", time.Millisecond)
		m.RecordHandlerError("h", ErrorCategoryOther)
		m.Reset()
	})
	assert.Nil(t, m.BotStats("b"))
	assert.Empty(t, m.Snapshot().Bots)
}

func TestDispatchMetricsRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	// A second instance on the same registry reuses the existing collectors.
	other := NewDispatchMetrics(reg)
	assert.NoError(t, other.Register())
}

func TestDispatchMetricsFrames(t *testing.T) {
	m := NewDispatchMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.RecordFrame("bot-a", FrameDecoded)
	m.RecordFrame("bot-a", FrameIgnored)
	m.RecordFrame("bot-a", FrameDecodeFailure)
	m.RecordFrame("bot-a", FrameResponse)
	m.RecordDropped("bot-a")
	m.SetInboxDepth("bot-a", 7)

	stats := m.BotStats("bot-a")
	require.NotNil(t, stats)
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(1), stats.Ignored)
	assert.Equal(t, uint64(1), stats.Responses)
	assert.Equal(t, uint64(1), stats.DecodeFailures)
	assert.Equal(t, uint64(1), stats.Dropped)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("bot-a", FrameIgnored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDroppedTotal.WithLabelValues("bot-a")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.inboxDepth.WithLabelValues("bot-a")))
}

func TestDispatchMetricsDispatchOutcomes(t *testing.T) {
	m := NewDispatchMetrics(prometheus.NewRegistry())

	m.RecordDispatch("bot-a", "message", Report{Handled: true})
	m.RecordDispatch("bot-a", "message", Report{Errors: []error{errors.New("x"), errors.New("y")}})
	m.RecordDispatch("bot-a", "notice", Report{Aborted: true})
	m.RecordDispatch("bot-b", "message", Report{Handled: true})

	a := m.BotStats("bot-a")
	require.NotNil(t, a)
	assert.Equal(t, uint64(3), a.Dispatched)
	assert.Equal(t, uint64(1), a.Handled)
	assert.Equal(t, uint64(1), a.Unhandled)
	assert.Equal(t, uint64(1), a.Aborted)
	assert.Equal(t, uint64(2), a.HandlerErrors)
	assert.False(t, a.LastEventAt.IsZero())

	snap := m.Snapshot()
	assert.Equal(t, uint64(4), snap.TotalDispatched)
	assert.Equal(t, uint64(2), snap.TotalHandled)
	assert.Equal(t, uint64(1), snap.TotalUnhandled)
	assert.Len(t, snap.Bots, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("bot-a", "message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.abortedTotal.WithLabelValues("bot-a")))
}

func TestDispatchMetricsBotStatsReturnsCopy(t *testing.T) {
	m := NewDispatchMetrics(prometheus.NewRegistry())
	m.RecordDispatch("bot-a", "message", Report{Handled: true})

	stats := m.BotStats("bot-a")
	stats.Handled = 99
	assert.Equal(t, uint64(1), m.BotStats("bot-a").Handled)
}

func TestDispatchMetricsHandlerSeries(t *testing.T) {
	m := NewDispatchMetrics(prometheus.NewRegistry())
	m.RecordInvocation("echo", "handled", 5*time.Millisecond)
	m.RecordInvocation("echo", "handled", 5*time.Millisecond)
	m.RecordHandlerError("echo", ErrorCategoryTimeout)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invocationsTotal.WithLabelValues("echo", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerErrors.WithLabelValues("echo", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.handlerDuration))
}

func TestDispatchMetricsReset(t *testing.T) {
	m := NewDispatchMetrics(prometheus.NewRegistry())
	m.RecordDispatch("bot-a", "message", Report{Handled: true})
	m.RecordInvocation("echo", "handled", time.Millisecond)

	m.Reset()

	assert.Nil(t, m.BotStats("bot-a"))
	assert.Equal(t, 0, testutil.CollectAndCount(m.invocationsTotal))
}
