/*
Package runtime provides the bot runtime behind botflow.

# Architecture Overview

A Runtime owns one shared handler chain and a set of bots built from the
configuration. Each bot pairs a protocol adapter with a connection manager.
Frames read by the manager are queued in a bounded inbox and processed by a
single worker, so events of one bot are dispatched strictly in receipt order.
Bots run independently; one bot exhausting its reconnect budget is marked
degraded and never stops the others.

# Package Structure

## Runtime (runtime.go, bot.go)

Runtime validates the configuration, registers the Prometheus collectors,
builds one Bot per enabled config entry and runs them in an errgroup next to
the optional status server. Bot wires:
  - the adapter that decodes frames and encodes actions
  - the transport manager (internal/runtime/transport)
  - the frame pipeline
  - the dispatcher

## Frame Pipeline (middleware.go)

Frames are wrapped in Watermill messages and pass through composable
middleware before being decoded and dispatched:
  - CorrelationID: stamps a correlation id that the dispatch context reuses
  - LogFrames: trace logging of raw payloads
  - Tracer: OpenTelemetry span around frame processing
  - FrameMetrics: inbox depth and pipeline failures
  - Recoverer: panic recovery

## Dispatch (registry.go, dispatcher.go, hooks.go)

HandlerRegistry holds the chain in registration order and is sealed when the
first bot starts. Dispatcher walks the chain for one event: handlers whose
Check matches are invoked until one reports Handled. Errored outcomes,
timeouts and panics are collected in the Report and never stop the chain.
DispatchHooks observe every step.

## Stats & Monitoring (models.go, resources.go, dispatch_metrics.go)

Per-handler statistics (latency percentiles, throughput, error categories,
resource samples) and per-bot dispatch counters backed by Prometheus.

## Status API (status.go)

Read-only HTTP API served with chi: health, bots, handlers and /metrics.

# Sub-packages

  - backoff/: reconnect delay schedule
  - config/: YAML configuration with env interpolation and validation
  - errors/: sentinel errors and error types
  - event/: the platform-neutral event and action model
  - handlers/: dispatch context, handler building and extractors
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: frame metadata utilities
  - transport/: the connection manager state machine and its metrics

# Usage Example

	conf, err := botflow.LoadConfig("botflow.yaml")
	if err != nil {
		return err
	}

	rt, err := botflow.NewRuntime(conf, logger, botflow.Dependencies{})
	if err != nil {
		return err
	}

	rt.MustRegisterHandler(botflow.Typed("echo",
		func(ctx context.Context, c *botflow.Context, ev *onebot.MessageEvent) botflow.Outcome {
			if err := c.Send(ctx, onebot.ReplyText(ev, ev.PlainText())); err != nil {
				return botflow.Errored(err)
			}
			return botflow.Handled()
		}))

	return rt.Start(ctx)
*/
package runtime
