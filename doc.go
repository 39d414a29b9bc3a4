// Package botflow is a chat-bot framework core. It connects any number of bot
// accounts to chat platforms through protocol adapters (OneBot v11 ships in
// adapter/onebot) over one of four wire shapes, decodes inbound frames into
// events and dispatches them through a single ordered chain of handlers.
//
// A minimal setup loads a botflow.yaml with LoadConfig, creates a Runtime,
// registers handlers and calls Start:
//
//	rt, err := botflow.NewRuntime(conf, logger, botflow.Dependencies{})
//	rt.MustRegisterHandler(botflow.Typed("echo", echo))
//	err = rt.Start(ctx)
//
// # Transports
//
// Each bot uses one transport shape, registered by importing
// transport/transports or an individual package:
//   - ws-client: dials a WebSocket endpoint and reconnects with backoff
//   - ws-server: accepts WebSocket peers, one session per connection
//   - http-client: polls an HTTP endpoint and posts actions to it
//   - http-server: receives webhook POSTs
//
// # Handlers
//
// Handlers pair a cheap Check predicate with a Handle body that reports an
// Outcome. The first Handled outcome ends the dispatch; Errored outcomes,
// timeouts and panics are recorded in the dispatch Report and the chain
// carries on. Extractors such as Text, Command, EventOf and State pull typed
// values out of the dispatch Context.
//
// # Observability
//
// Frames pass through a Watermill middleware pipeline for correlation ids,
// logging, tracing, metrics and panic recovery. DispatchHooks observe every
// handler invocation. The optional status server exposes health, bot and
// handler state plus Prometheus metrics.
package botflow
