package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/botflow/adapter"
	configpkg "github.com/drblury/botflow/internal/runtime/config"
	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	transportpkg "github.com/drblury/botflow/internal/runtime/transport"
	"github.com/drblury/botflow/transport"
)

// Dependencies holds the optional collaborators of a Runtime. Leave fields
// nil to use the package defaults.
type Dependencies struct {
	Adapters   *adapter.Registry
	Transports *transport.Registry
	// Hooks observe every dispatch of every bot.
	Hooks                     DispatchHooks
	Middlewares               []MiddlewareRegistration // Appended after the default frame pipeline.
	DisableDefaultMiddlewares bool                     // Skips the default frame pipeline when true.
	// Registerer receives the dispatch and transport collectors. Gatherer
	// backs /metrics on the status API; it defaults to Registerer when that
	// is a *prometheus.Registry.
	Registerer      prometheus.Registerer
	Gatherer        prometheus.Gatherer
	ErrorClassifier ErrorClassifier
	Tracer          trace.Tracer
	// State values are visible to handlers through handlers.State[T].
	State []any
}

// Runtime owns the handler registry and every configured bot.
type Runtime struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	deps             Dependencies
	registry         *HandlerRegistry
	dispatchMetrics  *DispatchMetrics
	transportMetrics *transportpkg.Metrics
	started          atomic.Bool

	mu        sync.RWMutex
	state     []any
	bots      []*Bot
	botIndex  map[string]*Bot
	startedAt time.Time
	statusURL string
}

// NewRuntime validates conf and prepares a runtime. Register handlers on the
// returned Runtime before calling Start.
func NewRuntime(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Runtime, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if deps.Adapters == nil {
		deps.Adapters = adapter.DefaultRegistry
	}
	if deps.Transports == nil {
		deps.Transports = transport.DefaultRegistry
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		if g, ok := deps.Registerer.(prometheus.Gatherer); ok {
			deps.Gatherer = g
		} else {
			deps.Gatherer = prometheus.DefaultGatherer
		}
	}

	r := &Runtime{
		Conf:             conf,
		Logger:           log,
		deps:             deps,
		registry:         NewHandlerRegistry(),
		dispatchMetrics:  NewDispatchMetrics(deps.Registerer),
		transportMetrics: transportpkg.NewMetrics(deps.Registerer),
		state:            append([]any(nil), deps.State...),
		botIndex:         make(map[string]*Bot),
	}
	if err := r.dispatchMetrics.Register(); err != nil {
		return nil, fmt.Errorf("register dispatch metrics: %w", err)
	}
	if err := r.transportMetrics.Register(); err != nil {
		return nil, fmt.Errorf("register transport metrics: %w", err)
	}

	log.Info("Creating bot runtime", loggingpkg.LogFields{
		"bots":   len(conf.EnabledBots()),
		"config": conf.String(),
	})
	return r, nil
}

// RegisterHandler appends h to the shared handler chain. It fails once the
// runtime has started.
func (r *Runtime) RegisterHandler(h handlers.Handler) error {
	return r.registry.Register(h)
}

// MustRegisterHandler is RegisterHandler that panics on error.
func (r *Runtime) MustRegisterHandler(h handlers.Handler) {
	if err := r.RegisterHandler(h); err != nil {
		panic(fmt.Sprintf("register handler: %v", err))
	}
}

// Provide makes value available to handlers through handlers.State[T],
// keyed by its dynamic type.
func (r *Runtime) Provide(value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.Load() {
		return errspkg.ErrRuntimeStarted
	}
	r.state = append(r.state, value)
	return nil
}

// Start seals the handler registry, builds every enabled bot and runs them
// until ctx is done. A bot that exhausts its retries is marked degraded and
// the others keep running. Start returns nil on cancellation.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errspkg.ErrRuntimeStarted
	}
	r.registry.Seal()

	r.mu.Lock()
	services := handlers.NewServices(r.Logger, nil, r.state...)
	r.mu.Unlock()

	bots := make([]*Bot, 0, len(r.Conf.Bots))
	for _, bc := range r.Conf.EnabledBots() {
		bot, err := r.buildBot(bc, services)
		if err != nil {
			return err
		}
		bots = append(bots, bot)
	}

	r.mu.Lock()
	r.bots = bots
	for _, b := range bots {
		r.botIndex[b.ID()] = b
	}
	r.startedAt = time.Now()
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bots {
		g.Go(func() error { return b.Run(gctx) })
	}
	if r.Conf.Status.Enabled {
		g.Go(func() error { return r.serveStatus(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	r.Logger.Info("Bot runtime started", loggingpkg.LogFields{
		"bots":     len(bots),
		"handlers": r.registry.Len(),
	})
	err := g.Wait()
	r.Logger.Info("Bot runtime stopped", nil)
	return err
}

func (r *Runtime) buildBot(bc configpkg.BotConfig, services *handlers.Services) (*Bot, error) {
	a, err := r.deps.Adapters.Build(bc.Adapter)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", bc.ID, err)
	}
	endpoint, err := r.deps.Transports.Build(bc.Transport, loggingpkg.NewWatermillAdapter(r.Logger))
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", bc.ID, err)
	}
	policy, err := r.Conf.BotRetryPolicy(bc)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", bc.ID, err)
	}

	var middlewares []MiddlewareRegistration
	if !r.deps.DisableDefaultMiddlewares {
		middlewares = append(middlewares, DefaultMiddlewares()...)
	}
	middlewares = append(middlewares, r.deps.Middlewares...)

	return newBot(botParams{
		conf:            bc,
		adapter:         a,
		endpoint:        endpoint,
		policy:          policy,
		heartbeatGrace:  r.Conf.HeartbeatGrace(),
		inboxSize:       r.Conf.EventBufferSize(),
		shutdownTimeout: r.Conf.ShutdownTimeout(),
		registry:        r.registry,
		dispatch: DispatcherOptions{
			Timeout:    r.Conf.DispatchTimeout(),
			Services:   services,
			Hooks:      r.deps.Hooks,
			Classifier: r.deps.ErrorClassifier,
			Tracer:     r.deps.Tracer,
		},
		middlewares: middlewares,
		transport:   r.transportMetrics,
		metrics:     r.dispatchMetrics,
		logger:      r.Logger,
	})
}

// Bots returns the running bots in configuration order. It is empty until
// Start has built them.
func (r *Runtime) Bots() []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Bot(nil), r.bots...)
}

// Bot returns the bot with the given id.
func (r *Runtime) Bot(id string) (*Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.botIndex[id]
	return b, ok
}

// Status returns every bot's status sorted by id.
func (r *Runtime) Status() []BotStatus {
	bots := r.Bots()
	out := make([]BotStatus, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Handlers lists the handler chain with live stats.
func (r *Runtime) Handlers() []HandlerInfo {
	return r.registry.Handlers()
}

// DispatchMetrics exposes the runtime's dispatch counters.
func (r *Runtime) DispatchMetrics() *DispatchMetrics {
	return r.dispatchMetrics
}

// TransportMetrics exposes the runtime's connection counters.
func (r *Runtime) TransportMetrics() *transportpkg.Metrics {
	return r.transportMetrics
}
