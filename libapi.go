package botflow

import (
	"context"

	"github.com/drblury/botflow/adapter"
	runtimepkg "github.com/drblury/botflow/internal/runtime"
	"github.com/drblury/botflow/internal/runtime/backoff"
	configpkg "github.com/drblury/botflow/internal/runtime/config"
	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
	handlerpkg "github.com/drblury/botflow/internal/runtime/handlers"
	idspkg "github.com/drblury/botflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/botflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/botflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/botflow/internal/runtime/transport"
	"github.com/drblury/botflow/transport"
)

type (
	Config          = configpkg.Config
	GlobalConfig    = configpkg.GlobalConfig
	BotConfig       = configpkg.BotConfig
	TransportConfig = configpkg.TransportConfig
	RetryConfig     = configpkg.RetryConfig
	RetryLimit      = configpkg.RetryLimit
	StatusConfig    = configpkg.StatusConfig
	RetryPolicy     = backoff.Policy

	Runtime      = runtimepkg.Runtime
	Dependencies = runtimepkg.Dependencies
	Bot          = runtimepkg.Bot
	BotStatus    = runtimepkg.BotStatus
	HealthReport = runtimepkg.HealthReport

	Event       = event.Event
	EventType   = event.Type
	Action      = event.Action
	PlainTexter = event.PlainTexter
	RawProvider = event.RawProvider

	Handler       = handlerpkg.Handler
	CheckFunc     = handlerpkg.CheckFunc
	HandleFunc    = handlerpkg.HandleFunc
	Context       = handlerpkg.Context
	Outcome       = handlerpkg.Outcome
	OutcomeKind   = handlerpkg.OutcomeKind
	Services      = handlerpkg.Services
	ActionSink    = handlerpkg.ActionSink
	ActionCaller  = handlerpkg.ActionCaller
	FromContext   = handlerpkg.FromContext
	Command       = handlerpkg.Command
	Text          = handlerpkg.Text
	CorrelationID = handlerpkg.CorrelationID
	SessionID     = handlerpkg.SessionID
	BotID         = handlerpkg.BotID

	HandlerRegistry   = runtimepkg.HandlerRegistry
	Dispatcher        = runtimepkg.Dispatcher
	DispatcherOptions = runtimepkg.DispatcherOptions
	Report            = runtimepkg.Report
	HandlerResult     = runtimepkg.HandlerResult

	DispatchHooks = runtimepkg.DispatchHooks
	DispatchInfo  = runtimepkg.DispatchInfo
	HandlerRun    = runtimepkg.HandlerRun

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	HandlerInfo     = runtimepkg.HandlerInfo
	HandlerStats    = runtimepkg.HandlerStats
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	DispatchMetrics         = runtimepkg.DispatchMetrics
	BotDispatchStats        = runtimepkg.BotDispatchStats
	DispatchMetricsSnapshot = runtimepkg.DispatchMetricsSnapshot
	TransportMetrics        = transportpkg.Metrics

	ConnectionState  = transportpkg.State
	ConnectionStatus = transportpkg.Status
	SessionInfo      = transportpkg.SessionInfo

	Adapter         = adapter.Adapter
	AdapterRegistry = adapter.Registry
	Responder       = adapter.Responder
	ActionResponse  = adapter.Response

	Frame                 = transport.Frame
	Conn                  = transport.Conn
	Requester             = transport.Requester
	Dialer                = transport.Dialer
	Listener              = transport.Listener
	Session               = transport.Session
	Endpoint              = transport.Endpoint
	TransportBuilder      = transport.Builder
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ExtractionError       = errspkg.ExtractionError
	HandlerError          = errspkg.HandlerError
	TimeoutError          = errspkg.TimeoutError
	PanicError            = errspkg.PanicError
	TransportError        = errspkg.TransportError
	TransportErrorKind    = errspkg.TransportErrorKind
	RetriesExhaustedError = errspkg.RetriesExhaustedError
	ConfigError           = errspkg.ConfigError
)

var (
	NewRuntime         = runtimepkg.NewRuntime
	NewHandlerRegistry = runtimepkg.NewHandlerRegistry
	NewDispatcher      = runtimepkg.NewDispatcher
	NewDispatchMetrics = runtimepkg.NewDispatchMetrics

	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	FindConfig     = configpkg.Find
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig
	Retries        = configpkg.Retries
	Unbounded      = configpkg.UnboundedRetries

	NewHandler = handlerpkg.New
	NewContext = handlerpkg.NewContext
	Handled    = handlerpkg.Handled
	Continue   = handlerpkg.Continue
	Errored    = handlerpkg.Errored

	Always              = handlerpkg.Always
	OnType              = handlerpkg.OnType
	OnName              = handlerpkg.OnName
	OnCommand           = handlerpkg.OnCommand
	OnCommandWithPrefix = handlerpkg.OnCommandWithPrefix
	All                 = handlerpkg.All
	AnyOf               = handlerpkg.AnyOf
	Not                 = handlerpkg.Not
	ParseCommand        = handlerpkg.ParseCommand

	NewServices     = handlerpkg.NewServices
	NewAction       = event.NewAction
	PlainText       = event.PlainText
	EventTypeName   = event.TypeName
	DecodeFrame     = adapter.DecodeFrame
	ErrIgnoredFrame = adapter.ErrIgnoredFrame

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogFramesMiddleware     = runtimepkg.LogFramesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	FrameMetricsMiddleware  = runtimepkg.FrameMetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DefaultAdapterRegistry   = adapter.DefaultRegistry
	RegisterAdapter          = adapter.Register
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired = errspkg.ErrHandlerNameRequired
	ErrDuplicateHandler    = errspkg.ErrDuplicateHandler
	ErrRegistrySealed      = errspkg.ErrRegistrySealed
	ErrRuntimeStarted      = errspkg.ErrRuntimeStarted
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrDispatchTimeout     = errspkg.ErrDispatchTimeout
	ErrHandlerPanicked     = errspkg.ErrHandlerPanicked
	ErrExtraction          = errspkg.ErrExtraction
	ErrContextReleased     = errspkg.ErrContextReleased
	ErrCallUnsupported     = errspkg.ErrCallUnsupported
	ErrRetriesExhausted    = errspkg.ErrRetriesExhausted
	ErrNotConnected        = errspkg.ErrNotConnected
	ErrSessionNotFound     = errspkg.ErrSessionNotFound
	ErrSendUnsupported     = errspkg.ErrSendUnsupported
	ErrTransportClosed     = errspkg.ErrTransportClosed
	ErrNoRequestReply      = errspkg.ErrNoRequestReply
	ErrUnknownAdapter      = errspkg.ErrUnknownAdapter
	ErrUnknownTransport    = errspkg.ErrUnknownTransport
	ErrInvalidRetryPolicy  = errspkg.ErrInvalidRetryPolicy
	ErrInvalidConfig       = errspkg.ErrInvalidConfig

	NewSlogLogger        = loggingpkg.NewSlogLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	DiscardLogger        = loggingpkg.Discard

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID
)

const (
	EventTypeMessage = event.TypeMessage
	EventTypeNotice  = event.TypeNotice
	EventTypeRequest = event.TypeRequest
	EventTypeMeta    = event.TypeMeta
	EventTypeOther   = event.TypeOther

	OutcomeContinue = handlerpkg.OutcomeContinue
	OutcomeHandled  = handlerpkg.OutcomeHandled
	OutcomeErrored  = handlerpkg.OutcomeErrored

	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyBotID         = metadatapkg.KeyBotID
	MetadataKeySessionID     = metadatapkg.KeySessionID
	MetadataKeyTransport     = metadatapkg.KeyTransport
	MetadataKeyAdapter       = metadatapkg.KeyAdapter
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryExtraction = runtimepkg.ErrorCategoryExtraction
	ErrorCategoryTimeout    = runtimepkg.ErrorCategoryTimeout
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

// Connection states reported by Bot.State.
const (
	StateDisconnected = transportpkg.Disconnected
	StateConnecting   = transportpkg.Connecting
	StateConnected    = transportpkg.Connected
	StateReconnecting = transportpkg.Reconnecting
	StateClosed       = transportpkg.Closed
)

// EventOf extracts the dispatch context's event as an E.
type EventOf[E any] = handlerpkg.EventOf[E]

// State extracts a value registered with Runtime.Provide.
type State[T any] = handlerpkg.State[T]

// Is reports whether e's concrete type is T.
func Is[T any](e Event) bool { return event.Is[T](e) }

// As returns e as a T.
func As[T any](e Event) (T, bool) { return event.As[T](e) }

// Typed builds a handler that only sees events of type T.
func Typed[T any](name string, fn func(ctx context.Context, c *Context, ev T) Outcome) Handler {
	return handlerpkg.Typed(name, fn)
}

// OnEvent matches events whose concrete type is T.
func OnEvent[T any]() CheckFunc { return handlerpkg.OnEvent[T]() }

// Extract builds a T from the dispatch context.
func Extract[T any, PT interface {
	*T
	FromContext
}](c *Context) (T, error) {
	return handlerpkg.Extract[T, PT](c)
}

// Lookup returns the state value registered under T.
func Lookup[T any](s *Services) (T, bool) { return handlerpkg.Lookup[T](s) }
