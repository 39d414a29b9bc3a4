package errors

import (
	sterrors "errors"
	"fmt"
	"time"
)

var (
	ErrHandlerRequired     = sterrors.New("botflow: handler is required")
	ErrHandlerNameRequired = sterrors.New("botflow: handler name is required")
	ErrDuplicateHandler    = sterrors.New("botflow: handler name already registered")
	ErrRegistrySealed      = sterrors.New("botflow: handler registry is sealed")
	ErrRuntimeStarted      = sterrors.New("botflow: runtime already started")
	ErrConfigRequired      = sterrors.New("botflow: configuration is required")
	ErrLoggerRequired      = sterrors.New("botflow: logger is required")

	ErrDispatchTimeout = sterrors.New("botflow: handler timed out")
	ErrHandlerPanicked = sterrors.New("botflow: handler panicked")
	ErrExtraction      = sterrors.New("botflow: extraction failed")
	ErrContextReleased = sterrors.New("botflow: dispatch context is no longer writable")
	ErrCallUnsupported = sterrors.New("botflow: action calls are not supported")

	ErrRetriesExhausted = sterrors.New("botflow: reconnect retries exhausted")
	ErrNotConnected     = sterrors.New("botflow: transport is not connected")
	ErrSessionNotFound  = sterrors.New("botflow: session not found")
	ErrSendUnsupported  = sterrors.New("botflow: transport does not support sending")
	ErrTransportClosed  = sterrors.New("botflow: transport is closed")
	ErrNoRequestReply   = sterrors.New("botflow: transport has no request/response exchange")

	ErrUnknownAdapter   = sterrors.New("botflow: unknown adapter")
	ErrUnknownTransport = sterrors.New("botflow: unknown transport")

	ErrInvalidRetryPolicy = sterrors.New("botflow: invalid retry policy")
	ErrInvalidConfig      = sterrors.New("botflow: invalid configuration")
)

// ExtractionError reports that an extractor could not produce its value from a
// dispatch context. It is local to the handler that asked for it.
type ExtractionError struct {
	Extractor string
	Expected  string
	Got       string
	Err       error
}

func (e *ExtractionError) Error() string {
	msg := "botflow: extract " + e.Extractor
	if e.Expected != "" {
		msg += fmt.Sprintf(": expected %s", e.Expected)
		if e.Got != "" {
			msg += fmt.Sprintf(", got %s", e.Got)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// HandlerError wraps the cause a handler reported through an Errored outcome.
type HandlerError struct {
	Handler string
	Cause   error
}

func (e *HandlerError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("botflow: handler %q errored", e.Handler)
	}
	return fmt.Sprintf("botflow: handler %q errored: %v", e.Handler, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

// TimeoutError is reported when a handler does not finish within the dispatch
// timeout. It matches ErrDispatchTimeout.
type TimeoutError struct {
	Handler string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("botflow: handler %q exceeded dispatch timeout of %v", e.Handler, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrDispatchTimeout }

// PanicError carries the value recovered from a panicking handler or check.
type PanicError struct {
	Handler string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("botflow: handler %q panicked: %v", e.Handler, e.Value)
}

func (e *PanicError) Is(target error) bool { return target == ErrHandlerPanicked }

// TransportErrorKind classifies failures that drive the reconnect state machine.
type TransportErrorKind string

const (
	ConnectFailed         TransportErrorKind = "connect_failed"
	Disconnected          TransportErrorKind = "disconnected"
	ProtocolDecodeFailure TransportErrorKind = "protocol_decode_failure"
	HeartbeatTimeout      TransportErrorKind = "heartbeat_timeout"
)

// TransportError describes a connection-level failure for one bot.
type TransportError struct {
	Kind  TransportErrorKind
	BotID string
	Err   error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("botflow: transport %s", e.Kind)
	if e.BotID != "" {
		msg += fmt.Sprintf(" (bot %s)", e.BotID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches any TransportError carrying the same kind, so callers can test
// with errors.Is(err, &TransportError{Kind: HeartbeatTimeout}).
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// NewTransportError builds a TransportError of the given kind.
func NewTransportError(kind TransportErrorKind, botID string, err error) *TransportError {
	return &TransportError{Kind: kind, BotID: botID, Err: err}
}

// RetriesExhaustedError is terminal for one bot's transport.
type RetriesExhaustedError struct {
	BotID    string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	msg := fmt.Sprintf("botflow: bot %s gave up after %d reconnect attempts", e.BotID, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// ConfigError names the configuration field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "botflow: config: " + e.Reason
	}
	return fmt.Sprintf("botflow: config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// NewConfigError formats a ConfigError for field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
