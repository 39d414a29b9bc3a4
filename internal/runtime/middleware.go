package runtime

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	idspkg "github.com/drblury/botflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/botflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/botflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a frame middleware for one bot.
type MiddlewareBuilder func(*Bot) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware is added to a bot's frame
// pipeline. Exactly one of Middleware or Builder must be set.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard frame pipeline. The first entry is
// the outermost wrapper.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogFramesMiddleware(nil),
		TracerMiddleware(),
		FrameMetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware stamps a correlation id on frames that arrive
// without one. Dispatch contexts reuse it.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if middleware.MessageCorrelationID(msg) == "" {
			middleware.SetCorrelationID(idspkg.CreateULID(), msg)
		}
		return h(msg)
	}
}

// LogFramesMiddleware logs every inbound frame at trace level. A nil logger
// selects the bot's logger.
func LogFramesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_frames",
		Builder: func(b *Bot) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = b.log
			}
			if l == nil {
				return nil, errors.New("log frames middleware requires a logger")
			}
			return logFramesMiddleware(l), nil
		},
	}
}

func logFramesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Trace("Inbound frame", loggingpkg.LogFields{
				"frame_uuid": msg.UUID,
				"payload":    string(msg.Payload),
				"metadata":   msg.Metadata,
			})
			return h(msg)
		}
	}
}

// TracerMiddleware wraps frame processing in an OpenTelemetry span. The
// dispatch span becomes its child.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(b *Bot) (message.HandlerMiddleware, error) {
			return tracerMiddleware(), nil
		},
	}
}

func tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "botflow.frame")
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("botflow.frame_uuid", msg.UUID),
				attribute.String("botflow.bot_id", msg.Metadata.Get(metadatapkg.KeyBotID)),
				attribute.String("botflow.session_id", msg.Metadata.Get(metadatapkg.KeySessionID)),
				attribute.Int("botflow.frame_bytes", len(msg.Payload)),
			)
			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// FrameMetricsMiddleware counts frames that failed anywhere in the pipeline
// and publishes the inbox depth seen when the frame was dequeued.
func FrameMetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "frame_metrics",
		Builder: func(b *Bot) (message.HandlerMiddleware, error) {
			if b.metrics == nil {
				return nil, nil
			}
			return frameMetricsMiddleware(b.id, b.metrics), nil
		},
	}
}

func frameMetricsMiddleware(botID string, metrics *DispatchMetrics) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if depth, err := strconv.Atoi(msg.Metadata.Get(metadatapkg.KeyQueueDepth)); err == nil {
				metrics.SetInboxDepth(botID, depth)
			}
			msgs, err := h(msg)
			if err != nil && !errors.Is(err, errDecodeFailure) {
				metrics.RecordFrame(botID, FramePipelineError)
			}
			return msgs, err
		}
	}
}

// RecovererMiddleware converts panics raised while decoding a frame into
// pipeline errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// buildPipeline resolves regs against b and wraps terminal so the first
// registration runs first.
func buildPipeline(b *Bot, regs []MiddlewareRegistration, terminal message.HandlerFunc) (message.HandlerFunc, error) {
	resolved := make([]message.HandlerMiddleware, 0, len(regs))
	for _, reg := range regs {
		mw, err := resolveMiddleware(b, reg)
		if err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("register middleware %s: %w", name, err)
		}
		if mw != nil {
			resolved = append(resolved, mw)
		}
	}

	h := terminal
	for i := len(resolved) - 1; i >= 0; i-- {
		h = resolved[i](h)
	}
	return h, nil
}

func resolveMiddleware(b *Bot, reg MiddlewareRegistration) (message.HandlerMiddleware, error) {
	switch {
	case reg.Middleware != nil:
		return reg.Middleware, nil
	case reg.Builder != nil:
		return reg.Builder(b)
	default:
		return nil, errors.New("middleware registration requires Middleware or Builder")
	}
}

// newFrameMessage wraps a frame payload in a watermill message carrying the
// frame metadata.
func newFrameMessage(payload []byte, md metadatapkg.Metadata, receivedAt time.Time) *message.Message {
	msg := message.NewMessage(idspkg.CreateULIDAt(receivedAt), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}
