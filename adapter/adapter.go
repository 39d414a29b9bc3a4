// Package adapter defines the boundary between raw transport frames and the
// runtime's event model. Protocol codecs live in sub-packages and register
// themselves under the name used in a bot's adapter config key.
package adapter

import (
	"errors"

	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
)

// ErrIgnoredFrame marks frames that are valid protocol traffic but carry no
// event, such as heartbeats and action responses.
var ErrIgnoredFrame = errors.New("botflow: frame carries no event")

// Adapter converts frames to events and actions to frames. Both directions
// are pure.
type Adapter interface {
	Name() string
	// Decode returns false for acks, action responses and malformed frames.
	Decode(frame []byte) (event.Event, bool)
	Encode(action event.Action) ([]byte, error)
}

// FrameDecoder is implemented by adapters that can tell an ignorable frame
// (ErrIgnoredFrame) apart from a malformed one (any other error).
type FrameDecoder interface {
	DecodeFrame(frame []byte) (event.Event, error)
}

// DecodeFrame decodes through FrameDecoder when a supports it and falls back
// to Decode otherwise.
func DecodeFrame(a Adapter, frame []byte) (event.Event, error) {
	if fd, ok := a.(FrameDecoder); ok {
		return fd.DecodeFrame(frame)
	}
	ev, ok := a.Decode(frame)
	if !ok {
		return nil, ErrIgnoredFrame
	}
	return ev, nil
}

// Response is the platform's reply to one action call. Echo matches the echo
// the action was sent with; Err is set when the platform reported a failure.
type Response struct {
	Echo string
	Data jsoncodec.RawMessage
	Err  error
}

// Responder is implemented by adapters whose protocol answers actions. A bot
// can only Call actions when its adapter is a Responder.
type Responder interface {
	// DecodeResponse returns false when frame is not an action response.
	DecodeResponse(frame []byte) (Response, bool)
}
