// Package onebot is the OneBot v11 codec. Inbound frames are JSON objects
// discriminated by post_type; outbound actions are {"action","params","echo"}
// objects. Importing the package registers it as the "onebot" adapter.
package onebot

import (
	"fmt"

	"github.com/drblury/botflow/adapter"
	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
)

// AdapterName is the name used to register this adapter.
const AdapterName = "onebot"

func init() {
	adapter.Register(AdapterName, func() (adapter.Adapter, error) { return New(), nil })
}

// Adapter implements adapter.Adapter, adapter.FrameDecoder and
// adapter.Responder.
type Adapter struct{}

// New returns a OneBot v11 adapter.
func New() *Adapter { return &Adapter{} }

func (*Adapter) Name() string { return AdapterName }

func (a *Adapter) Decode(frame []byte) (event.Event, bool) {
	ev, err := a.DecodeFrame(frame)
	return ev, err == nil
}

// DecodeFrame returns adapter.ErrIgnoredFrame for meta events and action
// responses, and a decode error for frames that claim to be events but do
// not parse.
func (*Adapter) DecodeFrame(frame []byte) (event.Event, error) {
	postType, ok := jsoncodec.PeekString(frame, "post_type")
	if !ok {
		if jsoncodec.Valid(frame) {
			return nil, adapter.ErrIgnoredFrame
		}
		return nil, fmt.Errorf("onebot: frame is not a JSON object")
	}

	var ev event.Event
	switch postType {
	case "message", "message_sent":
		ev = &MessageEvent{}
	case "notice":
		ev = &NoticeEvent{}
	case "request":
		ev = &RequestEvent{}
	case "meta_event":
		return nil, adapter.ErrIgnoredFrame
	default:
		return nil, fmt.Errorf("onebot: unknown post_type %q", postType)
	}

	if err := jsoncodec.Unmarshal(frame, ev); err != nil {
		return nil, fmt.Errorf("onebot: decode %s event: %w", postType, err)
	}
	attachRaw(ev, frame)
	return ev, nil
}

func attachRaw(ev event.Event, frame []byte) {
	raw := append([]byte(nil), frame...)
	switch e := ev.(type) {
	case *MessageEvent:
		e.raw = raw
	case *NoticeEvent:
		e.raw = raw
	case *RequestEvent:
		e.raw = raw
	}
}

func (*Adapter) Encode(action event.Action) ([]byte, error) {
	if action.Name == "" {
		return nil, fmt.Errorf("onebot: action name is required")
	}
	return jsoncodec.Marshal(action)
}

// APIError is a failed action response.
type APIError struct {
	Retcode int64
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("onebot: action failed: status %s, retcode %d", e.Status, e.Retcode)
	}
	return fmt.Sprintf("onebot: action failed: status %s, retcode %d: %s", e.Status, e.Retcode, e.Message)
}

type response struct {
	Status  string               `json:"status"`
	Retcode int64                `json:"retcode"`
	Data    jsoncodec.RawMessage `json:"data"`
	Echo    jsoncodec.RawMessage `json:"echo"`
	Message string               `json:"message"`
	Msg     string               `json:"msg"`
	Wording string               `json:"wording"`
}

// DecodeResponse recognizes {"status","retcode","data","echo"} frames. Any
// status other than ok or async, or a non-zero retcode, is an *APIError.
func (*Adapter) DecodeResponse(frame []byte) (adapter.Response, bool) {
	if _, ok := jsoncodec.PeekString(frame, "post_type"); ok {
		return adapter.Response{}, false
	}
	status, ok := jsoncodec.PeekString(frame, "status")
	if !ok {
		return adapter.Response{}, false
	}

	var r response
	if err := jsoncodec.Unmarshal(frame, &r); err != nil {
		return adapter.Response{}, false
	}
	out := adapter.Response{Echo: echoString(r.Echo), Data: r.Data}
	if (status != "ok" && status != "async") || r.Retcode != 0 {
		msg := r.Wording
		if msg == "" {
			msg = r.Message
		}
		if msg == "" {
			msg = r.Msg
		}
		out.Err = &APIError{Retcode: r.Retcode, Status: status, Message: msg}
	}
	return out, true
}

// echoString returns a string echo unquoted and any other JSON value verbatim.
func echoString(raw jsoncodec.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := jsoncodec.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var _ adapter.Responder = (*Adapter)(nil)
