// Package event defines the type-erased inbound event model. Concrete events
// are ordinary Go values supplied by adapters; the runtime never needs a closed
// list of them. Is and As are the only ways to recover a concrete shape.
package event

import "fmt"

// Type is the coarse category of an inbound occurrence.
type Type string

const (
	TypeMessage Type = "message"
	TypeNotice  Type = "notice"
	TypeRequest Type = "request"
	TypeMeta    Type = "meta"
	TypeOther   Type = "other"
)

func (t Type) String() string { return string(t) }

// Event is one inbound occurrence from a chat platform. Implementations must
// be immutable once handed to the runtime.
type Event interface {
	// Name is a dotted identifier such as "message.group".
	Name() string
	// Platform names the chat platform or protocol, e.g. "onebot".
	Platform() string
	Type() Type
	// BotID identifies the account that received the event, when the
	// protocol reports one.
	BotID() string
}

// PlainTexter is implemented by events that carry user-visible text.
type PlainTexter interface {
	PlainText() string
}

// RawProvider is implemented by events that keep their original frame.
type RawProvider interface {
	Raw() []byte
}

// Is reports whether e holds a T. It agrees with As for every T.
func Is[T any](e Event) bool {
	_, ok := As[T](e)
	return ok
}

// As returns e as a T when it holds one.
func As[T any](e Event) (T, bool) {
	if e == nil {
		var zero T
		return zero, false
	}
	t, ok := any(e).(T)
	return t, ok
}

// TypeName returns a printable identity for e, used in extraction errors.
func TypeName(e Event) string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", e)
}

// PlainText returns the text carried by e, or "" when it has none.
func PlainText(e Event) string {
	if pt, ok := As[PlainTexter](e); ok {
		return pt.PlainText()
	}
	return ""
}
