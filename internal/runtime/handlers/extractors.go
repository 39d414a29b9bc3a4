package handlers

import (
	"errors"
	"reflect"
	"strings"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
)

// DefaultCommandPrefix starts a command in message text.
const DefaultCommandPrefix = "/"

// FromContext is implemented by pointer receivers of extractable types. It
// must only read the context.
type FromContext interface {
	FromContext(c *Context) error
}

// Extract builds a T from c. Failures are *errors.ExtractionError and are
// local to the calling handler:
//
//	msg, err := handlers.Extract[handlers.EventOf[*onebot.MessageEvent]](c)
//	if err != nil {
//		return handlers.Continue()
//	}
func Extract[T any, PT interface {
	*T
	FromContext
}](c *Context) (T, error) {
	var v T
	if c == nil {
		return v, &errspkg.ExtractionError{Extractor: typeName[T](), Err: errors.New("nil context")}
	}
	if err := PT(&v).FromContext(c); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// EventOf extracts the context's event as an E.
type EventOf[E any] struct {
	Event E
}

func (e *EventOf[E]) FromContext(c *Context) error {
	ev, ok := event.As[E](c.Event())
	if !ok {
		return &errspkg.ExtractionError{
			Extractor: "EventOf",
			Expected:  typeName[E](),
			Got:       event.TypeName(c.Event()),
		}
	}
	e.Event = ev
	return nil
}

// BotID extracts the id of the bot that received the event.
type BotID string

func (b *BotID) FromContext(c *Context) error {
	if c.BotID() == "" {
		return &errspkg.ExtractionError{Extractor: "BotID", Err: errors.New("context has no bot id")}
	}
	*b = BotID(c.BotID())
	return nil
}

// Text extracts the plain text of events that carry any.
type Text string

func (t *Text) FromContext(c *Context) error {
	pt, ok := event.As[event.PlainTexter](c.Event())
	if !ok {
		return &errspkg.ExtractionError{
			Extractor: "Text",
			Expected:  "event.PlainTexter",
			Got:       event.TypeName(c.Event()),
		}
	}
	*t = Text(pt.PlainText())
	return nil
}

// CorrelationID extracts the dispatch correlation id.
type CorrelationID string

func (id *CorrelationID) FromContext(c *Context) error {
	*id = CorrelationID(c.CorrelationID())
	return nil
}

// SessionID extracts the transport session that delivered the event. Only
// server transports assign one.
type SessionID string

func (id *SessionID) FromContext(c *Context) error {
	s := c.SessionID()
	if s == "" {
		return &errspkg.ExtractionError{Extractor: "SessionID", Err: errors.New("event did not arrive on a session")}
	}
	*id = SessionID(s)
	return nil
}

// Command is a parsed "/name arg1 arg2" invocation.
type Command struct {
	Name string
	Args []string
	// Rest is the text after the command name with its spacing kept.
	Rest string
}

func (cmd *Command) FromContext(c *Context) error {
	parsed, ok := ParseCommand(c.PlainText(), DefaultCommandPrefix)
	if !ok {
		return &errspkg.ExtractionError{Extractor: "Command", Err: errors.New("text is not a command")}
	}
	*cmd = parsed
	return nil
}

// Arg returns the i-th argument or "".
func (cmd Command) Arg(i int) string {
	if i < 0 || i >= len(cmd.Args) {
		return ""
	}
	return cmd.Args[i]
}

// ParseCommand splits text into a command when it starts with prefix.
func ParseCommand(text, prefix string) (Command, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Command{}, false
	}
	body := strings.TrimPrefix(text, prefix)
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Command{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(body, fields[0]))
	return Command{Name: fields[0], Args: fields[1:], Rest: rest}, true
}

// State extracts a shared value registered with the runtime.
type State[T any] struct {
	Value T
}

func (s *State[T]) FromContext(c *Context) error {
	v, ok := Lookup[T](c.Services())
	if !ok {
		return &errspkg.ExtractionError{
			Extractor: "State",
			Expected:  typeName[T](),
			Err:       errors.New("no such state registered"),
		}
	}
	s.Value = v
	return nil
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
