package handlers

import (
	"context"
	"strings"

	"github.com/drblury/botflow/internal/runtime/event"
)

// Handler is one link in a bot's dispatch chain. Check must be cheap and must
// not block; Handle may block and should honour ctx, which carries the
// dispatch timeout.
type Handler interface {
	Name() string
	Check(c *Context) bool
	Handle(ctx context.Context, c *Context) Outcome
}

// CheckFunc is a handler predicate.
type CheckFunc func(c *Context) bool

// HandleFunc is a handler body.
type HandleFunc func(ctx context.Context, c *Context) Outcome

type funcHandler struct {
	name   string
	check  CheckFunc
	handle HandleFunc
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Check(c *Context) bool {
	if h.check == nil {
		return true
	}
	return h.check(c)
}

func (h *funcHandler) Handle(ctx context.Context, c *Context) Outcome {
	return h.handle(ctx, c)
}

// New builds a Handler from functions. A nil check matches every event.
func New(name string, check CheckFunc, handle HandleFunc) Handler {
	return &funcHandler{name: name, check: check, handle: handle}
}

// Typed builds a handler that only sees events holding a T and receives the
// downcast value directly.
func Typed[T any](name string, fn func(ctx context.Context, c *Context, ev T) Outcome) Handler {
	return New(name, OnEvent[T](), func(ctx context.Context, c *Context) Outcome {
		ev, ok := event.As[T](c.Event())
		if !ok {
			return Continue()
		}
		return fn(ctx, c, ev)
	})
}

// Always matches every event.
func Always() CheckFunc {
	return func(*Context) bool { return true }
}

// OnEvent matches events holding a T.
func OnEvent[T any]() CheckFunc {
	return func(c *Context) bool { return event.Is[T](c.Event()) }
}

// OnType matches events of the given category.
func OnType(t event.Type) CheckFunc {
	return func(c *Context) bool { return c.EventType() == t }
}

// OnName matches events whose Name equals name or starts with name followed
// by a dot, so "message" matches "message.group".
func OnName(name string) CheckFunc {
	return func(c *Context) bool {
		if c.Event() == nil {
			return false
		}
		n := c.Event().Name()
		return n == name || strings.HasPrefix(n, name+".")
	}
}

// OnCommand matches text events that invoke one of names with the default
// command prefix.
func OnCommand(names ...string) CheckFunc {
	return OnCommandWithPrefix(DefaultCommandPrefix, names...)
}

// OnCommandWithPrefix is OnCommand with a custom prefix.
func OnCommandWithPrefix(prefix string, names ...string) CheckFunc {
	return func(c *Context) bool {
		cmd, ok := ParseCommand(c.PlainText(), prefix)
		if !ok {
			return false
		}
		for _, n := range names {
			if strings.EqualFold(cmd.Name, n) {
				return true
			}
		}
		return false
	}
}

// All matches when every predicate matches.
func All(checks ...CheckFunc) CheckFunc {
	return func(c *Context) bool {
		for _, check := range checks {
			if !check(c) {
				return false
			}
		}
		return true
	}
}

// AnyOf matches when at least one predicate matches.
func AnyOf(checks ...CheckFunc) CheckFunc {
	return func(c *Context) bool {
		for _, check := range checks {
			if check(c) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(check CheckFunc) CheckFunc {
	return func(c *Context) bool { return !check(c) }
}
