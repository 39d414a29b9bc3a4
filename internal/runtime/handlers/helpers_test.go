package handlers

import (
	"github.com/drblury/botflow/internal/runtime/event"
)

type chatMessage struct {
	text   string
	userID int64
}

func (m *chatMessage) Name() string      { return "message.private" }
func (m *chatMessage) Platform() string  { return "test" }
func (m *chatMessage) Type() event.Type  { return event.TypeMessage }
func (m *chatMessage) BotID() string     { return "10001" }
func (m *chatMessage) PlainText() string { return m.text }

type memberJoined struct{ groupID int64 }

func (memberJoined) Name() string     { return "notice.group_increase" }
func (memberJoined) Platform() string { return "test" }
func (memberJoined) Type() event.Type { return event.TypeNotice }
func (memberJoined) BotID() string    { return "10001" }

func newTestContext(ev event.Event, opts ...ContextOption) *Context {
	return NewContext(ev, "qq-main", opts...)
}
