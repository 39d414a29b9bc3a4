package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type textEvent struct {
	name string
	text string
}

func (e textEvent) Name() string      { return e.name }
func (e textEvent) Platform() string  { return "test" }
func (e textEvent) Type() Type        { return TypeMessage }
func (e textEvent) BotID() string     { return "10001" }
func (e textEvent) PlainText() string { return e.text }

type noticeEvent struct{ kind string }

func (e *noticeEvent) Name() string     { return "notice." + e.kind }
func (e *noticeEvent) Platform() string { return "test" }
func (e *noticeEvent) Type() Type       { return TypeNotice }
func (e *noticeEvent) BotID() string    { return "" }

type metaEvent struct{}

func (metaEvent) Name() string     { return "meta.lifecycle" }
func (metaEvent) Platform() string { return "test" }
func (metaEvent) Type() Type       { return TypeMeta }
func (metaEvent) BotID() string    { return "" }
func (metaEvent) Raw() []byte      { return []byte(`{}`) }

// checkAgreement asserts the Is/As contract for one candidate type.
func checkAgreement[T any](t *testing.T, e Event) {
	t.Helper()
	got, ok := As[T](e)
	if ok != Is[T](e) {
		t.Fatalf("Is and As disagree for %T on %s", got, TypeName(e))
	}
}

func TestIsAndAsAgreeForEveryCandidate(t *testing.T) {
	events := []Event{
		textEvent{name: "message.private", text: "/ping"},
		&noticeEvent{kind: "group_increase"},
		metaEvent{},
		nil,
	}

	for _, e := range events {
		checkAgreement[textEvent](t, e)
		checkAgreement[*textEvent](t, e)
		checkAgreement[*noticeEvent](t, e)
		checkAgreement[noticeEvent](t, e)
		checkAgreement[metaEvent](t, e)
		checkAgreement[PlainTexter](t, e)
		checkAgreement[RawProvider](t, e)
		checkAgreement[Event](t, e)
		checkAgreement[string](t, e)
	}
}

func TestAsReturnsConcreteValue(t *testing.T) {
	var e Event = textEvent{name: "message.group", text: "hello"}

	msg, ok := As[textEvent](e)
	assert.True(t, ok)
	assert.Equal(t, "hello", msg.text)

	_, ok = As[*noticeEvent](e)
	assert.False(t, ok)
	assert.False(t, Is[*textEvent](e), "value and pointer shapes are distinct")
}

func TestAsOnNilEvent(t *testing.T) {
	got, ok := As[textEvent](nil)
	assert.False(t, ok)
	assert.Equal(t, textEvent{}, got)
	assert.Equal(t, "<nil>", TypeName(nil))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "hi", PlainText(textEvent{text: "hi"}))
	assert.Equal(t, "", PlainText(&noticeEvent{}))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "*event.noticeEvent", TypeName(&noticeEvent{}))
}

func TestNewAction(t *testing.T) {
	a := NewAction("send_group_msg", "group_id", int64(42), "message", "pong").WithEcho("e-1")

	assert.Equal(t, "send_group_msg", a.Name)
	assert.Equal(t, int64(42), a.Params["group_id"])
	assert.Equal(t, "pong", a.Params["message"])
	assert.Equal(t, "e-1", a.Echo)
}
