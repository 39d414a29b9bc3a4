package handlers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/event"
	metadatapkg "github.com/drblury/botflow/internal/runtime/metadata"
)

func TestExtractEventOf(t *testing.T) {
	msg := &chatMessage{text: "hi", userID: 9}
	c := newTestContext(msg)

	got, err := Extract[EventOf[*chatMessage]](c)
	require.NoError(t, err)
	assert.Same(t, msg, got.Event)

	texter, err := Extract[EventOf[event.PlainTexter]](c)
	require.NoError(t, err)
	assert.Equal(t, "hi", texter.Event.PlainText())
}

func TestExtractEventOfMismatch(t *testing.T) {
	c := newTestContext(memberJoined{groupID: 1})

	_, err := Extract[EventOf[*chatMessage]](c)
	require.Error(t, err)

	var ee *errspkg.ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "EventOf", ee.Extractor)
	assert.Equal(t, "*handlers.chatMessage", ee.Expected)
	assert.Equal(t, "handlers.memberJoined", ee.Got)
	assert.True(t, errors.Is(err, errspkg.ErrExtraction))
}

func TestExtractEventOfAgreesWithIs(t *testing.T) {
	events := []event.Event{&chatMessage{}, memberJoined{}, nil}
	for _, ev := range events {
		c := newTestContext(ev)
		_, err := Extract[EventOf[*chatMessage]](c)
		assert.Equal(t, event.Is[*chatMessage](ev), err == nil)
		_, err = Extract[EventOf[memberJoined]](c)
		assert.Equal(t, event.Is[memberJoined](ev), err == nil)
	}
}

func TestExtractBotIDAndText(t *testing.T) {
	c := newTestContext(&chatMessage{text: "hello"})

	id, err := Extract[BotID](c)
	require.NoError(t, err)
	assert.Equal(t, BotID("qq-main"), id)

	text, err := Extract[Text](c)
	require.NoError(t, err)
	assert.Equal(t, Text("hello"), text)

	_, err = Extract[Text](newTestContext(memberJoined{}))
	assert.ErrorIs(t, err, errspkg.ErrExtraction)

	_, err = Extract[BotID](NewContext(memberJoined{}, ""))
	assert.ErrorIs(t, err, errspkg.ErrExtraction)
}

func TestExtractCommand(t *testing.T) {
	c := newTestContext(&chatMessage{text: "/echo  hello   world"})

	cmd, err := Extract[Command](c)
	require.NoError(t, err)
	assert.Equal(t, "echo", cmd.Name)
	assert.Equal(t, []string{"hello", "world"}, cmd.Args)
	assert.Equal(t, "hello   world", cmd.Rest)
	assert.Equal(t, "world", cmd.Arg(1))
	assert.Equal(t, "", cmd.Arg(5))

	_, err = Extract[Command](newTestContext(&chatMessage{text: "echo hello"}))
	assert.ErrorIs(t, err, errspkg.ErrExtraction)
	_, err = Extract[Command](newTestContext(&chatMessage{text: "/"}))
	assert.ErrorIs(t, err, errspkg.ErrExtraction)
}

func TestExtractSessionAndCorrelation(t *testing.T) {
	c := newTestContext(memberJoined{},
		WithCorrelationID("corr"),
		WithMetadata(metadatapkg.New(metadatapkg.KeySessionID, "sess")))

	sid, err := Extract[SessionID](c)
	require.NoError(t, err)
	assert.Equal(t, SessionID("sess"), sid)

	cid, err := Extract[CorrelationID](c)
	require.NoError(t, err)
	assert.Equal(t, CorrelationID("corr"), cid)

	_, err = Extract[SessionID](newTestContext(memberJoined{}))
	assert.ErrorIs(t, err, errspkg.ErrExtraction)
}

func TestExtractState(t *testing.T) {
	type greeting struct{ text string }
	c := newTestContext(&chatMessage{}, WithServices(NewServices(nil, nil, greeting{text: "hey"})))

	st, err := Extract[State[greeting]](c)
	require.NoError(t, err)
	assert.Equal(t, "hey", st.Value.text)

	_, err = Extract[State[int]](c)
	var ee *errspkg.ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "int", ee.Expected)
}

func TestExtractIsPure(t *testing.T) {
	c := newTestContext(&chatMessage{text: "/ping"})
	first, err1 := Extract[Command](c)
	second, err2 := Extract[Command](c)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
	assert.Empty(t, c.Actions())
}

func TestExtractNilContext(t *testing.T) {
	_, err := Extract[BotID](nil)
	assert.ErrorIs(t, err, errspkg.ErrExtraction)
}
