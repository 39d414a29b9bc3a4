package onebot

import (
	"strconv"
	"strings"

	"github.com/drblury/botflow/internal/runtime/event"
	"github.com/drblury/botflow/internal/runtime/jsoncodec"
)

// Platform is the platform name reported by every OneBot event.
const Platform = "onebot"

// Header holds the fields shared by every OneBot v11 event.
type Header struct {
	Time     int64  `json:"time"`
	SelfID   int64  `json:"self_id"`
	PostType string `json:"post_type"`

	raw []byte
}

func (h *Header) Platform() string { return Platform }

// BotID is the receiving account's id, or "" when the frame did not carry one.
func (h *Header) BotID() string {
	if h.SelfID == 0 {
		return ""
	}
	return strconv.FormatInt(h.SelfID, 10)
}

// Raw returns the original frame.
func (h *Header) Raw() []byte { return h.raw }

// Segment is one unit of message content.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Text builds a plain text segment.
func Text(s string) Segment { return Segment{Type: "text", Data: map[string]any{"text": s}} }

// At builds a mention segment; "all" mentions everyone.
func At(qq string) Segment { return Segment{Type: "at", Data: map[string]any{"qq": qq}} }

// Image builds an image segment from a file path, URL or base64:// payload.
func Image(file string) Segment { return Segment{Type: "image", Data: map[string]any{"file": file}} }

// Reply builds a quote segment referring to messageID.
func Reply(messageID int64) Segment {
	return Segment{Type: "reply", Data: map[string]any{"id": strconv.FormatInt(messageID, 10)}}
}

// Message is a segment list. Implementations that post CQ-code strings are
// decoded as a single text segment.
type Message []Segment

func (m *Message) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = Message{Text(s)}
		return nil
	}
	var segs []Segment
	if err := jsoncodec.Unmarshal(data, &segs); err != nil {
		return err
	}
	*m = segs
	return nil
}

// PlainText concatenates the text segments.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, seg := range m {
		if seg.Type != "text" {
			continue
		}
		if s, ok := seg.Data["text"].(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// Sender describes the author of a message.
type Sender struct {
	UserID   int64  `json:"user_id,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Age      int    `json:"age,omitempty"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
}

// MessageEvent is a private or group chat message.
type MessageEvent struct {
	Header
	MessageType string  `json:"message_type"`
	SubType     string  `json:"sub_type"`
	MessageID   int64   `json:"message_id"`
	UserID      int64   `json:"user_id"`
	GroupID     int64   `json:"group_id,omitempty"`
	Message     Message `json:"message"`
	RawMessage  string  `json:"raw_message"`
	Font        int     `json:"font"`
	Sender      Sender  `json:"sender"`
}

func (e *MessageEvent) Name() string     { return "message." + e.MessageType }
func (e *MessageEvent) Type() event.Type { return event.TypeMessage }

// PlainText prefers the segment text and falls back to raw_message.
func (e *MessageEvent) PlainText() string {
	if text := e.Message.PlainText(); text != "" {
		return text
	}
	return e.RawMessage
}

func (e *MessageEvent) IsGroup() bool   { return e.MessageType == "group" }
func (e *MessageEvent) IsPrivate() bool { return e.MessageType == "private" }

// NoticeEvent covers group membership, recalls, pokes and the other notices.
// Fields not used by a notice type stay zero.
type NoticeEvent struct {
	Header
	NoticeType string `json:"notice_type"`
	SubType    string `json:"sub_type"`
	GroupID    int64  `json:"group_id,omitempty"`
	UserID     int64  `json:"user_id,omitempty"`
	OperatorID int64  `json:"operator_id,omitempty"`
	TargetID   int64  `json:"target_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
}

// Name is "notice.<notice_type>", with the sub type appended for notify
// notices, e.g. "notice.notify.poke".
func (e *NoticeEvent) Name() string {
	if e.NoticeType == "notify" && e.SubType != "" {
		return "notice.notify." + e.SubType
	}
	return "notice." + e.NoticeType
}

func (e *NoticeEvent) Type() event.Type { return event.TypeNotice }

// RequestEvent is a friend or group join request.
type RequestEvent struct {
	Header
	RequestType string `json:"request_type"`
	SubType     string `json:"sub_type,omitempty"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id,omitempty"`
	Comment     string `json:"comment"`
	Flag        string `json:"flag"`
}

func (e *RequestEvent) Name() string     { return "request." + e.RequestType }
func (e *RequestEvent) Type() event.Type { return event.TypeRequest }
