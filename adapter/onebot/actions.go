package onebot

import "github.com/drblury/botflow/internal/runtime/event"

// SendPrivateMsg sends msg to a user.
func SendPrivateMsg(userID int64, msg Message) event.Action {
	return event.NewAction("send_private_msg", "user_id", userID, "message", msg)
}

// SendGroupMsg sends msg to a group.
func SendGroupMsg(groupID int64, msg Message) event.Action {
	return event.NewAction("send_group_msg", "group_id", groupID, "message", msg)
}

// ReplyTo answers e where it was received: in the group for group messages,
// privately otherwise.
func ReplyTo(e *MessageEvent, segs ...Segment) event.Action {
	msg := Message(segs)
	if e.IsGroup() {
		return SendGroupMsg(e.GroupID, msg)
	}
	return SendPrivateMsg(e.UserID, msg)
}

// ReplyText is ReplyTo with a single text segment.
func ReplyText(e *MessageEvent, text string) event.Action {
	return ReplyTo(e, Text(text))
}

// SetFriendAddRequest approves or rejects a friend request.
func SetFriendAddRequest(flag string, approve bool) event.Action {
	return event.NewAction("set_friend_add_request", "flag", flag, "approve", approve)
}

// DeleteMsg recalls a message.
func DeleteMsg(messageID int64) event.Action {
	return event.NewAction("delete_msg", "message_id", messageID)
}
