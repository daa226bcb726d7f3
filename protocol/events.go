package protocol

type EventType string

// Server -> client events.
const (
	EventMessageNew          EventType = "message:new"
	EventMessageEdited       EventType = "message:edited"
	EventMessageDeleted      EventType = "message:deleted"
	EventMessageStatus       EventType = "message:status"
	EventReactionAdded       EventType = "reaction:added"
	EventReactionRemoved     EventType = "reaction:removed"
	EventUserTyping          EventType = "user_typing"
	EventUserOnline          EventType = "user:online"
	EventUserOffline         EventType = "user:offline"
	EventConversationUpdated EventType = "conversation_updated"
	EventMemberAdded         EventType = "member_added"
	EventMemberRemoved       EventType = "member_removed"
	EventMemberLeft          EventType = "member_left"
	EventNewPoll             EventType = "new_poll"
	EventPollVote            EventType = "poll_vote"
	EventPollClosed          EventType = "poll_closed"
	EventSenderKey           EventType = "sender_key_distribution"
)

// Client -> server events.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
)

// JoinConversation subscribes the session to a conversation room.
type JoinConversation struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveConversation struct {
	ConversationID string `json:"conversation_id"`
}

type Typing struct {
	ConversationID string `json:"conversation_id"`
}

// UserTyping is broadcast to a room while a member is typing.
type UserTyping struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Presence announces a user coming online or going offline.
type Presence struct {
	UserID string `json:"user_id"`
}

// StatusUpdate carries a single delivery-state transition.
type StatusUpdate struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
}

// MessageDeleted announces a delete-for-everyone tombstone.
type MessageDeleted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// MemberChange announces membership mutations alongside the SYSTEM message.
type MemberChange struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	ActorID        string `json:"actor_id,omitempty"`
}

// SenderKeyDistribution relays a group sender key to one recipient.
type SenderKeyDistribution struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderKeyID    string `json:"sender_key_id"`
	PublicKey      string `json:"public_key"`
	ChainKey       string `json:"chain_key,omitempty"`
}
