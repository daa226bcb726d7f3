package otel

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys for Parley services.
const (
	AttrUserID         = "user.id"
	AttrSessionID      = "session.id"
	AttrRequestID      = "request.id"
	AttrConversationID = "conversation.id"
	AttrMessageID      = "message.id"
	AttrPollID         = "poll.id"
	AttrObjectKey      = "file.object_key"
	AttrWSMessageType  = "ws.message_type"
	AttrWSDirection    = "ws.direction"
)

func UserID(id string) attribute.KeyValue         { return attribute.String(AttrUserID, id) }
func SessionID(id string) attribute.KeyValue      { return attribute.String(AttrSessionID, id) }
func RequestID(id string) attribute.KeyValue      { return attribute.String(AttrRequestID, id) }
func ConversationID(id string) attribute.KeyValue { return attribute.String(AttrConversationID, id) }
func MessageID(id string) attribute.KeyValue      { return attribute.String(AttrMessageID, id) }
func PollID(id string) attribute.KeyValue         { return attribute.String(AttrPollID, id) }
func ObjectKey(key string) attribute.KeyValue     { return attribute.String(AttrObjectKey, key) }

func WSMessageType(t string) attribute.KeyValue { return attribute.String(AttrWSMessageType, t) }
func WSDirection(dir string) attribute.KeyValue { return attribute.String(AttrWSDirection, dir) }
