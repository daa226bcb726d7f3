// Package services implements the engines behind the HTTP and WebSocket
// surfaces: conversations, messages, delivery states, reactions, polls,
// notifications, and the E2EE key plane.
package services

import "github.com/parleyhq/parley/protocol"

// Broadcaster fans events out over the WebSocket plane. Implementations must
// not block; failures are the implementation's to log. Engines call it only
// after their transaction commits.
type Broadcaster interface {
	ToConversation(conversationID string, event protocol.EventType, data any)
	ToUser(userID string, event protocol.EventType, data any)
}

// NopBroadcaster drops every event. Used in tests and in tools that run the
// engines without a WebSocket plane.
type NopBroadcaster struct{}

func (NopBroadcaster) ToConversation(string, protocol.EventType, any) {}
func (NopBroadcaster) ToUser(string, protocol.EventType, any)        {}
