// Package protocol defines the WebSocket wire format: a JSON envelope with a
// string event type and a type-specific payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

type Envelope struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Data           any       `json:"data,omitempty"`
}

func NewEnvelope(eventType EventType, conversationID string, data any) *Envelope {
	return &Envelope{
		Type:           eventType,
		ConversationID: conversationID,
		Data:           data,
	}
}

func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// DecodeData decodes the envelope payload into the given type.
func DecodeData[T any](e *Envelope) (*T, error) {
	if typed, ok := e.Data.(T); ok {
		return &typed, nil
	}

	// Re-encode and decode to convert map[string]any to struct
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("re-encode data: %w", err)
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode data to %T: %w", result, err)
	}
	return &result, nil
}
