package model

import (
	"time"
)

// EventType represents the type of inquiry event.
type EventType string

const (
	EventTypeCreated       EventType = "created"
	EventTypeMessageSent   EventType = "message_sent"
	EventTypeStatusChanged EventType = "status_changed"
	EventTypeRead          EventType = "read"
)

// InquiryEvent records a mutation of an inquiry on the backend event stream.
type InquiryEvent struct {
	ID        string         `json:"id"`
	InquiryID string         `json:"inquiry_id"`
	Type      EventType      `json:"type"`
	ActorID   string         `json:"actor_id"`
	ActorRole Role           `json:"actor_role"`
	From      Status         `json:"from,omitempty"`
	To        Status         `json:"to,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Sequence  uint64         `json:"sequence,omitempty"`
}
