package model

import (
	"strings"
	"time"
)

// TempIDPrefix marks client-generated ids of unconfirmed messages.
const TempIDPrefix = "temp-"

// IsTempID reports whether id was generated locally for an unconfirmed message.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Attachment is an already-uploaded file referenced by a message.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// InquiryMessage is one turn in an inquiry thread.
type InquiryMessage struct {
	// Identity
	ID        string `json:"id"`
	InquiryID string `json:"inquiry_id"`

	// Sender
	SenderID    string `json:"sender_id"`
	SenderRole  Role   `json:"sender_role"`
	SenderName  string `json:"sender_name,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`

	// Content
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`

	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// HasContent reports whether the message carries a body or at least one attachment.
func (m *InquiryMessage) HasContent() bool {
	return strings.TrimSpace(m.Body) != "" || len(m.Attachments) > 0
}

// SendMessageRequest is the request to append a message to an inquiry.
type SendMessageRequest struct {
	InquiryID   string       `json:"inquiry_id"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SenderName  string       `json:"sender_name,omitempty"`
	SenderEmail string       `json:"sender_email,omitempty"`
}

// ListMessagesResponse is the response for listing an inquiry's messages.
type ListMessagesResponse struct {
	Messages []InquiryMessage `json:"messages"`
}

// UnreadCountResponse is the response for an unread counter read.
type UnreadCountResponse struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}
