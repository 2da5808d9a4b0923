package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an outbound message.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no automatic transition follows this status.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// MessageType is the payload kind of a message.
type MessageType string

const (
	TypeText MessageType = "text"
	TypeFile MessageType = "file"
)

// FileRef describes an attachment that was uploaded out of band.
type FileRef struct {
	Name        string `json:"name" cbor:"name"`
	URL         string `json:"url" cbor:"url"`
	ContentType string `json:"contentType,omitempty" cbor:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty" cbor:"size,omitempty"`
}

// Message is an outbound message tracked by the delivery queue.
type Message struct {
	ID             string      `json:"id" cbor:"id"`
	ConversationID string      `json:"conversationId" cbor:"conversationId"`
	ThreadID       string      `json:"threadId,omitempty" cbor:"threadId,omitempty"`
	Content        string      `json:"content" cbor:"content"`
	Type           MessageType `json:"type" cbor:"type"`
	File           *FileRef    `json:"file,omitempty" cbor:"file,omitempty"`

	Status     Status    `json:"status" cbor:"status"`
	RetryCount int       `json:"retryCount" cbor:"retryCount"`
	EnqueuedAt time.Time `json:"enqueuedAt" cbor:"enqueuedAt"`
	LastError  string    `json:"lastError,omitempty" cbor:"lastError,omitempty"`
	Seq        uint64    `json:"seq" cbor:"seq"` // Enqueue order within this client
}

// OrderingKey returns the key under which delivery order is preserved.
func (m Message) OrderingKey() string {
	return OrderingKey(m.ConversationID, m.ThreadID)
}

// OrderingKey joins a conversation and an optional thread. The separator
// is a NUL byte so ids containing "/" cannot collide.
func OrderingKey(conversationID, threadID string) string {
	if threadID == "" {
		return conversationID
	}
	return conversationID + "\x00" + threadID
}

// Outbound is the wire form of a message sent to the server.
type Outbound struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	ThreadID       string      `json:"threadId,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	File           *FileRef    `json:"file,omitempty"`
	SentAt         int64       `json:"sentAt"` // Unix milliseconds
}

// ToOutbound converts a queued message to its wire form.
func (m Message) ToOutbound(now time.Time) Outbound {
	return Outbound{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		ThreadID:       m.ThreadID,
		Content:        m.Content,
		Type:           m.Type,
		File:           m.File,
		SentAt:         now.UnixMilli(),
	}
}

// NewMessageID returns a fresh random message ID.
func NewMessageID() string {
	return uuid.NewString()
}
