package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates the payload of a message.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

// DeliveryStatus tracks how far a message got towards its recipient.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// FileDescriptor describes an uploaded attachment.
type FileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime"`
}

// MessageBody holds the kind-specific payload. Exactly one field is set.
type MessageBody struct {
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
	File     *FileDescriptor `json:"file,omitempty"`
}

// Message is an append-only entry of a thread.
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ThreadID       uuid.UUID      `json:"thread_id"`
	SenderID       int64          `json:"sender_id"`
	Kind           MessageKind    `json:"kind"`
	Body           MessageBody    `json:"body"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MessagePage is one page of a reverse-chronological message listing.
type MessagePage struct {
	Items      []Message  `json:"items"`
	NextCursor *time.Time `json:"next_cursor"`
}
