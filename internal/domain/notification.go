package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the domain event a notification is about.
type NotificationType string

const (
	NotificationMessageReceived NotificationType = "message.received"
	NotificationOrderAccepted   NotificationType = "order.accepted"
	NotificationOrderCompleted  NotificationType = "order.completed"
	NotificationOrderCanceled   NotificationType = "order.canceled"
	NotificationInvoiceIssued   NotificationType = "invoice.issued"
	NotificationReviewReceived  NotificationType = "review.received"
	NotificationSystem          NotificationType = "system"
)

// Valid reports whether t belongs to the closed set of notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMessageReceived, NotificationOrderAccepted, NotificationOrderCompleted,
		NotificationOrderCanceled, NotificationInvoiceIssued, NotificationReviewReceived,
		NotificationSystem:
		return true
	}
	return false
}

// Severity is the visual weight of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Notification represents an in-app alert for a user.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    int64            `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Severity  Severity         `json:"severity"`
	Type      NotificationType `json:"type"`
	Data      map[string]any   `json:"data,omitempty"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationPage is one page of a reverse-chronological notification listing.
type NotificationPage struct {
	Items      []Notification `json:"items"`
	NextCursor *time.Time     `json:"next_cursor"`
}
