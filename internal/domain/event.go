package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventName is the wire name of a domain event.
type EventName string

const (
	EventMessageSent          EventName = "message.sent"
	EventMessageRead          EventName = "message.read"
	EventNotificationCreated  EventName = "notification.created"
	EventNotificationRead     EventName = "notification.read"
	EventNotificationsReadAll EventName = "notifications.read_all"
	EventNotificationDeleted  EventName = "notification.deleted"
	EventOrderCompleted       EventName = "order.completed"
	EventOrderCanceled        EventName = "order.canceled"
	EventHeartbeat            EventName = "heartbeat"
)

// Event is the closed set of domain events exchanged inside the process.
// Only the types in this file implement it.
type Event interface {
	EventName() EventName
	isEvent()
}

// MessageSent is published after a message has been persisted.
type MessageSent struct {
	Message Message `json:"message"`
}

// MessageRead is published when a participant clears their unread counter.
type MessageRead struct {
	ThreadID uuid.UUID `json:"thread_id"`
	UserID   int64     `json:"user_id"`
	ReadAt   time.Time `json:"read_at"`
}

// NotificationCreated is published after a notification has been persisted.
type NotificationCreated struct {
	Notification Notification `json:"notification"`
}

// NotificationRead is published when a single notification is marked read.
type NotificationRead struct {
	UserID       int64        `json:"user_id"`
	Notification Notification `json:"notification"`
}

// NotificationsReadAll is published after a bulk mark-read.
type NotificationsReadAll struct {
	UserID int64     `json:"user_id"`
	Count  int64     `json:"count"`
	ReadAt time.Time `json:"read_at"`
}

// NotificationDeleted is published when a notification row was removed.
type NotificationDeleted struct {
	UserID         int64     `json:"user_id"`
	NotificationID uuid.UUID `json:"notification_id"`
}

// OrderCompleted is consumed from the order service.
type OrderCompleted struct {
	OrderID int64     `json:"order_id"`
	At      time.Time `json:"at"`
}

// OrderCanceled is consumed from the order service.
type OrderCanceled struct {
	OrderID int64     `json:"order_id"`
	At      time.Time `json:"at"`
}

// Heartbeat keeps live streams from being reaped by idle proxies.
type Heartbeat struct {
	At time.Time `json:"at"`
}

func (MessageSent) EventName() EventName          { return EventMessageSent }
func (MessageRead) EventName() EventName          { return EventMessageRead }
func (NotificationCreated) EventName() EventName  { return EventNotificationCreated }
func (NotificationRead) EventName() EventName     { return EventNotificationRead }
func (NotificationsReadAll) EventName() EventName { return EventNotificationsReadAll }
func (NotificationDeleted) EventName() EventName  { return EventNotificationDeleted }
func (OrderCompleted) EventName() EventName       { return EventOrderCompleted }
func (OrderCanceled) EventName() EventName        { return EventOrderCanceled }
func (Heartbeat) EventName() EventName            { return EventHeartbeat }

func (MessageSent) isEvent()          {}
func (MessageRead) isEvent()          {}
func (NotificationCreated) isEvent()  {}
func (NotificationRead) isEvent()     {}
func (NotificationsReadAll) isEvent() {}
func (NotificationDeleted) isEvent()  {}
func (OrderCompleted) isEvent()       {}
func (OrderCanceled) isEvent()        {}
func (Heartbeat) isEvent()            {}
