package realtime

import (
	"context"

	"github.com/sumire/relay/internal/domain"
)

// Bridge fans domain events out to socket rooms.
type Bridge struct {
	messaging     *Hub
	notifications *Hub
}

// NewBridge creates a Bridge over the two namespace hubs.
func NewBridge(messaging, notifications *Hub) *Bridge {
	return &Bridge{messaging: messaging, notifications: notifications}
}

// Handle forwards ev to the matching room. Delivery is fire-and-forget.
func (b *Bridge) Handle(_ context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.MessageSent:
		b.messaging.Broadcast(RoomThread(e.Message.ThreadID), Frame{Event: EventMessageNew, Data: e.Message})
	case domain.MessageRead:
		b.messaging.Broadcast(RoomThread(e.ThreadID), Frame{Event: EventMessageRead, Data: e})
	case domain.NotificationCreated:
		b.notifications.Broadcast(RoomUser(e.Notification.UserID), Frame{Event: EventNotificationNew, Data: e.Notification})
	case domain.NotificationRead:
		b.notifications.Broadcast(RoomUser(e.UserID), Frame{Event: EventNotificationRead, Data: e.Notification})
	case domain.NotificationsReadAll:
		b.notifications.Broadcast(RoomUser(e.UserID), Frame{Event: EventNotificationReadAll, Data: e})
	case domain.NotificationDeleted:
		b.notifications.Broadcast(RoomUser(e.UserID), Frame{Event: EventNotificationDeleted, Data: e})
	}
	return nil
}
