// Package realtime delivers domain events to live clients. Socket sessions
// join rooms and receive room broadcasts; notification streams receive
// pushes from the notification service.
package realtime

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// Wire events exchanged with socket clients.
const (
	EventStatusOpen  = "status:open"
	EventStatusError = "status:error"

	EventThreadJoin   = "thread:join"
	EventThreadJoined = "thread:joined"
	EventThreadLeave  = "thread:leave"
	EventPing         = "ping"
	EventPong         = "pong"

	EventMessageNew  = "message:new"
	EventMessageRead = "message:read"

	EventNotificationNew     = "notification:new"
	EventNotificationRead    = "notification:read"
	EventNotificationReadAll = "notification:read_all"
	EventNotificationDeleted = "notification:deleted"
)

// Frame is an outbound message to a client.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound is a message received from a client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomUser is the private room every authenticated session joins.
func RoomUser(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// RoomThread is the room carrying a thread's message events.
func RoomThread(threadID uuid.UUID) string {
	return "thread:" + threadID.String()
}
