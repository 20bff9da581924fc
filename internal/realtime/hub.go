package realtime

import (
	"log/slog"
	"sync"

	"github.com/sumire/relay/internal/metrics"
)

// Namespaces served by the socket layer.
const (
	NamespaceMessaging     = "messaging"
	NamespaceNotifications = "notifications"
)

// Hub tracks room membership for one namespace.
type Hub struct {
	namespace string

	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

// NewHub creates an empty Hub for namespace.
func NewHub(namespace string) *Hub {
	return &Hub{
		namespace: namespace,
		rooms:     make(map[string]map[*Session]struct{}),
	}
}

// Namespace returns the hub's namespace.
func (h *Hub) Namespace() string { return h.namespace }

// Join adds s to room.
func (h *Hub) Join(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
}

// Leave removes s from room. Empty rooms are dropped.
func (h *Hub) Leave(room string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, s)
}

// LeaveAll removes s from every room in rooms.
func (h *Hub) LeaveAll(s *Session, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		h.leaveLocked(room, s)
	}
}

func (h *Hub) leaveLocked(room string, s *Session) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members returns the number of sessions in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast sends f to every session in room and returns how many accepted
// it. Per-session failures are logged and skipped.
func (h *Hub) Broadcast(room string, f Frame) int {
	h.mu.RLock()
	members := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if err := s.send(f); err != nil {
			slog.Debug("broadcast delivery failed",
				"namespace", h.namespace, "room", room, "event", f.Event, "error", err)
			continue
		}
		delivered++
	}
	metrics.BroadcastDeliveries.WithLabelValues(h.namespace).Add(float64(delivered))
	return delivered
}

// CloseAll closes every session in the hub. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	seen := make(map[*Session]struct{})
	for _, members := range h.rooms {
		for s := range members {
			seen[s] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for s := range seen {
		s.Close()
	}
}
