package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sumire/relay/internal/domain"
	"github.com/sumire/relay/internal/metrics"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var errSessionClosed = errors.New("session closed")

// Transport carries frames to one client connection.
type Transport interface {
	Send(f Frame) error
	Close() error
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (int64, error)
}

// RoomAuthorizer decides whether a user may join a thread room.
type RoomAuthorizer interface {
	IsParticipant(ctx context.Context, threadID uuid.UUID, userID int64) bool
}

// Handshake is the credential material presented when a connection opens.
type Handshake struct {
	Auth   string
	Query  url.Values
	Header http.Header
}

// Token returns the bearer token, preferring the auth field, then the
// token query parameter, then the Authorization header.
func (h Handshake) Token() string {
	if t := strings.TrimSpace(h.Auth); t != "" {
		return t
	}
	if t := strings.TrimSpace(h.Query.Get("token")); t != "" {
		return t
	}
	return bearerToken(h.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// SessionConfig wires a Session to its namespace.
type SessionConfig struct {
	Hub        *Hub
	Validator  TokenValidator
	Authorizer RoomAuthorizer // nil disables thread rooms
	FrameRate  rate.Limit
	FrameBurst int
}

// Session is one live client connection within a namespace.
type Session struct {
	hub        *Hub
	transport  Transport
	validator  TokenValidator
	authorizer RoomAuthorizer
	limiter    *rate.Limiter

	mu     sync.Mutex
	state  State
	userID int64
	rooms  map[string]struct{}
}

// NewSession creates a Session in the connecting state.
func NewSession(cfg SessionConfig, t Transport) *Session {
	limit := cfg.FrameRate
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Session{
		hub:        cfg.Hub,
		transport:  t,
		validator:  cfg.Validator,
		authorizer: cfg.Authorizer,
		limiter:    rate.NewLimiter(limit, cfg.FrameBurst),
		state:      StateConnecting,
		rooms:      make(map[string]struct{}),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user, or 0 before authentication.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Rooms returns the rooms the session currently belongs to.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// Open authenticates the connection. On failure the client receives
// status:error and the session is closed.
func (s *Session) Open(ctx context.Context, hs Handshake) error {
	token := hs.Token()
	if token == "" {
		return s.reject("missing token")
	}
	userID, err := s.validator.ValidateToken(token)
	if err != nil {
		slog.Debug("socket authentication failed", "namespace", s.hub.Namespace(), "error", err)
		return s.reject("invalid token")
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.userID = userID
	s.state = StateAuthenticated
	s.mu.Unlock()
	metrics.LiveSessions.WithLabelValues(s.hub.Namespace()).Inc()

	s.join(RoomUser(userID))
	if err := s.send(Frame{Event: EventStatusOpen, Data: map[string]any{"user_id": userID}}); err != nil {
		s.Close()
		return err
	}
	return nil
}

func (s *Session) reject(msg string) error {
	_ = s.transport.Send(Frame{Event: EventStatusError, Data: map[string]string{"message": msg}})
	s.Close()
	return domain.ErrUnauthorized
}

type threadRef struct {
	ThreadID string `json:"thread_id"`
}

// Handle processes one inbound frame. Frames before authentication, frames
// over the throttle and unknown events are dropped.
func (s *Session) Handle(ctx context.Context, in Inbound) {
	if s.State() != StateJoined {
		return
	}
	if !s.limiter.Allow() {
		slog.Debug("socket frame throttled", "namespace", s.hub.Namespace(), "user_id", s.UserID(), "event", in.Event)
		return
	}

	switch in.Event {
	case EventThreadJoin:
		threadID, ok := parseThreadRef(in.Data)
		if !ok || s.authorizer == nil {
			return
		}
		if !s.authorizer.IsParticipant(ctx, threadID, s.UserID()) {
			return
		}
		s.join(RoomThread(threadID))
		_ = s.send(Frame{Event: EventThreadJoined, Data: threadRef{ThreadID: threadID.String()}})
	case EventThreadLeave:
		threadID, ok := parseThreadRef(in.Data)
		if !ok {
			return
		}
		s.leave(RoomThread(threadID))
	case EventPing:
		_ = s.send(Frame{Event: EventPong})
	}
}

func parseThreadRef(raw json.RawMessage) (uuid.UUID, bool) {
	var ref threadRef
	if len(raw) == 0 || json.Unmarshal(raw, &ref) != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref.ThreadID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// join and leave update the hub while holding the session lock so that a
// concurrent Close cannot leave a closed session in a room.
func (s *Session) join(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.rooms[room] = struct{}{}
	s.state = StateJoined
	s.hub.Join(room, s)
}

func (s *Session) leave(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	s.hub.Leave(room, s)
}

func (s *Session) send(f Frame) error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	return s.transport.Send(f)
}

// Close leaves every room and closes the transport. It is safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasLive := s.state != StateConnecting
	s.state = StateClosed
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.rooms = make(map[string]struct{})
	s.mu.Unlock()

	s.hub.LeaveAll(s, rooms)
	if wasLive {
		metrics.LiveSessions.WithLabelValues(s.hub.Namespace()).Dec()
	}
	if err := s.transport.Close(); err != nil {
		slog.Debug("socket transport close failed", "namespace", s.hub.Namespace(), "error", err)
	}
}
