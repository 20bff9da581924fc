package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/relay/internal/clock"
	"github.com/sumire/relay/internal/domain"
	"github.com/sumire/relay/internal/events"
	"github.com/sumire/relay/internal/metrics"
)

// NotificationStore defines the notification data access interface consumed
// by NotificationService.
type NotificationStore interface {
	Create(ctx context.Context, n domain.Notification) error
	// ListByUser returns up to limit notifications of userID older than
	// before (all when before is nil), newest first.
	ListByUser(ctx context.Context, userID int64, before *time.Time, limit int) ([]domain.Notification, error)
	// MarkRead sets read_at to at unless already set and returns the row.
	// Returns domain.ErrNotFound when id does not belong to userID.
	MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) (*domain.Notification, error)
	// MarkAllRead sets read_at on every unread notification of userID and
	// returns how many rows changed.
	MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error)
	Delete(ctx context.Context, userID int64, id uuid.UUID) (bool, error)
}

// StreamSink is the server side of one live notification stream. Close must
// be safe to call more than once.
type StreamSink interface {
	Push(ev domain.Event) error
	Close()
}

// NotificationInput is the payload of a create request.
type NotificationInput struct {
	UserID   int64                   `json:"user_id" validate:"required,gt=0"`
	Title    string                  `json:"title" validate:"required,max=200"`
	Message  string                  `json:"message" validate:"max=2000"`
	Severity domain.Severity         `json:"severity" validate:"required,oneof=info success warning error"`
	Type     domain.NotificationType `json:"type" validate:"required"`
	Data     map[string]any          `json:"data,omitempty"`
}

// NotificationService owns notifications and the per-user live stream registry.
type NotificationService struct {
	store     NotificationStore
	publisher Publisher
	clock     clock.Clock

	mu      sync.Mutex
	streams map[int64]StreamSink
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store NotificationStore, publisher Publisher, clk clock.Clock) *NotificationService {
	if clk == nil {
		clk = clock.Real()
	}
	return &NotificationService{
		store:     store,
		publisher: publisher,
		clock:     clk,
		streams:   make(map[int64]StreamSink),
	}
}

func (s *NotificationService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// Create persists a notification, publishes it and pushes it to the user's
// live stream. The push is best-effort.
func (s *NotificationService) Create(ctx context.Context, in NotificationInput) (*domain.Notification, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, &domain.ValidationError{Field: "type", Message: "unknown notification type"}
	}

	n := domain.Notification{
		ID:        uuid.New(),
		UserID:    in.UserID,
		Title:     in.Title,
		Message:   in.Message,
		Severity:  in.Severity,
		Type:      in.Type,
		Data:      in.Data,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	metrics.NotificationsCreated.Inc()

	ev := domain.NotificationCreated{Notification: n}
	s.publisher.Publish(ctx, ev)
	s.push(n.UserID, ev)
	return &n, nil
}

// ListByUser returns the user's notifications older than before, newest first.
func (s *NotificationService) ListByUser(ctx context.Context, userID int64, before *time.Time, limit int) (*domain.NotificationPage, error) {
	limit = clampLimit(limit)
	items, err := s.store.ListByUser(ctx, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications of user %d: %w", userID, err)
	}
	if items == nil {
		items = []domain.Notification{}
	}

	page := &domain.NotificationPage{Items: items}
	if n := len(items); n > 0 {
		page.NextCursor = nextCursor(items[n-1].CreatedAt, n, limit)
	}
	return page, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID int64, id uuid.UUID) (*domain.Notification, error) {
	n, err := s.store.MarkRead(ctx, userID, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}

	ev := domain.NotificationRead{UserID: userID, Notification: *n}
	s.publisher.Publish(ctx, ev)
	s.push(userID, ev)
	return n, nil
}

// MarkAllRead marks every unread notification of the user as read and
// returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	at := s.now()
	count, err := s.store.MarkAllRead(ctx, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications of user %d read: %w", userID, err)
	}

	ev := domain.NotificationsReadAll{UserID: userID, Count: count, ReadAt: at}
	s.publisher.Publish(ctx, ev)
	s.push(userID, ev)
	return count, nil
}

// Delete removes one of the user's notifications. Deleting an absent or
// foreign notification is a no-op.
func (s *NotificationService) Delete(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	removed, err := s.store.Delete(ctx, userID, id)
	if err != nil {
		return false, fmt.Errorf("delete notification %s: %w", id, err)
	}
	if !removed {
		return false, nil
	}

	ev := domain.NotificationDeleted{UserID: userID, NotificationID: id}
	s.publisher.Publish(ctx, ev)
	s.push(userID, ev)
	return true, nil
}

// RegisterStream makes sink the live stream of userID. A previously
// registered sink is closed first. The new sink immediately receives a
// heartbeat.
func (s *NotificationService) RegisterStream(userID int64, sink StreamSink) {
	s.mu.Lock()
	prev, replaced := s.streams[userID]
	s.streams[userID] = sink
	s.mu.Unlock()

	if replaced {
		events.BestEffort("close displaced stream", func() error {
			prev.Close()
			return nil
		})
	} else {
		metrics.LiveStreams.Inc()
	}

	events.BestEffort("stream heartbeat", func() error {
		return sink.Push(domain.Heartbeat{At: s.now()})
	})
}

// CloseStream closes and forgets the live stream of userID.
func (s *NotificationService) CloseStream(userID int64) {
	s.mu.Lock()
	sink, ok := s.streams[userID]
	delete(s.streams, userID)
	s.mu.Unlock()

	if ok {
		metrics.LiveStreams.Dec()
		events.BestEffort("close stream", func() error {
			sink.Close()
			return nil
		})
	}
}

// ReleaseStream closes sink and forgets it only if it is still the current
// stream of userID, so a late disconnect cannot evict a newer stream.
func (s *NotificationService) ReleaseStream(userID int64, sink StreamSink) {
	s.mu.Lock()
	current, ok := s.streams[userID]
	if ok && current == sink {
		delete(s.streams, userID)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if ok {
		metrics.LiveStreams.Dec()
	}
	events.BestEffort("release stream", func() error {
		sink.Close()
		return nil
	})
}

// CloseAllStreams closes every registered stream. Used on shutdown.
func (s *NotificationService) CloseAllStreams() {
	s.mu.Lock()
	sinks := make([]StreamSink, 0, len(s.streams))
	for userID, sink := range s.streams {
		sinks = append(sinks, sink)
		delete(s.streams, userID)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		metrics.LiveStreams.Dec()
		events.BestEffort("close stream", func() error {
			sink.Close()
			return nil
		})
	}
}

// HasStream reports whether userID has a registered live stream.
func (s *NotificationService) HasStream(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[userID]
	return ok
}

func (s *NotificationService) push(userID int64, ev domain.Event) {
	s.mu.Lock()
	sink, ok := s.streams[userID]
	s.mu.Unlock()
	if !ok {
		return
	}
	events.BestEffort("push "+string(ev.EventName()), func() error {
		return sink.Push(ev)
	})
}
