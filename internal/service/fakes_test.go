package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/relay/internal/domain"
)

type fakeThreadStore struct {
	mu      sync.Mutex
	threads map[uuid.UUID]*domain.Thread
}

func newFakeThreadStore() *fakeThreadStore {
	return &fakeThreadStore{threads: make(map[uuid.UUID]*domain.Thread)}
}

func cloneThread(t *domain.Thread) *domain.Thread {
	c := *t
	c.Participants = append([]domain.Participant(nil), t.Participants...)
	c.UnreadCounts = make(map[int64]int, len(t.UnreadCounts))
	for k, v := range t.UnreadCounts {
		c.UnreadCounts[k] = v
	}
	if t.LastMessageAt != nil {
		at := *t.LastMessageAt
		c.LastMessageAt = &at
	}
	return &c
}

func (s *fakeThreadStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *fakeThreadStore) FindByOrderID(_ context.Context, orderID int64) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.OrderID == orderID {
			return cloneThread(t), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeThreadStore) Create(_ context.Context, t domain.Thread) (*domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.threads {
		if existing.OrderID == t.OrderID {
			return cloneThread(existing), nil
		}
	}
	s.threads[t.ID] = cloneThread(&t)
	return cloneThread(&t), nil
}

func (s *fakeThreadStore) ListByParticipant(_ context.Context, userID int64, status *domain.ThreadStatus, page, limit int) ([]domain.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Thread
	for _, t := range s.threads {
		if !t.HasParticipant(userID) {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, *cloneThread(t))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	start := (page - 1) * limit
	if start >= len(out) {
		return nil, nil
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *fakeThreadStore) RecordMessage(_ context.Context, id uuid.UUID, at time.Time, recipients []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return domain.ErrNotFound
	}
	if t.LastMessageAt == nil || at.After(*t.LastMessageAt) {
		t.LastMessageAt = &at
	}
	for _, r := range recipients {
		t.UnreadCounts[r]++
	}
	return nil
}

func (s *fakeThreadStore) ResetUnread(_ context.Context, id uuid.UUID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.UnreadCounts[userID] = 0
	return nil
}

func (s *fakeThreadStore) SetStatus(_ context.Context, id uuid.UUID, status domain.ThreadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages []domain.Message
	err      error
}

func (s *fakeMessageStore) Create(_ context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *fakeMessageStore) ListByThread(_ context.Context, threadID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ThreadID != threadID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders map[int64]domain.Order
}

func (o *fakeOrders) FindByID(_ context.Context, id int64) (*domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &order, nil
}

func (o *fakeOrders) set(order domain.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[order.ID] = order
}

type fakeProfiles struct {
	calls    int
	profiles map[int64]domain.Profile
}

func (p *fakeProfiles) FindProfiles(_ context.Context, ids []int64) (map[int64]domain.Profile, error) {
	p.calls++
	out := make(map[int64]domain.Profile, len(ids))
	for _, id := range ids {
		if prof, ok := p.profiles[id]; ok {
			out[id] = prof
		}
	}
	return out, nil
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Create(context.Context, NotificationInput) (*domain.Notification, error) {
	n.calls++
	return nil, errors.New("notification store down")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) names() []domain.EventName {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]domain.EventName, 0, len(p.events))
	for _, ev := range p.events {
		names = append(names, ev.EventName())
	}
	return names
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*domain.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{notifications: make(map[uuid.UUID]*domain.Notification)}
}

func (s *fakeNotificationStore) Create(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = &n
	return nil
}

func (s *fakeNotificationStore) ListByUser(_ context.Context, userID int64, before *time.Time, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if before != nil && !n.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeNotificationStore) MarkRead(_ context.Context, userID int64, id uuid.UUID, at time.Time) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	c := *n
	return &c, nil
}

func (s *fakeNotificationStore) MarkAllRead(_ context.Context, userID int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func (s *fakeNotificationStore) Delete(_ context.Context, userID int64, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	delete(s.notifications, id)
	return true, nil
}

func (s *fakeNotificationStore) get(id uuid.UUID) domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.notifications[id]
}

type fakeSink struct {
	mu     sync.Mutex
	pushed []domain.Event
	closed int
	err    error
}

func (s *fakeSink) Push(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.pushed = append(s.pushed, ev)
	return nil
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *fakeSink) names() []domain.EventName {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]domain.EventName, 0, len(s.pushed))
	for _, ev := range s.pushed {
		names = append(names, ev.EventName())
	}
	return names
}
