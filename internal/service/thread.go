package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sumire/relay/internal/clock"
	"github.com/sumire/relay/internal/domain"
	"github.com/sumire/relay/internal/events"
	"github.com/sumire/relay/internal/metrics"
)

const (
	// DefaultMaxAttachmentBytes is the hard ceiling for file messages.
	DefaultMaxAttachmentBytes = 10 << 20

	maxTextRunes       = 4000
	maxPreviewRunes    = 120
	defaultThreadLimit = 20
	maxThreadLimit     = 100
)

// AllowedAttachmentTypes is the MIME allow-list for file messages.
var AllowedAttachmentTypes = map[string]bool{
	"application/pdf": true,
	"application/zip": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"text/plain":      true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// ThreadStore defines the thread data access interface consumed by ThreadService.
type ThreadStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Thread, error)
	FindByOrderID(ctx context.Context, orderID int64) (*domain.Thread, error)
	// Create inserts t unless a thread for t.OrderID exists and returns the
	// stored thread either way.
	Create(ctx context.Context, t domain.Thread) (*domain.Thread, error)
	ListByParticipant(ctx context.Context, userID int64, status *domain.ThreadStatus, page, limit int) ([]domain.Thread, error)
	// RecordMessage advances last_message_at to at (never backwards) and
	// increments the unread counter of every recipient.
	RecordMessage(ctx context.Context, id uuid.UUID, at time.Time, recipients []int64) error
	ResetUnread(ctx context.Context, id uuid.UUID, userID int64) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.ThreadStatus) error
}

// MessageStore defines the message data access interface consumed by ThreadService.
type MessageStore interface {
	Create(ctx context.Context, m domain.Message) error
	// ListByThread returns up to limit messages older than before (all when
	// before is nil), newest first.
	ListByThread(ctx context.Context, threadID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error)
}

// OrderReader resolves the current lifecycle state of an order.
type OrderReader interface {
	FindByID(ctx context.Context, id int64) (*domain.Order, error)
}

// ProfileReader loads display metadata for a batch of users.
type ProfileReader interface {
	FindProfiles(ctx context.Context, userIDs []int64) (map[int64]domain.Profile, error)
}

// Notifier creates user notifications.
type Notifier interface {
	Create(ctx context.Context, in NotificationInput) (*domain.Notification, error)
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

// SendLimiter throttles sends per (thread, sender).
type SendLimiter interface {
	Allow(threadID uuid.UUID, senderID int64) error
}

// ThreadConfig tunes ThreadService.
type ThreadConfig struct {
	GracePeriod        time.Duration
	MaxAttachmentBytes int64
}

// ThreadService owns threads and their messages.
type ThreadService struct {
	threads   ThreadStore
	messages  MessageStore
	orders    OrderReader
	profiles  ProfileReader
	notifier  Notifier
	publisher Publisher
	limiter   SendLimiter
	clock     clock.Clock

	gracePeriod        time.Duration
	maxAttachmentBytes int64
}

// ThreadDeps groups the collaborators of ThreadService.
type ThreadDeps struct {
	Threads   ThreadStore
	Messages  MessageStore
	Orders    OrderReader
	Profiles  ProfileReader
	Notifier  Notifier
	Publisher Publisher
	Limiter   SendLimiter
	Clock     clock.Clock
}

// NewThreadService creates a new ThreadService.
func NewThreadService(deps ThreadDeps, cfg ThreadConfig) *ThreadService {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = domain.DefaultGracePeriod
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &ThreadService{
		threads:            deps.Threads,
		messages:           deps.Messages,
		orders:             deps.Orders,
		profiles:           deps.Profiles,
		notifier:           deps.Notifier,
		publisher:          deps.Publisher,
		limiter:            deps.Limiter,
		clock:              deps.Clock,
		gracePeriod:        cfg.GracePeriod,
		maxAttachmentBytes: cfg.MaxAttachmentBytes,
	}
}

func (s *ThreadService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

type createThreadInput struct {
	OrderID      int64                `validate:"required,gt=0"`
	Participants []domain.Participant `validate:"min=2,dive"`
}

// GetOrCreateThread returns the thread bound to orderID, creating it with
// participants when none exists. An existing thread is returned unchanged.
func (s *ThreadService) GetOrCreateThread(ctx context.Context, orderID int64, participants []domain.Participant) (*domain.Thread, error) {
	existing, err := s.threads.FindByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find thread for order %d: %w", orderID, err)
	}

	if err := validateStruct(createThreadInput{OrderID: orderID, Participants: participants}); err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(participants))
	for _, p := range participants {
		if seen[p.UserID] {
			return nil, &domain.ValidationError{Field: "participants", Message: "duplicate participant"}
		}
		seen[p.UserID] = true
	}

	now := s.now()
	thread, err := s.threads.Create(ctx, domain.Thread{
		ID:           uuid.New(),
		OrderID:      orderID,
		Participants: append([]domain.Participant(nil), participants...),
		Status:       domain.ThreadStatusOpen,
		UnreadCounts: map[int64]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("create thread for order %d: %w", orderID, err)
	}
	return thread, nil
}

// GetThread returns a thread to one of its participants. Outsiders get
// ErrNotFound so thread existence is not leaked.
func (s *ThreadService) GetThread(ctx context.Context, threadID uuid.UUID, userID int64) (*domain.Thread, error) {
	thread, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("find thread %s: %w", threadID, err)
	}
	if !thread.HasParticipant(userID) {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return thread, nil
}

// ListThreadsForUser returns one page of the user's threads, most recently
// active first, with participant profiles resolved in one batch.
func (s *ThreadService) ListThreadsForUser(ctx context.Context, userID int64, status *domain.ThreadStatus, page, limit int) ([]domain.ThreadView, error) {
	if status != nil && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: "unknown thread status"}
	}
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultThreadLimit
	case limit > maxThreadLimit:
		limit = maxThreadLimit
	}

	threads, err := s.threads.ListByParticipant(ctx, userID, status, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads for user %d: %w", userID, err)
	}

	var ids []int64
	seen := make(map[int64]bool)
	for _, t := range threads {
		for _, p := range t.Participants {
			if !seen[p.UserID] {
				seen[p.UserID] = true
				ids = append(ids, p.UserID)
			}
		}
	}

	profiles := map[int64]domain.Profile{}
	if len(ids) > 0 && s.profiles != nil {
		profiles, err = s.profiles.FindProfiles(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load participant profiles: %w", err)
		}
	}

	views := make([]domain.ThreadView, 0, len(threads))
	for _, t := range threads {
		own := make(map[int64]domain.Profile, len(t.Participants))
		for _, p := range t.Participants {
			if prof, ok := profiles[p.UserID]; ok {
				own[p.UserID] = prof
			}
		}
		views = append(views, domain.ThreadView{Thread: t, Profiles: own})
	}
	return views, nil
}

// FileInput describes an attachment in a send request.
type FileInput struct {
	Name string `json:"name" validate:"required,max=255"`
	Size int64  `json:"size" validate:"required,gt=0"`
	MIME string `json:"mime" validate:"required"`
}

// MessageInput is the payload of a send request.
type MessageInput struct {
	Kind     domain.MessageKind `json:"kind" validate:"required,oneof=text image file"`
	Text     string             `json:"text,omitempty"`
	ImageURL string             `json:"image_url,omitempty"`
	File     *FileInput         `json:"file,omitempty"`
}

func (s *ThreadService) buildBody(in MessageInput) (domain.MessageBody, error) {
	if err := validateStruct(in); err != nil {
		return domain.MessageBody{}, err
	}

	switch in.Kind {
	case domain.MessageKindText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return domain.MessageBody{}, &domain.ValidationError{Field: "text", Message: "must not be empty"}
		}
		if utf8.RuneCountInString(text) > maxTextRunes {
			return domain.MessageBody{}, &domain.ValidationError{Field: "text", Message: fmt.Sprintf("must be at most %d characters", maxTextRunes)}
		}
		if in.ImageURL != "" || in.File != nil {
			return domain.MessageBody{}, &domain.ValidationError{Field: "kind", Message: "text message carries an attachment"}
		}
		return domain.MessageBody{Text: text}, nil

	case domain.MessageKindImage:
		u, err := url.Parse(in.ImageURL)
		if in.ImageURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.MessageBody{}, &domain.ValidationError{Field: "image_url", Message: "must be an absolute http(s) URL"}
		}
		if in.Text != "" || in.File != nil {
			return domain.MessageBody{}, &domain.ValidationError{Field: "kind", Message: "image message carries another payload"}
		}
		return domain.MessageBody{ImageURL: in.ImageURL}, nil

	default:
		if in.File == nil {
			return domain.MessageBody{}, &domain.ValidationError{Field: "file", Message: "is required"}
		}
		if in.Text != "" || in.ImageURL != "" {
			return domain.MessageBody{}, &domain.ValidationError{Field: "kind", Message: "file message carries another payload"}
		}
		if in.File.Size > s.maxAttachmentBytes {
			return domain.MessageBody{}, &domain.ValidationError{Field: "file.size", Message: fmt.Sprintf("exceeds %d bytes", s.maxAttachmentBytes)}
		}
		mime := strings.ToLower(strings.TrimSpace(in.File.MIME))
		if !AllowedAttachmentTypes[mime] {
			return domain.MessageBody{}, &domain.ValidationError{Field: "file.mime", Message: "type not allowed"}
		}
		return domain.MessageBody{File: &domain.FileDescriptor{
			Name: in.File.Name,
			Size: in.File.Size,
			MIME: mime,
		}}, nil
	}
}

// SendMessage gates, validates, throttles and persists a message, then fans
// it out. Retried calls create duplicate messages.
func (s *ThreadService) SendMessage(ctx context.Context, threadID uuid.UUID, senderID int64, in MessageInput) (*domain.Message, error) {
	thread, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("find thread %s: %w", threadID, err)
	}

	order, err := s.orders.FindByID(ctx, thread.OrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("find order %d: %w", thread.OrderID, err)
		}
		order = nil
	}

	now := s.now()
	if decision := domain.CanSend(thread, order, senderID, now, s.gracePeriod); !decision.Allowed {
		metrics.MessageDenials.WithLabelValues(string(decision.Reason)).Inc()
		return nil, decision.Err()
	}

	body, err := s.buildBody(in)
	if err != nil {
		metrics.MessageDenials.WithLabelValues("ValidationError").Inc()
		return nil, err
	}

	if err := s.limiter.Allow(thread.ID, senderID); err != nil {
		metrics.MessageDenials.WithLabelValues("RateLimited").Inc()
		return nil, err
	}

	createdAt := now
	if thread.LastMessageAt != nil && !createdAt.After(*thread.LastMessageAt) {
		createdAt = thread.LastMessageAt.Add(time.Microsecond)
	}

	msg := domain.Message{
		ID:             uuid.New(),
		ThreadID:       thread.ID,
		SenderID:       senderID,
		Kind:           in.Kind,
		Body:           body,
		DeliveryStatus: domain.DeliverySent,
		CreatedAt:      createdAt,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	recipients := thread.OtherParticipants(senderID)
	recipientIDs := make([]int64, 0, len(recipients))
	for _, p := range recipients {
		recipientIDs = append(recipientIDs, p.UserID)
	}
	if err := s.threads.RecordMessage(ctx, thread.ID, createdAt, recipientIDs); err != nil {
		return nil, fmt.Errorf("update thread %s: %w", thread.ID, err)
	}
	metrics.MessagesSent.Inc()

	for _, recipient := range recipientIDs {
		events.BestEffort("notify new message", func() error {
			_, err := s.notifier.Create(ctx, NotificationInput{
				UserID:   recipient,
				Title:    "New message",
				Message:  preview(msg),
				Severity: domain.SeverityInfo,
				Type:     domain.NotificationMessageReceived,
				Data: map[string]any{
					"thread_id":  thread.ID.String(),
					"message_id": msg.ID.String(),
					"order_id":   thread.OrderID,
				},
			})
			return err
		})
	}

	s.publisher.Publish(ctx, domain.MessageSent{Message: msg})
	return &msg, nil
}

func preview(m domain.Message) string {
	switch m.Kind {
	case domain.MessageKindImage:
		return "Sent an image"
	case domain.MessageKindFile:
		return "Sent a file: " + m.Body.File.Name
	}
	if utf8.RuneCountInString(m.Body.Text) <= maxPreviewRunes {
		return m.Body.Text
	}
	return string([]rune(m.Body.Text)[:maxPreviewRunes]) + "…"
}

// ListMessages returns messages older than before, newest first. NextCursor
// is set only when the page is full.
func (s *ThreadService) ListMessages(ctx context.Context, threadID uuid.UUID, userID int64, before *time.Time, limit int) (*domain.MessagePage, error) {
	if _, err := s.GetThread(ctx, threadID, userID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	items, err := s.messages.ListByThread(ctx, threadID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of thread %s: %w", threadID, err)
	}
	if items == nil {
		items = []domain.Message{}
	}

	page := &domain.MessagePage{Items: items}
	if n := len(items); n > 0 {
		page.NextCursor = nextCursor(items[n-1].CreatedAt, n, limit)
	}
	return page, nil
}

// MarkRead clears the caller's unread counter on a thread.
func (s *ThreadService) MarkRead(ctx context.Context, threadID uuid.UUID, userID int64) error {
	if _, err := s.GetThread(ctx, threadID, userID); err != nil {
		return err
	}
	if err := s.threads.ResetUnread(ctx, threadID, userID); err != nil {
		return fmt.Errorf("reset unread of thread %s: %w", threadID, err)
	}
	s.publisher.Publish(ctx, domain.MessageRead{ThreadID: threadID, UserID: userID, ReadAt: s.now()})
	return nil
}

// Archive moves a thread to archived on behalf of a participant.
func (s *ThreadService) Archive(ctx context.Context, threadID uuid.UUID, userID int64) (*domain.Thread, error) {
	thread, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("find thread %s: %w", threadID, err)
	}
	if !thread.HasParticipant(userID) {
		return nil, fmt.Errorf("archive thread %s: %w", threadID, domain.ErrForbidden)
	}
	if err := s.threads.SetStatus(ctx, threadID, domain.ThreadStatusArchived); err != nil {
		return nil, fmt.Errorf("archive thread %s: %w", threadID, err)
	}
	thread.Status = domain.ThreadStatusArchived
	return thread, nil
}

// ArchiveForOrder archives the thread bound to orderID, if there is one.
func (s *ThreadService) ArchiveForOrder(ctx context.Context, orderID int64) error {
	thread, err := s.threads.FindByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find thread for order %d: %w", orderID, err)
	}
	if thread.Status == domain.ThreadStatusArchived {
		return nil
	}
	if err := s.threads.SetStatus(ctx, thread.ID, domain.ThreadStatusArchived); err != nil {
		return fmt.Errorf("archive thread %s: %w", thread.ID, err)
	}
	return nil
}

// HandleEvent reacts to order lifecycle events from the bus.
func (s *ThreadService) HandleEvent(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.OrderCompleted:
		return s.ArchiveForOrder(ctx, e.OrderID)
	case domain.OrderCanceled:
		return s.ArchiveForOrder(ctx, e.OrderID)
	}
	return nil
}

// IsParticipant reports whether userID belongs to threadID. Lookup failures
// count as "no".
func (s *ThreadService) IsParticipant(ctx context.Context, threadID uuid.UUID, userID int64) bool {
	thread, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		return false
	}
	return thread.HasParticipant(userID)
}
