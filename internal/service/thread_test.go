package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/relay/internal/clock"
	"github.com/sumire/relay/internal/domain"
	"github.com/sumire/relay/internal/ratelimit"
)

const (
	customerID int64 = 1
	providerID int64 = 2
	outsiderID int64 = 3
	orderID    int64 = 100
)

var fixtureStart = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type threadFixture struct {
	svc       *ThreadService
	threads   *fakeThreadStore
	messages  *fakeMessageStore
	orders    *fakeOrders
	profiles  *fakeProfiles
	publisher *recordingPublisher
	notifs    *fakeNotificationStore
	clock     *clock.Fake
}

func newThreadFixture(t *testing.T) *threadFixture {
	t.Helper()
	f := &threadFixture{
		threads:   newFakeThreadStore(),
		messages:  &fakeMessageStore{},
		orders:    &fakeOrders{orders: map[int64]domain.Order{orderID: {ID: orderID, Status: domain.OrderStatusInProgress}}},
		profiles:  &fakeProfiles{profiles: map[int64]domain.Profile{}},
		publisher: &recordingPublisher{},
		notifs:    newFakeNotificationStore(),
		clock:     clock.NewFake(fixtureStart),
	}
	notifier := NewNotificationService(f.notifs, f.publisher, f.clock)
	f.svc = NewThreadService(ThreadDeps{
		Threads:   f.threads,
		Messages:  f.messages,
		Orders:    f.orders,
		Profiles:  f.profiles,
		Notifier:  notifier,
		Publisher: f.publisher,
		Limiter:   ratelimit.New(ratelimit.DefaultWindow, ratelimit.DefaultLimit, f.clock),
		Clock:     f.clock,
	}, ThreadConfig{})
	return f
}

func defaultParticipants() []domain.Participant {
	return []domain.Participant{
		{UserID: customerID, Role: domain.RoleCustomer},
		{UserID: providerID, Role: domain.RoleProvider},
	}
}

func (f *threadFixture) thread(t *testing.T) *domain.Thread {
	t.Helper()
	thread, err := f.svc.GetOrCreateThread(context.Background(), orderID, defaultParticipants())
	require.NoError(t, err)
	return thread
}

func text(s string) MessageInput {
	return MessageInput{Kind: domain.MessageKindText, Text: s}
}

func TestThreadService_GetOrCreateThread_Idempotent(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetOrCreateThread(ctx, orderID, defaultParticipants())
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusOpen, first.Status)
	assert.Nil(t, first.LastMessageAt)
	assert.Empty(t, first.UnreadCounts)

	again, err := f.svc.GetOrCreateThread(ctx, orderID, []domain.Participant{
		{UserID: customerID, Role: domain.RoleCustomer},
		{UserID: providerID, Role: domain.RoleProvider},
		{UserID: outsiderID, Role: domain.RoleProvider},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, defaultParticipants(), again.Participants)
}

func TestThreadService_GetOrCreateThread_Validation(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetOrCreateThread(ctx, orderID, defaultParticipants()[:1])
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.GetOrCreateThread(ctx, orderID, []domain.Participant{
		{UserID: customerID, Role: domain.RoleCustomer},
		{UserID: customerID, Role: domain.RoleProvider},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.GetOrCreateThread(ctx, orderID, []domain.Participant{
		{UserID: customerID, Role: domain.RoleCustomer},
		{UserID: providerID, Role: "admin"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestThreadService_SendMessage_Success(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	msg, err := f.svc.SendMessage(ctx, thread.ID, providerID, text("  hello there  "))
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Body.Text)
	assert.Equal(t, domain.DeliverySent, msg.DeliveryStatus)
	assert.Equal(t, fixtureStart, msg.CreatedAt)

	stored, err := f.threads.FindByID(ctx, thread.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageAt)
	assert.Equal(t, msg.CreatedAt, *stored.LastMessageAt)
	assert.Equal(t, 1, stored.UnreadFor(customerID))
	assert.Equal(t, 0, stored.UnreadFor(providerID))

	page, err := f.notifs.ListByUser(ctx, customerID, nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, domain.NotificationMessageReceived, page[0].Type)
	assert.Equal(t, msg.ID.String(), page[0].Data["message_id"])

	assert.Contains(t, f.publisher.names(), domain.EventMessageSent)
}

func TestThreadService_SendMessage_NotificationFailureDoesNotFailSend(t *testing.T) {
	f := newThreadFixture(t)
	notifier := &failingNotifier{}
	f.svc.notifier = notifier
	thread := f.thread(t)

	msg, err := f.svc.SendMessage(context.Background(), thread.ID, customerID, text("still delivered"))
	require.NoError(t, err)
	assert.NotNil(t, msg)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, []domain.EventName{domain.EventMessageSent}, f.publisher.names())
}

func TestThreadService_SendMessage_UnknownThread(t *testing.T) {
	f := newThreadFixture(t)
	_, err := f.svc.SendMessage(context.Background(), uuid.New(), customerID, text("hi"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestThreadService_SendMessage_NonParticipantNeverSucceeds(t *testing.T) {
	completedAt := fixtureStart.Add(-time.Hour)
	orders := []domain.Order{
		{ID: orderID, Status: domain.OrderStatusAccepted},
		{ID: orderID, Status: domain.OrderStatusInProgress},
		{ID: orderID, Status: domain.OrderStatusCompleted, CompletedAt: &completedAt},
		{ID: orderID, Status: domain.OrderStatusCanceled},
	}
	statuses := []domain.ThreadStatus{domain.ThreadStatusOpen, domain.ThreadStatusArchived, domain.ThreadStatusBlocked}

	for _, order := range orders {
		for _, status := range statuses {
			t.Run(fmt.Sprintf("%s/%s", order.Status, status), func(t *testing.T) {
				f := newThreadFixture(t)
				f.orders.set(order)
				thread := f.thread(t)
				require.NoError(t, f.threads.SetStatus(context.Background(), thread.ID, status))

				_, err := f.svc.SendMessage(context.Background(), thread.ID, outsiderID, text("let me in"))
				assert.ErrorIs(t, err, domain.ErrForbidden)
				assert.Empty(t, f.messages.messages)
			})
		}
	}
}

func TestThreadService_SendMessage_RateLimited(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	for i := 0; i < 30; i++ {
		_, err := f.svc.SendMessage(ctx, thread.ID, providerID, text(fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
	}

	_, err := f.svc.SendMessage(ctx, thread.ID, providerID, text("one too many"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.False(t, errors.Is(err, domain.ErrForbidden))

	// The other participant has their own window.
	_, err = f.svc.SendMessage(ctx, thread.ID, customerID, text("my turn"))
	assert.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.SendMessage(ctx, thread.ID, providerID, text("back again"))
	assert.NoError(t, err)
}

func TestThreadService_SendMessage_InvalidPayloadDoesNotConsumeWindow(t *testing.T) {
	f := newThreadFixture(t)
	f.svc.limiter = ratelimit.New(time.Minute, 1, f.clock)
	thread := f.thread(t)

	_, err := f.svc.SendMessage(context.Background(), thread.ID, providerID, text("   "))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.SendMessage(context.Background(), thread.ID, providerID, text("real"))
	assert.NoError(t, err)
}

func TestThreadService_SendMessage_CompletedOrderGraceWindow(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	completedAt := fixtureStart
	f.orders.set(domain.Order{ID: orderID, Status: domain.OrderStatusCompleted, CompletedAt: &completedAt})

	f.clock.Set(completedAt.Add(6 * 24 * time.Hour))
	_, err := f.svc.SendMessage(ctx, thread.ID, customerID, text("thanks again"))
	require.NoError(t, err)

	f.clock.Set(completedAt.Add(8 * 24 * time.Hour))
	_, err = f.svc.SendMessage(ctx, thread.ID, customerID, text("one more thing"))
	var denial *domain.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, domain.DenyOrderClosedForMessaging, denial.Reason)
}

func TestThreadService_SendMessage_Attachments(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	tests := []struct {
		name    string
		input   MessageInput
		wantErr bool
	}{
		{"pdf", MessageInput{Kind: domain.MessageKindFile, File: &FileInput{Name: "quote.pdf", Size: 2048, MIME: "application/pdf"}}, false},
		{"at ceiling", MessageInput{Kind: domain.MessageKindFile, File: &FileInput{Name: "big.zip", Size: DefaultMaxAttachmentBytes, MIME: "application/zip"}}, false},
		{"over ceiling", MessageInput{Kind: domain.MessageKindFile, File: &FileInput{Name: "huge.zip", Size: DefaultMaxAttachmentBytes + 1, MIME: "application/zip"}}, true},
		{"mime not allowed", MessageInput{Kind: domain.MessageKindFile, File: &FileInput{Name: "run.exe", Size: 10, MIME: "application/x-msdownload"}}, true},
		{"missing descriptor", MessageInput{Kind: domain.MessageKindFile}, true},
		{"zero size", MessageInput{Kind: domain.MessageKindFile, File: &FileInput{Name: "empty.txt", MIME: "text/plain"}}, true},
		{"image", MessageInput{Kind: domain.MessageKindImage, ImageURL: "https://cdn.example.com/a.png"}, false},
		{"image relative url", MessageInput{Kind: domain.MessageKindImage, ImageURL: "/a.png"}, true},
		{"text with file", MessageInput{Kind: domain.MessageKindText, Text: "hi", File: &FileInput{Name: "a.txt", Size: 1, MIME: "text/plain"}}, true},
		{"unknown kind", MessageInput{Kind: "video", Text: "hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, thread.ID, customerID, tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestThreadService_ListMessages_Scenario(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	var sent []*domain.Message
	for i := 1; i <= 3; i++ {
		msg, err := f.svc.SendMessage(ctx, thread.ID, providerID, text(fmt.Sprintf("message %d", i)))
		require.NoError(t, err)
		sent = append(sent, msg)
		f.clock.Advance(time.Second)
	}

	first, err := f.svc.ListMessages(ctx, thread.ID, customerID, nil, 2)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, sent[2].ID, first.Items[0].ID)
	assert.Equal(t, sent[1].ID, first.Items[1].ID)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, sent[1].CreatedAt, *first.NextCursor)

	second, err := f.svc.ListMessages(ctx, thread.ID, customerID, first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, sent[0].ID, second.Items[0].ID)
	assert.Nil(t, second.NextCursor)
}

func TestThreadService_ListMessages_PaginationIsStable(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	// The clock never moves, so ordering relies on per-thread monotonic timestamps.
	ids := map[uuid.UUID]bool{}
	for i := 0; i < 23; i++ {
		sender := providerID
		if i%2 == 0 {
			sender = customerID
		}
		msg, err := f.svc.SendMessage(ctx, thread.ID, sender, text(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		ids[msg.ID] = true
	}

	var (
		all    []domain.Message
		cursor *time.Time
	)
	for {
		page, err := f.svc.ListMessages(ctx, thread.ID, providerID, cursor, 5)
		require.NoError(t, err)
		all = append(all, page.Items...)
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, all, len(ids))
	seen := map[uuid.UUID]bool{}
	for i, m := range all {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.True(t, m.CreatedAt.Before(all[i-1].CreatedAt), "not strictly descending at %d", i)
		}
	}
}

func TestThreadService_ListMessages_LimitAndAccess(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	_, err := f.svc.ListMessages(ctx, thread.ID, outsiderID, nil, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	page, err := f.svc.ListMessages(ctx, thread.ID, customerID, nil, 10_000)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}

func TestThreadService_OrderCanceledArchivesThread(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	f.orders.set(domain.Order{ID: orderID, Status: domain.OrderStatusCanceled})
	require.NoError(t, f.svc.HandleEvent(ctx, domain.OrderCanceled{OrderID: orderID, At: fixtureStart}))

	stored, err := f.threads.FindByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusArchived, stored.Status)

	_, err = f.svc.SendMessage(ctx, thread.ID, customerID, text("hello?"))
	var denial *domain.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, domain.DenyThreadNotOpen, denial.Reason)
}

func TestThreadService_ArchiveForOrder_NoThread(t *testing.T) {
	f := newThreadFixture(t)
	assert.NoError(t, f.svc.HandleEvent(context.Background(), domain.OrderCompleted{OrderID: 999}))
}

func TestThreadService_MarkRead(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, thread.ID, providerID, text("ping"))
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.MarkRead(ctx, thread.ID, customerID))

	stored, err := f.threads.FindByID(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadFor(customerID))
	assert.Contains(t, f.publisher.names(), domain.EventMessageRead)

	assert.ErrorIs(t, f.svc.MarkRead(ctx, thread.ID, outsiderID), domain.ErrNotFound)
}

func TestThreadService_Archive(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	_, err := f.svc.Archive(ctx, thread.ID, outsiderID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	archived, err := f.svc.Archive(ctx, thread.ID, providerID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadStatusArchived, archived.Status)

	_, err = f.svc.Archive(ctx, uuid.New(), providerID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestThreadService_ListThreadsForUser(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	avatar := "https://cdn.example.com/p.png"
	f.profiles.profiles = map[int64]domain.Profile{
		customerID: {UserID: customerID, DisplayName: "Casey"},
		providerID: {UserID: providerID, DisplayName: "Pat", AvatarURL: &avatar},
		outsiderID: {UserID: outsiderID, DisplayName: "Quinn"},
	}

	quiet, err := f.svc.GetOrCreateThread(ctx, 1, defaultParticipants())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	busy, err := f.svc.GetOrCreateThread(ctx, 2, defaultParticipants())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	newest, err := f.svc.GetOrCreateThread(ctx, 3, []domain.Participant{
		{UserID: outsiderID, Role: domain.RoleCustomer},
		{UserID: providerID, Role: domain.RoleProvider},
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	_, err = f.svc.SendMessage(ctx, quiet.ID, customerID, text("older"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.SendMessage(ctx, busy.ID, customerID, text("newer"))
	require.NoError(t, err)

	views, err := f.svc.ListThreadsForUser(ctx, providerID, nil, 1, 10)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, busy.ID, views[0].ID)
	assert.Equal(t, quiet.ID, views[1].ID)
	assert.Equal(t, newest.ID, views[2].ID, "threads without messages sort last")
	assert.Equal(t, 1, f.profiles.calls)
	assert.Equal(t, "Pat", views[0].Profiles[providerID].DisplayName)
	assert.Equal(t, "Quinn", views[2].Profiles[outsiderID].DisplayName)

	archived := domain.ThreadStatusArchived
	_, err = f.svc.Archive(ctx, quiet.ID, customerID)
	require.NoError(t, err)
	views, err = f.svc.ListThreadsForUser(ctx, customerID, &archived, 1, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, quiet.ID, views[0].ID)

	bogus := domain.ThreadStatus("deleted")
	_, err = f.svc.ListThreadsForUser(ctx, customerID, &bogus, 1, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestThreadService_IsParticipant(t *testing.T) {
	f := newThreadFixture(t)
	ctx := context.Background()
	thread := f.thread(t)

	assert.True(t, f.svc.IsParticipant(ctx, thread.ID, customerID))
	assert.False(t, f.svc.IsParticipant(ctx, thread.ID, outsiderID))
	assert.False(t, f.svc.IsParticipant(ctx, uuid.New(), customerID))
}
