package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/sumire/relay/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   []Frame
	closed   int
	failSend bool
}

func (t *fakeTransport) Send(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSend {
		return errors.New("connection reset")
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.frames))
	for _, f := range t.frames {
		out = append(out, f.Event)
	}
	return out
}

func (t *fakeTransport) last() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames[len(t.frames)-1]
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = nil
}

type fakeValidator map[string]int64

func (v fakeValidator) ValidateToken(token string) (int64, error) {
	id, ok := v[token]
	if !ok {
		return 0, domain.ErrUnauthorized
	}
	return id, nil
}

type fakeAuthorizer struct {
	mu      sync.Mutex
	members map[uuid.UUID]map[int64]bool
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{members: make(map[uuid.UUID]map[int64]bool)}
}

func (a *fakeAuthorizer) add(threadID uuid.UUID, userIDs ...int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.members[threadID] == nil {
		a.members[threadID] = make(map[int64]bool)
	}
	for _, id := range userIDs {
		a.members[threadID][id] = true
	}
}

func (a *fakeAuthorizer) IsParticipant(_ context.Context, threadID uuid.UUID, userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.members[threadID][userID]
}
