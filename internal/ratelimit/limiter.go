// Package ratelimit implements the per (thread, sender) sliding-window send
// throttle. State is process-local and lost on restart.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sumire/relay/internal/clock"
	"github.com/sumire/relay/internal/domain"
)

const (
	DefaultWindow = 5 * time.Minute
	DefaultLimit  = 30
)

// Limiter counts sends per key inside a trailing window.
type Limiter struct {
	window time.Duration
	limit  int
	clock  clock.Clock

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New creates a Limiter. Non-positive window or limit fall back to the defaults.
func New(window time.Duration, limit int, clk clock.Clock) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		window: window,
		limit:  limit,
		clock:  clk,
		hits:   make(map[string][]time.Time),
	}
}

func key(threadID uuid.UUID, senderID int64) string {
	return threadID.String() + ":" + strconv.FormatInt(senderID, 10)
}

// Allow records a send for (threadID, senderID) and returns nil, or returns
// domain.ErrRateLimited without recording anything.
func (l *Limiter) Allow(threadID uuid.UUID, senderID int64) error {
	now := l.clock.Now()
	k := key(threadID, senderID)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.prune(k, now)
	if len(hits) >= l.limit {
		return domain.ErrRateLimited
	}
	l.hits[k] = append(hits, now)
	return nil
}

// Remaining reports how many sends (threadID, senderID) has left in the
// current window.
func (l *Limiter) Remaining(threadID uuid.UUID, senderID int64) int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.limit - len(l.prune(key(threadID, senderID), now))
}

// prune drops timestamps that left the window and evicts the key when none
// remain. Callers hold l.mu.
func (l *Limiter) prune(k string, now time.Time) []time.Time {
	hits, ok := l.hits[k]
	if !ok {
		return nil
	}
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(l.hits, k)
		return nil
	}
	l.hits[k] = hits
	return hits
}

// Sweep evicts every key whose timestamps have all aged out.
func (l *Limiter) Sweep() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.hits {
		l.prune(k, now)
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
