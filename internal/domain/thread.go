package domain

import (
	"time"

	"github.com/google/uuid"
)

// ThreadStatus represents the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadStatusOpen     ThreadStatus = "open"
	ThreadStatusArchived ThreadStatus = "archived"
	ThreadStatusBlocked  ThreadStatus = "blocked"
)

// Valid reports whether s is a known thread status.
func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadStatusOpen, ThreadStatusArchived, ThreadStatusBlocked:
		return true
	}
	return false
}

// ParticipantRole is the side of the order a participant is on.
type ParticipantRole string

const (
	RoleCustomer ParticipantRole = "customer"
	RoleProvider ParticipantRole = "provider"
)

// Participant is a member of a thread.
type Participant struct {
	UserID int64           `json:"user_id" validate:"required,gt=0"`
	Role   ParticipantRole `json:"role" validate:"required,oneof=customer provider"`
}

// Thread is the messaging channel bound to exactly one order.
type Thread struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	OrderID       int64         `json:"order_id" db:"order_id"`
	Participants  []Participant `json:"participants" db:"-"`
	Status        ThreadStatus  `json:"status" db:"status"`
	LastMessageAt *time.Time    `json:"last_message_at,omitempty" db:"last_message_at"`
	UnreadCounts  map[int64]int `json:"unread_counts" db:"-"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// HasParticipant reports whether userID is a member of the thread.
func (t *Thread) HasParticipant(userID int64) bool {
	for _, p := range t.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// OtherParticipants returns every participant except userID.
func (t *Thread) OtherParticipants(userID int64) []Participant {
	others := make([]Participant, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p.UserID != userID {
			others = append(others, p)
		}
	}
	return others
}

// UnreadFor returns the unread counter of userID.
func (t *Thread) UnreadFor(userID int64) int {
	return t.UnreadCounts[userID]
}

// Profile is the display metadata attached to thread listings.
type Profile struct {
	UserID      int64   `json:"user_id" db:"id"`
	DisplayName string  `json:"display_name" db:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty" db:"avatar_url"`
}

// ThreadView is a thread together with the profiles of its participants.
type ThreadView struct {
	Thread
	Profiles map[int64]Profile `json:"profiles"`
}
