package domain

import "time"

// OrderStatus represents the lifecycle state of an order as reported by the
// order service.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCanceled   OrderStatus = "canceled"
)

// Order is the read-only view of an order needed to gate messaging.
type Order struct {
	ID          int64       `json:"id" db:"id"`
	Status      OrderStatus `json:"status" db:"status"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}
