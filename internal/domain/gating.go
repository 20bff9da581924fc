package domain

import "time"

// DefaultGracePeriod is how long after completion an order's thread still
// accepts messages.
const DefaultGracePeriod = 7 * 24 * time.Hour

// DenialReason names the gating rule that refused a send.
type DenialReason string

const (
	DenyThreadNotOpen           DenialReason = "ThreadNotOpen"
	DenyNotParticipant          DenialReason = "NotParticipant"
	DenyOrderCanceled           DenialReason = "OrderCanceled"
	DenyOrderClosedForMessaging DenialReason = "OrderClosedForMessaging"
)

// Decision is the outcome of CanSend.
type Decision struct {
	Allowed bool
	Reason  DenialReason
}

// Err returns a *DenialError for a denied decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DenialError{Reason: d.Reason}
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason DenialReason) Decision { return Decision{Reason: reason} }

// CanSend decides whether senderID may post into thread given the state of
// the bound order. Rules are evaluated in order and the first failing one
// wins. A nil order means the order service had nothing terminal to report.
func CanSend(thread *Thread, order *Order, senderID int64, now time.Time, grace time.Duration) Decision {
	if thread == nil || thread.Status != ThreadStatusOpen {
		return deny(DenyThreadNotOpen)
	}
	if !thread.HasParticipant(senderID) {
		return deny(DenyNotParticipant)
	}
	if order == nil {
		return allow()
	}

	switch order.Status {
	case OrderStatusCanceled:
		return deny(DenyOrderCanceled)
	case OrderStatusCompleted:
		if order.CompletedAt == nil {
			return allow()
		}
		if now.Sub(*order.CompletedAt) > grace {
			return deny(DenyOrderClosedForMessaging)
		}
	}
	return allow()
}
