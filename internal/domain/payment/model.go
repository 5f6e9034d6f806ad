package payment

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus is the refund lifecycle of a captured payment. It only moves
// forward: none -> pending -> processed | failed.
type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

var allStatuses = []RefundStatus{RefundNone, RefundPending, RefundProcessed, RefundFailed}

// Rank orders statuses. processed and failed share the terminal rank so
// neither can replace the other.
func (s RefundStatus) Rank() int {
	switch s {
	case RefundNone:
		return 0
	case RefundPending:
		return 1
	case RefundProcessed, RefundFailed:
		return 2
	default:
		return -1
	}
}

func (s RefundStatus) Valid() bool { return s.Rank() >= 0 }

// CanAdvance reports whether moving from -> to is a strictly forward step.
// Skipping pending is allowed so an early terminal event still applies.
func CanAdvance(from, to RefundStatus) bool {
	return from.Valid() && to.Valid() && to.Rank() > from.Rank()
}

// AllowedFrom lists the statuses a transition to target may start from.
func AllowedFrom(target RefundStatus) []RefundStatus {
	var out []RefundStatus
	for _, s := range allStatuses {
		if CanAdvance(s, target) {
			out = append(out, s)
		}
	}
	return out
}

// Gateway event names and the status each one drives the payment to.
const (
	EventRefundCreated   = "refund.created"
	EventRefundProcessed = "refund.processed"
	EventRefundFailed    = "refund.failed"
)

// TargetForEvent maps a gateway event to its refund status. ok is false for
// events this service does not reconcile.
func TargetForEvent(event string) (RefundStatus, bool) {
	switch event {
	case EventRefundCreated:
		return RefundPending, true
	case EventRefundProcessed:
		return RefundProcessed, true
	case EventRefundFailed:
		return RefundFailed, true
	}
	return "", false
}

// Payment is a captured charge for one appointment. Amount is in minor
// currency units.
type Payment struct {
	ID                   uuid.UUID    `json:"id"`
	AppointmentID        uuid.UUID    `json:"appointment_id"`
	Amount               int64        `json:"amount"`
	Currency             string       `json:"currency"`
	GatewayTransactionID string       `json:"gateway_transaction_id"`
	RefundStatus         RefundStatus `json:"refund_status"`
	GatewayRefundID      *string      `json:"gateway_refund_id,omitempty"`
	RefundUpdatedAt      *time.Time   `json:"refund_updated_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}
