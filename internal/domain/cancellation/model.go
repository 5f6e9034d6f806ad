package cancellation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidReason        = errors.New("cancellation reason is required")
	ErrAlreadyCancelled     = errors.New("appointment already cancelled")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPaymentNotFound      = errors.New("no payment found for appointment")
	ErrPaymentMismatch      = errors.New("appointment references a different payment")
	ErrCancellationNotFound = errors.New("cancellation not found")
)

// Record is the immutable audit of one cancellation. ScheduledAt and
// EvaluatedAt are the two instants the policy compared.
type Record struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	InitiatedBy   Initiator `json:"initiated_by"`
	Reason        string    `json:"reason"`
	PaymentAmount int64     `json:"payment_amount"`
	RefundAmount  int64     `json:"refund_amount"`
	PenaltyAmount int64     `json:"penalty_amount"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
	RequestedBy   string    `json:"requested_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
