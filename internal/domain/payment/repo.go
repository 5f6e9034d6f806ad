package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefundTransition is one applied refund status change.
type RefundTransition struct {
	From            RefundStatus
	To              RefundStatus
	GatewayRefundID string
	At              time.Time
}

// Repository returns db.ErrNotFound for missing rows and wraps every other
// storage fault in db.ErrPersistence.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)

	// AdvanceRefundStatus moves the payment to target only if its current
	// status is in AllowedFrom(target), as one atomic step. The gateway refund
	// id is kept from the first event that carries one. The bool reports
	// whether a row changed; the transition holds the status the row had at
	// that moment.
	AdvanceRefundStatus(ctx context.Context, id uuid.UUID, target RefundStatus, gatewayRefundID string, at time.Time) (RefundTransition, bool, error)

	// Create records a captured payment. Capture happens upstream; this exists
	// for seeding the embedded store and tests.
	Create(ctx context.Context, p *Payment) error
}
