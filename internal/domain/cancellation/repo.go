package cancellation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists cancellation records. Records are never updated or
// deleted. Create returns ErrAlreadyCancelled when the appointment already
// has a record; lookups return db.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error)
	// List returns records newest first together with the total count.
	List(ctx context.Context, limit, offset int) ([]*Record, int, error)
}
