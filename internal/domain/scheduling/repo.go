package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AppointmentRepository returns db.ErrNotFound when no appointment matches.
type AppointmentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Create exists for seeding the read model in tests and the embedded store.
	Create(ctx context.Context, a *Appointment) error
}
