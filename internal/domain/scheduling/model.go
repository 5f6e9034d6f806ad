// Package scheduling holds the appointment read model. Booking and
// availability live in an upstream system; this service only reads the
// fields cancellation needs.
package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Appointment struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
