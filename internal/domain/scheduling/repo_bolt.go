package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/healthbook/healthbook/internal/platform/db"
)

const BucketAppointments = "appointments"

type appointmentRepoBolt struct{ store *db.BoltStore }

func NewAppointmentRepoBolt(store *db.BoltStore) AppointmentRepository {
	return &appointmentRepoBolt{store: store}
}

func (r *appointmentRepoBolt) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := r.store.DB.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(BucketAppointments)).Get([]byte(id.String()))
		if raw == nil {
			return db.ErrNotFound
		}
		return json.Unmarshal(raw, &a)
	})
	if err != nil {
		return nil, db.Wrap(err, "get appointment")
	}
	return &a, nil
}

func (r *appointmentRepoBolt) Create(_ context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal appointment: %w", err)
	}
	err = r.store.DB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketAppointments)).Put([]byte(a.ID.String()), raw)
	})
	return db.Wrap(err, "create appointment")
}
