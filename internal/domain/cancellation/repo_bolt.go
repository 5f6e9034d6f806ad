package cancellation

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/healthbook/healthbook/internal/platform/db"
)

const (
	BucketCancellations              = "cancellations"
	BucketCancellationsByAppointment = "cancellations_by_appointment"
	BucketCancellationsByCreated     = "cancellations_by_created"
)

// Buckets lists every bucket the Bolt repository needs.
var Buckets = []string{BucketCancellations, BucketCancellationsByAppointment, BucketCancellationsByCreated}

type cancellationRepoBolt struct{ store *db.BoltStore }

func NewRepoBolt(store *db.BoltStore) Repository { return &cancellationRepoBolt{store: store} }

// createdKey sorts by creation time, then id.
func createdKey(r *Record) []byte {
	k := make([]byte, 8, 8+len(uuid.UUID{}))
	binary.BigEndian.PutUint64(k, uint64(r.CreatedAt.UnixNano()))
	return append(k, r.ID[:]...)
}

func getRecord(tx *bolt.Tx, id []byte) (*Record, error) {
	raw := tx.Bucket([]byte(BucketCancellations)).Get(id)
	if raw == nil {
		return nil, db.ErrNotFound
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode cancellation: %w", err)
	}
	return &r, nil
}

// Create checks the appointment index and writes inside one Update call.
// Bolt allows a single writer, so two racing creates cannot both pass the
// check.
func (r *cancellationRepoBolt) Create(_ context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cancellation: %w", err)
	}

	err = r.store.DB.Update(func(tx *bolt.Tx) error {
		byAppt := tx.Bucket([]byte(BucketCancellationsByAppointment))
		apptKey := []byte(rec.AppointmentID.String())
		if byAppt.Get(apptKey) != nil {
			return ErrAlreadyCancelled
		}
		id := []byte(rec.ID.String())
		if err := byAppt.Put(apptKey, id); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(BucketCancellationsByCreated)).Put(createdKey(rec), id); err != nil {
			return err
		}
		return tx.Bucket([]byte(BucketCancellations)).Put(id, raw)
	})
	if errors.Is(err, ErrAlreadyCancelled) {
		return err
	}
	return db.Wrap(err, "create cancellation")
}

func (r *cancellationRepoBolt) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	var rec *Record
	err := r.store.DB.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, []byte(id.String()))
		return err
	})
	if err != nil {
		return nil, db.Wrap(err, "get cancellation")
	}
	return rec, nil
}

func (r *cancellationRepoBolt) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Record, error) {
	var rec *Record
	err := r.store.DB.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(BucketCancellationsByAppointment)).Get([]byte(appointmentID.String()))
		if id == nil {
			return db.ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, id)
		return err
	})
	if err != nil {
		return nil, db.Wrap(err, "get cancellation")
	}
	return rec, nil
}

// List walks the creation index backwards.
func (r *cancellationRepoBolt) List(_ context.Context, limit, offset int) ([]*Record, int, error) {
	var (
		items []*Record
		total int
	)
	err := r.store.DB.View(func(tx *bolt.Tx) error {
		total = tx.Bucket([]byte(BucketCancellations)).Stats().KeyN

		c := tx.Bucket([]byte(BucketCancellationsByCreated)).Cursor()
		skipped := 0
		for k, id := c.Last(); k != nil && len(items) < limit; k, id = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			rec, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			items = append(items, rec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, db.Wrap(err, "list cancellations")
	}
	return items, total, nil
}
