package cancellation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthbook/healthbook/internal/platform/db"
)

func newBoltRepo(t *testing.T) Repository {
	t.Helper()
	store, err := db.OpenBolt(filepath.Join(t.TempDir(), "cancellations.db"), Buckets...)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRepoBolt(store)
}

func sampleRecord(appointmentID uuid.UUID, createdAt time.Time) *Record {
	return &Record{
		AppointmentID: appointmentID,
		PaymentID:     uuid.New(),
		InitiatedBy:   InitiatorPatient,
		Reason:        "travel",
		PaymentAmount: 1000,
		RefundAmount:  500,
		PenaltyAmount: 500,
		ScheduledAt:   createdAt.Add(10 * time.Hour),
		EvaluatedAt:   createdAt,
		CreatedAt:     createdAt,
	}
}

func TestCancellationRepoBolt_CreateAndGet(t *testing.T) {
	repo := newBoltRepo(t)
	ctx := context.Background()
	rec := sampleRecord(uuid.New(), testNow)

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Fatal("expected id to be assigned")
	}

	byID, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	byAppt, err := repo.GetByAppointment(ctx, rec.AppointmentID)
	if err != nil {
		t.Fatalf("GetByAppointment: %v", err)
	}
	if byID.ID != rec.ID || byAppt.ID != rec.ID || byID.RefundAmount != 500 {
		t.Errorf("unexpected records %+v / %+v", byID, byAppt)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Create(ctx, sampleRecord(rec.AppointmentID, testNow)); !errors.Is(err, ErrAlreadyCancelled) {
		t.Errorf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestCancellationRepoBolt_ConcurrentCreate(t *testing.T) {
	repo := newBoltRepo(t)
	appt := uuid.New()

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(context.Background(), sampleRecord(appt, testNow))
			if err != nil && !errors.Is(err, ErrAlreadyCancelled) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 successful create, got %d", wins)
	}
	_, total, err := repo.List(context.Background(), 10, 0)
	if err != nil || total != 1 {
		t.Errorf("expected 1 stored record, got %d (%v)", total, err)
	}
}

func TestCancellationRepoBolt_ListNewestFirst(t *testing.T) {
	repo := newBoltRepo(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		rec := sampleRecord(uuid.New(), testNow.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	page, total, err := repo.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[2] {
		t.Errorf("unexpected page order")
	}

	tail, _, err := repo.List(ctx, 10, 4)
	if err != nil || len(tail) != 1 || tail[0].ID != ids[0] {
		t.Errorf("unexpected tail page: %v %d", err, len(tail))
	}
}
