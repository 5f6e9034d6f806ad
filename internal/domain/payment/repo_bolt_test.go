package payment

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthbook/healthbook/internal/platform/db"
)

func newBoltRepo(t *testing.T) Repository {
	t.Helper()
	store, err := db.OpenBolt(filepath.Join(t.TempDir(), "payments.db"), Buckets...)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRepoBolt(store)
}

func TestPaymentRepoBolt_Lookups(t *testing.T) {
	repo := newBoltRepo(t)
	ctx := context.Background()
	p := &Payment{AppointmentID: uuid.New(), Amount: 100000, GatewayTransactionID: "pay_1"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.RefundStatus != RefundNone {
		t.Errorf("expected default status none, got %s", p.RefundStatus)
	}

	for name, get := range map[string]func() (*Payment, error){
		"id":          func() (*Payment, error) { return repo.GetByID(ctx, p.ID) },
		"appointment": func() (*Payment, error) { return repo.GetByAppointment(ctx, p.AppointmentID) },
		"transaction": func() (*Payment, error) { return repo.GetByTransactionID(ctx, "pay_1") },
	} {
		got, err := get()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.ID != p.ID || got.Amount != 100000 {
			t.Errorf("%s: unexpected payment %+v", name, got)
		}
	}

	if _, err := repo.GetByTransactionID(ctx, "pay_missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPaymentRepoBolt_RejectsDuplicateTransaction(t *testing.T) {
	repo := newBoltRepo(t)
	ctx := context.Background()
	if err := repo.Create(ctx, &Payment{AppointmentID: uuid.New(), Amount: 1, GatewayTransactionID: "pay_1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, &Payment{AppointmentID: uuid.New(), Amount: 1, GatewayTransactionID: "pay_1"}); err == nil {
		t.Error("expected duplicate transaction to be rejected")
	}
}

func TestPaymentRepoBolt_AdvanceRefundStatus(t *testing.T) {
	repo := newBoltRepo(t)
	ctx := context.Background()
	p := &Payment{AppointmentID: uuid.New(), Amount: 100000, GatewayTransactionID: "pay_1"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tr, changed, err := repo.AdvanceRefundStatus(ctx, p.ID, RefundPending, "rfnd_1", at)
	if err != nil || !changed {
		t.Fatalf("expected change, got %v, %v", changed, err)
	}
	if tr.From != RefundNone || tr.To != RefundPending || tr.GatewayRefundID != "rfnd_1" {
		t.Errorf("unexpected transition %+v", tr)
	}
	_, changed, err = repo.AdvanceRefundStatus(ctx, p.ID, RefundPending, "rfnd_other", at)
	if err != nil || changed {
		t.Fatalf("expected no-op on repeat, got %v, %v", changed, err)
	}
	tr, changed, err = repo.AdvanceRefundStatus(ctx, p.ID, RefundProcessed, "rfnd_other", at)
	if err != nil || !changed {
		t.Fatalf("expected change to processed, got %v, %v", changed, err)
	}
	if tr.From != RefundPending || tr.GatewayRefundID != "rfnd_1" {
		t.Errorf("unexpected transition %+v", tr)
	}

	got, _ := repo.GetByID(ctx, p.ID)
	if got.RefundStatus != RefundProcessed {
		t.Errorf("expected processed, got %s", got.RefundStatus)
	}
	if got.GatewayRefundID == nil || *got.GatewayRefundID != "rfnd_1" {
		t.Errorf("expected first refund id to be kept, got %v", got.GatewayRefundID)
	}
	if got.RefundUpdatedAt == nil || !got.RefundUpdatedAt.Equal(at) {
		t.Errorf("unexpected refund_updated_at %v", got.RefundUpdatedAt)
	}
}

func TestPaymentRepoBolt_ConcurrentAdvanceSingleWinner(t *testing.T) {
	repo := newBoltRepo(t)
	ctx := context.Background()
	p := &Payment{AppointmentID: uuid.New(), Amount: 100000, GatewayTransactionID: "pay_1", RefundStatus: RefundPending}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := RefundProcessed
			if i%2 == 0 {
				target = RefundFailed
			}
			_, changed, err := repo.AdvanceRefundStatus(ctx, p.ID, target, "", time.Now())
			if err != nil {
				t.Errorf("advance: %v", err)
			}
			if changed {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one terminal transition, got %d", wins)
	}
}
