package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/healthbook/healthbook/internal/platform/db"
)

const (
	BucketPayments              = "payments"
	BucketPaymentsByTransaction = "payments_by_transaction"
	BucketPaymentsByAppointment = "payments_by_appointment"
)

// Buckets lists every bucket the Bolt repository needs.
var Buckets = []string{BucketPayments, BucketPaymentsByTransaction, BucketPaymentsByAppointment}

var errDuplicatePayment = errors.New("payment already exists for appointment or transaction")

type paymentRepoBolt struct{ store *db.BoltStore }

func NewRepoBolt(store *db.BoltStore) Repository { return &paymentRepoBolt{store: store} }

func getPayment(tx *bolt.Tx, id []byte) (*Payment, error) {
	raw := tx.Bucket([]byte(BucketPayments)).Get(id)
	if raw == nil {
		return nil, db.ErrNotFound
	}
	var p Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	return &p, nil
}

func putPayment(tx *bolt.Tx, p *Payment) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}
	return tx.Bucket([]byte(BucketPayments)).Put([]byte(p.ID.String()), raw)
}

func (r *paymentRepoBolt) view(index string, key string) (*Payment, error) {
	var p *Payment
	err := r.store.DB.View(func(tx *bolt.Tx) error {
		id := []byte(key)
		if index != "" {
			id = tx.Bucket([]byte(index)).Get([]byte(key))
			if id == nil {
				return db.ErrNotFound
			}
		}
		var err error
		p, err = getPayment(tx, id)
		return err
	})
	if err != nil {
		return nil, db.Wrap(err, "get payment")
	}
	return p, nil
}

func (r *paymentRepoBolt) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	return r.view("", id.String())
}

func (r *paymentRepoBolt) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return r.view(BucketPaymentsByAppointment, appointmentID.String())
}

func (r *paymentRepoBolt) GetByTransactionID(_ context.Context, transactionID string) (*Payment, error) {
	return r.view(BucketPaymentsByTransaction, transactionID)
}

// AdvanceRefundStatus checks and writes inside one Bolt write transaction,
// which Bolt serialises, so the check cannot go stale.
func (r *paymentRepoBolt) AdvanceRefundStatus(_ context.Context, id uuid.UUID, target RefundStatus, gatewayRefundID string, at time.Time) (RefundTransition, bool, error) {
	var (
		tr      RefundTransition
		changed bool
	)
	err := r.store.DB.Update(func(tx *bolt.Tx) error {
		p, err := getPayment(tx, []byte(id.String()))
		if err != nil {
			return err
		}
		if !CanAdvance(p.RefundStatus, target) {
			return nil
		}
		tr = RefundTransition{From: p.RefundStatus, To: target, At: at}
		p.RefundStatus = target
		if p.GatewayRefundID == nil && gatewayRefundID != "" {
			ref := gatewayRefundID
			p.GatewayRefundID = &ref
		}
		if p.GatewayRefundID != nil {
			tr.GatewayRefundID = *p.GatewayRefundID
		}
		p.RefundUpdatedAt = &at
		p.UpdatedAt = at
		changed = true
		return putPayment(tx, p)
	})
	if err != nil {
		return RefundTransition{}, false, db.Wrap(err, "advance refund status")
	}
	return tr, changed, nil
}

func (r *paymentRepoBolt) Create(_ context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.RefundStatus == "" {
		p.RefundStatus = RefundNone
	}
	if p.Currency == "" {
		p.Currency = "INR"
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	err := r.store.DB.Update(func(tx *bolt.Tx) error {
		byTxn := tx.Bucket([]byte(BucketPaymentsByTransaction))
		byAppt := tx.Bucket([]byte(BucketPaymentsByAppointment))
		if byTxn.Get([]byte(p.GatewayTransactionID)) != nil || byAppt.Get([]byte(p.AppointmentID.String())) != nil {
			return errDuplicatePayment
		}
		id := []byte(p.ID.String())
		if err := byTxn.Put([]byte(p.GatewayTransactionID), id); err != nil {
			return err
		}
		if err := byAppt.Put([]byte(p.AppointmentID.String()), id); err != nil {
			return err
		}
		return putPayment(tx, p)
	})
	if errors.Is(err, errDuplicatePayment) {
		return err
	}
	return db.Wrap(err, "create payment")
}
