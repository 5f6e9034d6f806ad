package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthbook/healthbook/internal/platform/db"
)

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &paymentRepoPG{pool: pool} }

const paymentCols = `id, appointment_id, amount, currency, gateway_transaction_id,
	refund_status, gateway_refund_id, refund_updated_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.Amount, &p.Currency, &p.GatewayTransactionID,
		&p.RefundStatus, &p.GatewayRefundID, &p.RefundUpdatedAt, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *paymentRepoPG) getOne(ctx context.Context, where string, arg interface{}) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE `+where+` = $1`, arg))
	if err != nil {
		return nil, db.Wrap(err, "get payment")
	}
	return p, nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, "id", id)
}

func (r *paymentRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, "appointment_id", appointmentID)
}

func (r *paymentRepoPG) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	return r.getOne(ctx, "gateway_transaction_id", transactionID)
}

// AdvanceRefundStatus locks the row, checks its status and updates it in one
// statement. A concurrent caller waits on the lock and then sees the new
// status, so only one of them can move the row out of a given state.
func (r *paymentRepoPG) AdvanceRefundStatus(ctx context.Context, id uuid.UUID, target RefundStatus, gatewayRefundID string, at time.Time) (RefundTransition, bool, error) {
	from := AllowedFrom(target)
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	var prev, refundID string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		WITH prev AS (
			SELECT id, refund_status FROM payments WHERE id = $1 FOR UPDATE
		)
		UPDATE payments p
		SET refund_status = $2,
			gateway_refund_id = COALESCE(p.gateway_refund_id, NULLIF($3, '')),
			refund_updated_at = $4,
			updated_at = $4
		FROM prev
		WHERE p.id = prev.id AND prev.refund_status = ANY($5)
		RETURNING prev.refund_status, COALESCE(p.gateway_refund_id, '')`,
		id, string(target), gatewayRefundID, at, allowed).Scan(&prev, &refundID)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefundTransition{}, false, nil
	}
	if err != nil {
		return RefundTransition{}, false, db.Wrap(err, "advance refund status")
	}
	return RefundTransition{
		From:            RefundStatus(prev),
		To:              target,
		GatewayRefundID: refundID,
		At:              at,
	}, true, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
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
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (`+paymentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.AppointmentID, p.Amount, p.Currency, p.GatewayTransactionID,
		string(p.RefundStatus), p.GatewayRefundID, p.RefundUpdatedAt, p.CreatedAt, p.UpdatedAt)
	return db.Wrap(err, "create payment")
}
