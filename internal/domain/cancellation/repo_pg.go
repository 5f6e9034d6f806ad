package cancellation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthbook/healthbook/internal/platform/db"
)

const appointmentUniqueConstraint = "cancellations_appointment_id_key"

type cancellationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &cancellationRepoPG{pool: pool} }

const recordCols = `id, appointment_id, payment_id, initiated_by, reason, payment_amount,
	refund_amount, penalty_amount, scheduled_at, evaluated_at, COALESCE(requested_by, ''), created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.AppointmentID, &r.PaymentID, &r.InitiatedBy, &r.Reason, &r.PaymentAmount,
		&r.RefundAmount, &r.PenaltyAmount, &r.ScheduledAt, &r.EvaluatedAt, &r.RequestedBy, &r.CreatedAt)
	return &r, err
}

// Create relies on the unique constraint on appointment_id; a concurrent
// insert that loses surfaces as ErrAlreadyCancelled.
func (r *cancellationRepoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO cancellations (id, appointment_id, payment_id, initiated_by, reason, payment_amount,
			refund_amount, penalty_amount, scheduled_at, evaluated_at, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)`,
		rec.ID, rec.AppointmentID, rec.PaymentID, string(rec.InitiatedBy), rec.Reason, rec.PaymentAmount,
		rec.RefundAmount, rec.PenaltyAmount, rec.ScheduledAt, rec.EvaluatedAt, rec.RequestedBy, rec.CreatedAt)
	if db.IsUniqueViolation(err, appointmentUniqueConstraint) {
		return ErrAlreadyCancelled
	}
	return db.Wrap(err, "create cancellation")
}

func (r *cancellationRepoPG) getOne(ctx context.Context, where string, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM cancellations WHERE `+where+` = $1`, id))
	if err != nil {
		return nil, db.Wrap(err, "get cancellation")
	}
	return rec, nil
}

func (r *cancellationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.getOne(ctx, "id", id)
}

func (r *cancellationRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	return r.getOne(ctx, "appointment_id", appointmentID)
}

func (r *cancellationRepoPG) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM cancellations`).Scan(&total); err != nil {
		return nil, 0, db.Wrap(err, "count cancellations")
	}

	rows, err := conn.Query(ctx, `SELECT `+recordCols+` FROM cancellations
		ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Wrap(err, "list cancellations")
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, db.Wrap(err, "scan cancellation")
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Wrap(err, "list cancellations")
	}
	return items, total, nil
}
