package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthbook/healthbook/internal/domain/payment"
	"github.com/healthbook/healthbook/internal/domain/scheduling"
	"github.com/healthbook/healthbook/internal/platform/db"
	"github.com/healthbook/healthbook/internal/platform/events"
)

// AppointmentReader is the slice of the scheduling store cancellation reads.
type AppointmentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

// PaymentReader is the slice of the payment store cancellation reads. Refund
// status is never written from this package.
type PaymentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*payment.Payment, error)
}

type CancelRequest struct {
	AppointmentID uuid.UUID
	InitiatedBy   Initiator
	Reason        string
	RequestedBy   string
}

type Service struct {
	repo      Repository
	appts     AppointmentReader
	payments  PaymentReader
	tx        db.TxManager
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	publishTimeout time.Duration
}

const defaultPublishTimeout = 5 * time.Second

func NewService(repo Repository, appts AppointmentReader, payments PaymentReader, tx db.TxManager, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		appts:     appts,
		payments:  payments,
		tx:        tx,
		publisher: publisher,
		logger:    logger.With().Str("component", "cancellation").Logger(),
		now:       func() time.Time { return time.Now().UTC() },

		publishTimeout: defaultPublishTimeout,
	}
}

type snapshot struct {
	appt     *scheduling.Appointment
	payment  *payment.Payment
	existing *Record
}

// load fetches the appointment, its payment and, when withExisting is set,
// any prior cancellation concurrently. Not-found results are reported in that
// order of precedence. An appointment that references its payment must
// reference the one recorded for it.
func (s *Service) load(ctx context.Context, appointmentID uuid.UUID, withExisting bool) (*snapshot, error) {
	var (
		snap                   snapshot
		apptMissing, noPayment bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.appts.GetByID(gctx, appointmentID)
		if errors.Is(err, db.ErrNotFound) {
			apptMissing = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		snap.appt = a
		return nil
	})
	g.Go(func() error {
		p, err := s.payments.GetByAppointment(gctx, appointmentID)
		if errors.Is(err, db.ErrNotFound) {
			noPayment = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		snap.payment = p
		return nil
	})
	if withExisting {
		g.Go(func() error {
			r, err := s.repo.GetByAppointment(gctx, appointmentID)
			if errors.Is(err, db.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load cancellation: %w", err)
			}
			snap.existing = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch {
	case apptMissing:
		return nil, ErrAppointmentNotFound
	case noPayment:
		return nil, ErrPaymentNotFound
	}
	if ref := snap.appt.PaymentID; ref != nil && *ref != snap.payment.ID {
		return nil, fmt.Errorf("%w: appointment %s references %s, recorded payment is %s",
			ErrPaymentMismatch, appointmentID, *ref, snap.payment.ID)
	}
	return &snap, nil
}

// Cancel computes and stores the cancellation of one appointment. Exactly one
// of several concurrent calls for the same appointment succeeds; the rest get
// ErrAlreadyCancelled.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*Record, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrInvalidReason
	}
	if !req.InitiatedBy.Valid() {
		return nil, fmt.Errorf("%w: unknown initiator %q", ErrInvalidPolicyInput, req.InitiatedBy)
	}

	snap, err := s.load(ctx, req.AppointmentID, true)
	if err != nil {
		return nil, err
	}
	if snap.existing != nil {
		return nil, ErrAlreadyCancelled
	}

	now := s.now()
	q, err := ComputeCancellation(req.InitiatedBy, snap.appt.ScheduledAt, snap.payment.Amount, now)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:            uuid.New(),
		AppointmentID: req.AppointmentID,
		PaymentID:     snap.payment.ID,
		InitiatedBy:   req.InitiatedBy,
		Reason:        reason,
		PaymentAmount: snap.payment.Amount,
		RefundAmount:  q.RefundAmount,
		PenaltyAmount: q.PenaltyAmount,
		ScheduledAt:   snap.appt.ScheduledAt,
		EvaluatedAt:   now,
		RequestedBy:   req.RequestedBy,
		CreatedAt:     now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, rec)
	})
	if errors.Is(err, ErrAlreadyCancelled) {
		return nil, ErrAlreadyCancelled
	}
	if err != nil {
		return nil, fmt.Errorf("store cancellation: %w", err)
	}

	s.logger.Info().
		Str("cancellation_id", rec.ID.String()).
		Str("appointment_id", rec.AppointmentID.String()).
		Str("initiated_by", string(rec.InitiatedBy)).
		Int64("refund_amount", rec.RefundAmount).
		Int64("penalty_amount", rec.PenaltyAmount).
		Float64("hours_before", q.HoursBefore).
		Msg("appointment cancelled")

	// The record is committed; publishing outlives the request but is bounded
	// on its own.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	s.publish(pubCtx, rec)
	return rec, nil
}

func (s *Service) publish(ctx context.Context, rec *Record) {
	evt, err := events.New(events.CancellationCreated, rec.AppointmentID.String(), rec)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("cancellation_id", rec.ID.String()).
			Msg("failed to publish cancellation event")
	}
}

// Quote previews what Cancel would compute right now without storing it.
func (s *Service) Quote(ctx context.Context, appointmentID uuid.UUID, initiatedBy Initiator) (Quote, error) {
	if !initiatedBy.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown initiator %q", ErrInvalidPolicyInput, initiatedBy)
	}
	snap, err := s.load(ctx, appointmentID, false)
	if err != nil {
		return Quote{}, err
	}
	return ComputeCancellation(initiatedBy, snap.appt.ScheduledAt, snap.payment.Amount, s.now())
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrCancellationNotFound
	}
	return rec, err
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetByAppointment(ctx, appointmentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrCancellationNotFound
	}
	return rec, err
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	return s.repo.List(ctx, limit, offset)
}
