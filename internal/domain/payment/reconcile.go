package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/healthbook/healthbook/internal/platform/db"
	"github.com/healthbook/healthbook/internal/platform/events"
)

// Outcome describes what Apply did with a notification. Every outcome is a
// success from the gateway's point of view.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeNoop               Outcome = "noop"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeUnknownTransaction Outcome = "unknown_transaction"
)

// RefundEvent is the body of refund.* events published downstream.
type RefundEvent struct {
	PaymentID       uuid.UUID    `json:"payment_id"`
	AppointmentID   uuid.UUID    `json:"appointment_id"`
	TransactionID   string       `json:"gateway_transaction_id"`
	GatewayRefundID string       `json:"gateway_refund_id,omitempty"`
	Amount          int64        `json:"amount"`
	From            RefundStatus `json:"from"`
	To              RefundStatus `json:"to"`
	At              time.Time    `json:"at"`
}

var statusEvent = map[RefundStatus]string{
	RefundPending:   events.RefundPending,
	RefundProcessed: events.RefundProcessed,
	RefundFailed:    events.RefundFailed,
}

// Reconciler applies authenticated gateway notifications to payment refund
// state. Duplicate deliveries never regress state and publish nothing.
type Reconciler struct {
	repo      Repository
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
	inflight  singleflight.Group

	publishTimeout time.Duration
}

// DefaultPublishTimeout bounds event publishing after a committed change.
// Wrap slow sinks in events.AsyncPublisher so requests never wait on them.
const DefaultPublishTimeout = 5 * time.Second

func NewReconciler(repo Repository, publisher events.Publisher, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With().Str("component", "reconciler").Logger(),
		now:       func() time.Time { return time.Now().UTC() },

		publishTimeout: DefaultPublishTimeout,
	}
}

// Apply reconciles one notification. Concurrent identical deliveries inside
// this process share a single execution.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (Outcome, error) {
	if !n.Authenticated() {
		return "", ErrUnauthenticated
	}

	target, ok := TargetForEvent(n.Event)
	if !ok {
		r.logger.Debug().Str("event", n.Event).Msg("ignoring unhandled gateway event")
		return OutcomeIgnored, nil
	}

	v, err, _ := r.inflight.Do(n.Event+":"+n.TransactionID, func() (interface{}, error) {
		return r.apply(ctx, n, target)
	})
	out, _ := v.(Outcome)
	return out, err
}

func (r *Reconciler) apply(ctx context.Context, n *Notification, target RefundStatus) (Outcome, error) {
	log := r.logger.With().
		Str("event", n.Event).
		Str("transaction_id", n.TransactionID).
		Logger()

	p, err := r.repo.GetByTransactionID(ctx, n.TransactionID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn().Msg("webhook for unknown transaction, acknowledging without change")
		return OutcomeUnknownTransaction, nil
	}
	if err != nil {
		return "", fmt.Errorf("load payment for %s: %w", n.TransactionID, err)
	}

	if !CanAdvance(p.RefundStatus, target) {
		log.Debug().
			Str("current", string(p.RefundStatus)).
			Str("target", string(target)).
			Msg("refund status not forward, no-op")
		return OutcomeNoop, nil
	}

	tr, changed, err := r.repo.AdvanceRefundStatus(ctx, p.ID, target, n.RefundID, r.now())
	if err != nil {
		return "", fmt.Errorf("advance refund status of %s: %w", p.ID, err)
	}
	if !changed {
		log.Debug().Str("target", string(target)).Msg("refund status changed concurrently, no-op")
		return OutcomeNoop, nil
	}

	log.Info().
		Str("payment_id", p.ID.String()).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Msg("refund status advanced")

	body := RefundEvent{
		PaymentID:       p.ID,
		AppointmentID:   p.AppointmentID,
		TransactionID:   p.GatewayTransactionID,
		GatewayRefundID: tr.GatewayRefundID,
		Amount:          p.Amount,
		From:            tr.From,
		To:              tr.To,
		At:              tr.At,
	}

	// The state change is committed; publishing outlives the gateway request
	// but is bounded on its own.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()
	r.publish(pubCtx, statusEvent[target], body)
	if target == RefundFailed {
		log.Error().
			Str("payment_id", p.ID.String()).
			Str("appointment_id", p.AppointmentID.String()).
			Int64("amount", p.Amount).
			Msg("refund failed at gateway, manual follow-up required")
		r.publish(pubCtx, events.RefundFailedAlert, body)
	}

	return OutcomeApplied, nil
}

func (r *Reconciler) publish(ctx context.Context, eventType string, body RefundEvent) {
	evt, err := events.New(eventType, body.AppointmentID.String(), body)
	if err == nil {
		err = r.publisher.Publish(ctx, evt)
	}
	if err != nil {
		r.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("payment_id", body.PaymentID.String()).
			Msg("failed to publish refund event")
	}
}
