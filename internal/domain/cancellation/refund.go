package cancellation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/healthbook/healthbook/internal/platform/db"
)

var (
	ErrRefundRejected     = errors.New("refund rejected by gateway")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// RefundRequest asks the gateway to return money for one cancellation.
// IdempotencyKey is stable per cancellation so retries never refund twice.
type RefundRequest struct {
	TransactionID  string
	Amount         int64
	Currency       string
	IdempotencyKey string
	CancellationID uuid.UUID
}

// RefundReceipt is the gateway's acknowledgement. The final outcome arrives
// later as a webhook.
type RefundReceipt struct {
	GatewayRefundID string
	Status          string
}

// RefundExecutor issues refunds at a payment gateway.
type RefundExecutor interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundReceipt, error)
}

// StripeRefunder issues refunds through the Stripe API.
type StripeRefunder struct {
	client *client.API
}

func NewStripeRefunder(apiKey string) *StripeRefunder {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeRefunder{client: sc}
}

func (s *StripeRefunder) Refund(ctx context.Context, req RefundRequest) (*RefundReceipt, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d", ErrRefundRejected, req.Amount)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.TransactionID),
		Amount:        stripe.Int64(req.Amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("cancellation_id", req.CancellationID.String())
	params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	params.Context = ctx

	ref, err := s.client.Refunds.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &RefundReceipt{GatewayRefundID: ref.ID, Status: string(ref.Status)}, nil
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrGatewayUnavailable, stripeErr.Msg)
		}
		if stripeErr.Code == stripe.ErrorCodeIdempotencyKeyInUse {
			return fmt.Errorf("%w: refund already in progress", ErrGatewayUnavailable)
		}
		return fmt.Errorf("%w: %s (%s)", ErrRefundRejected, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

// RefundResult reports what a dispatch did.
type RefundResult struct {
	CancellationID  uuid.UUID `json:"cancellation_id"`
	Amount          int64     `json:"amount"`
	Skipped         bool      `json:"skipped"`
	GatewayRefundID string    `json:"gateway_refund_id,omitempty"`
	GatewayStatus   string    `json:"gateway_status,omitempty"`
}

// DefaultRefundTimeout bounds one background refund dispatch.
const DefaultRefundTimeout = 30 * time.Second

// RefundDispatcher hands the refund owed by a cancellation to the gateway.
// It never touches refund status; that follows from the gateway's webhooks.
type RefundDispatcher struct {
	repo     Repository
	payments PaymentReader
	exec     RefundExecutor
	logger   zerolog.Logger

	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRefundDispatcher(repo Repository, payments PaymentReader, exec RefundExecutor, logger zerolog.Logger) *RefundDispatcher {
	return &RefundDispatcher{
		repo:     repo,
		payments: payments,
		exec:     exec,
		logger:   logger.With().Str("component", "refund_dispatcher").Logger(),
		timeout:  DefaultRefundTimeout,
	}
}

// SetTimeout changes the bound on background dispatches. Non-positive values
// are ignored.
func (d *RefundDispatcher) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// DispatchAsync dispatches the refund for rec in the background, detached
// from ctx's cancellation and bounded by the dispatcher's timeout. Failures
// are logged; the refund endpoint retries them with the same idempotency key.
func (d *RefundDispatcher) DispatchAsync(ctx context.Context, rec *Record) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if _, err := d.Dispatch(ctx, rec); err != nil {
			d.logger.Warn().Err(err).Str("cancellation_id", rec.ID.String()).Msg("refund not dispatched")
		}
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *RefundDispatcher) Wait() {
	d.wg.Wait()
}

func idempotencyKey(rec *Record) string {
	return "cancellation-refund-" + rec.ID.String()
}

func (d *RefundDispatcher) Dispatch(ctx context.Context, rec *Record) (*RefundResult, error) {
	result := &RefundResult{CancellationID: rec.ID, Amount: rec.RefundAmount}
	if rec.RefundAmount == 0 {
		result.Skipped = true
		return result, nil
	}

	p, err := d.payments.GetByID(ctx, rec.PaymentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}

	receipt, err := d.exec.Refund(ctx, RefundRequest{
		TransactionID:  p.GatewayTransactionID,
		Amount:         rec.RefundAmount,
		Currency:       p.Currency,
		IdempotencyKey: idempotencyKey(rec),
		CancellationID: rec.ID,
	})
	if err != nil {
		d.logger.Error().Err(err).
			Str("cancellation_id", rec.ID.String()).
			Str("transaction_id", p.GatewayTransactionID).
			Int64("amount", rec.RefundAmount).
			Msg("refund dispatch failed")
		return nil, err
	}

	d.logger.Info().
		Str("cancellation_id", rec.ID.String()).
		Str("gateway_refund_id", receipt.GatewayRefundID).
		Str("gateway_status", receipt.Status).
		Msg("refund dispatched")

	result.GatewayRefundID = receipt.GatewayRefundID
	result.GatewayStatus = receipt.Status
	return result, nil
}

// DispatchByID retries the refund for a stored cancellation.
func (d *RefundDispatcher) DispatchByID(ctx context.Context, id uuid.UUID) (*RefundResult, error) {
	rec, err := d.repo.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrCancellationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cancellation: %w", err)
	}
	return d.Dispatch(ctx, rec)
}
