package payment

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// StripeSignatureHeader carries Stripe's timestamped webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// Stripe event types that carry a Refund object.
var stripeRefundEvents = map[stripe.EventType]bool{
	"refund.created":        true,
	"refund.updated":        true,
	"refund.failed":         true,
	"charge.refund.updated": true,
}

// StripeAuthenticator verifies Stripe-signed webhooks and maps refund events
// onto the refund.created|processed|failed notifications the Reconciler
// applies. The payment intent id is the transaction id, so it only matches
// payments captured through Stripe.
type StripeAuthenticator struct {
	secret string
}

func NewStripeAuthenticator(secret string) *StripeAuthenticator {
	return &StripeAuthenticator{secret: secret}
}

// Authenticate checks the signature and its timestamp tolerance over the raw
// bytes before parsing them.
func (a *StripeAuthenticator) Authenticate(raw []byte, signature string) (*Notification, error) {
	if a.secret == "" {
		return nil, ErrUnauthenticated
	}
	if err := stripewebhook.ValidatePayload(raw, signature, a.secret); err != nil {
		return nil, ErrUnauthenticated
	}

	var evt stripe.Event
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Type == "" {
		return nil, ErrMalformedPayload
	}
	if !stripeRefundEvents[evt.Type] {
		return &Notification{Event: string(evt.Type), authenticated: true}, nil
	}

	var ref stripe.Refund
	if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &ref) != nil {
		return nil, ErrMalformedPayload
	}
	if ref.PaymentIntent == nil || ref.PaymentIntent.ID == "" {
		return nil, ErrMalformedPayload
	}
	return &Notification{
		Event:         refundEventFor(ref.Status),
		TransactionID: ref.PaymentIntent.ID,
		RefundID:      ref.ID,
		authenticated: true,
	}, nil
}

// refundEventFor maps a Stripe refund status to the gateway-neutral event.
// Statuses still in flight count as created.
func refundEventFor(status stripe.RefundStatus) string {
	switch status {
	case stripe.RefundStatusSucceeded:
		return EventRefundProcessed
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return EventRefundFailed
	default:
		return EventRefundCreated
	}
}
