package payment

import (
	"encoding/json"
	"errors"

	"github.com/healthbook/healthbook/internal/platform/webhook"
)

var (
	ErrUnauthenticated  = errors.New("webhook signature invalid")
	ErrMalformedPayload = errors.New("webhook payload malformed")
)

// Notification is a gateway webhook that passed signature verification. The
// zero value and any value built outside Authenticate are unauthenticated
// and rejected by the Reconciler.
type Notification struct {
	Event         string
	TransactionID string
	RefundID      string

	authenticated bool
}

func (n *Notification) Authenticated() bool { return n != nil && n.authenticated }

type entity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
}

type notificationBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity entity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity entity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// Authenticator verifies gateway webhooks with the shared secret.
type Authenticator struct {
	secret string
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate checks signature over the exact raw bytes and only then parses
// them. Refund events must identify the payment, either through
// payload.payment.entity.id or payload.refund.entity.payment_id.
func (a *Authenticator) Authenticate(raw []byte, signature string) (*Notification, error) {
	if !webhook.VerifySignature(raw, a.secret, signature) {
		return nil, ErrUnauthenticated
	}

	var body notificationBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, ErrMalformedPayload
	}
	if body.Event == "" {
		return nil, ErrMalformedPayload
	}

	n := &Notification{Event: body.Event, authenticated: true}
	if body.Payload.Payment != nil {
		n.TransactionID = body.Payload.Payment.Entity.ID
	}
	if body.Payload.Refund != nil {
		n.RefundID = body.Payload.Refund.Entity.ID
		if n.TransactionID == "" {
			n.TransactionID = body.Payload.Refund.Entity.PaymentID
		}
	}

	if _, ok := TargetForEvent(n.Event); ok && n.TransactionID == "" {
		return nil, ErrMalformedPayload
	}
	return n, nil
}
