package payment

import (
	"errors"
	"testing"

	"github.com/healthbook/healthbook/internal/platform/webhook"
)

const testSecret = "whsec_test"

func signed(body string) ([]byte, string) {
	raw := []byte(body)
	return raw, webhook.SignPayload(raw, testSecret)
}

func TestAuthenticate_Valid(t *testing.T) {
	raw, sig := signed(`{"event":"refund.processed","payload":{"payment":{"entity":{"id":"pay_1"}},"refund":{"entity":{"id":"rfnd_1"}}}}`)

	n, err := NewAuthenticator(testSecret).Authenticate(raw, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.Authenticated() {
		t.Error("expected authenticated notification")
	}
	if n.Event != "refund.processed" || n.TransactionID != "pay_1" || n.RefundID != "rfnd_1" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestAuthenticate_RefundPaymentIDFallback(t *testing.T) {
	raw, sig := signed(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_2","payment_id":"pay_2"}}}}`)

	n, err := NewAuthenticator(testSecret).Authenticate(raw, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.TransactionID != "pay_2" {
		t.Errorf("expected pay_2, got %s", n.TransactionID)
	}
}

func TestAuthenticate_BadSignatureIsCheckedBeforeParsing(t *testing.T) {
	raw := []byte(`not json at all`)
	_, err := NewAuthenticator(testSecret).Authenticate(raw, "deadbeef")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"invalid json", `{"event":`, ErrMalformedPayload},
		{"missing event", `{"payload":{"payment":{"entity":{"id":"pay_1"}}}}`, ErrMalformedPayload},
		{"refund event without payment", `{"event":"refund.failed","payload":{}}`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, sig := signed(tt.body)
			if _, err := NewAuthenticator(testSecret).Authenticate(raw, sig); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAuthenticate_UnknownEventWithoutPayment(t *testing.T) {
	raw, sig := signed(`{"event":"order.paid","payload":{}}`)
	n, err := NewAuthenticator(testSecret).Authenticate(raw, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Event != "order.paid" {
		t.Errorf("unexpected event %s", n.Event)
	}
}

func TestAuthenticate_EmptySecretRejectsEverything(t *testing.T) {
	raw := []byte(`{"event":"refund.created"}`)
	if _, err := NewAuthenticator("").Authenticate(raw, webhook.SignPayload(raw, "")); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestNotification_ZeroValueNotAuthenticated(t *testing.T) {
	var nilN *Notification
	if nilN.Authenticated() || (&Notification{Event: "refund.created"}).Authenticated() {
		t.Error("notifications built outside Authenticate must not be authenticated")
	}
}
