package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbook/healthbook/internal/config"
	"github.com/healthbook/healthbook/internal/domain/cancellation"
	"github.com/healthbook/healthbook/internal/domain/payment"
	"github.com/healthbook/healthbook/internal/domain/scheduling"
	"github.com/healthbook/healthbook/internal/platform/events"
	"github.com/healthbook/healthbook/internal/platform/webhook"
)

const testSecret = "whsec_cli"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPolicyQuoteCommand(t *testing.T) {
	out, err := runCLI(t, "policy", "quote", "--amount", "1000", "--hours-before", "10", "--initiated-by", "patient")
	if err != nil {
		t.Fatalf("policy quote: %v", err)
	}
	if !strings.Contains(out, "refund=500 penalty=500") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = runCLI(t, "policy", "quote", "--amount", "1000", "--hours-before", "2", "--initiated-by", "doctor")
	if err != nil {
		t.Fatalf("policy quote: %v", err)
	}
	if !strings.Contains(out, "refund=1000 penalty=200") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := runCLI(t, "policy", "quote", "--amount", "-5"); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestWebhookSignCommand(t *testing.T) {
	payload := []byte(`{"event":"refund.processed"}`)
	file := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(file, payload, 0600); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "webhook", "sign", "--secret", testSecret, "--file", file)
	if err != nil {
		t.Fatalf("webhook sign: %v", err)
	}
	sig := strings.TrimSpace(out)
	if !webhook.VerifySignature(payload, testSecret, sig) {
		t.Errorf("printed signature %q does not verify", sig)
	}

	if _, err := runCLI(t, "webhook", "sign", "--file", file); err == nil {
		t.Error("expected error without --secret")
	}
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Env:                    "development",
		StoreDriver:            "bolt",
		BoltPath:               filepath.Join(t.TempDir(), "healthbook.db"),
		RequestTimeout:         5 * time.Second,
		WebhookSecret:          testSecret,
		WebhookSignatureHeader: "X-Razorpay-Signature",
		WebhookTimeout:         time.Second,
		WebhookBodyLimit:       "256K",
		EventsDriver:           "log",
		EventsBuffer:           64,
		EventsPublishTimeout:   time.Second,
		RefundTimeout:          time.Second,
	}
}

func TestServer_CancelThenReconcile(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer st.close()

	appt := &scheduling.Appointment{
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		ScheduledAt: time.Now().UTC().Add(48 * time.Hour),
	}
	if err := st.appointments.Create(ctx, appt); err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	p := &payment.Payment{AppointmentID: appt.ID, Amount: 150000, GatewayTransactionID: "pay_e2e"}
	if err := st.payments.Create(ctx, p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	logger := zerolog.Nop()
	e, drain := newServer(cfg, logger, st, events.NewLogPublisher(logger), nil)
	defer drain()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel",
		strings.NewReader(`{"initiated_by":"patient","reason":"moving city"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("cancel: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
	var record cancellation.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.RefundAmount != 150000 || record.PenaltyAmount != 0 {
		t.Errorf("unexpected amounts %d/%d", record.RefundAmount, record.PenaltyAmount)
	}

	for _, event := range []string{"refund.created", "refund.processed", "refund.created"} {
		body := fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":"pay_e2e"}},"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_e2e"}}}}`, event)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Razorpay-Signature", webhook.SignPayload([]byte(body), testSecret))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", event, rec.Code, rec.Body.String())
		}
	}

	got, err := st.payments.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.RefundStatus != payment.RefundProcessed {
		t.Errorf("expected processed, got %s", got.RefundStatus)
	}
	if got.GatewayRefundID == nil || *got.GatewayRefundID != "rfnd_1" {
		t.Errorf("expected gateway refund id rfnd_1, got %v", got.GatewayRefundID)
	}

	bad := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"event":"refund.failed"}`))
	bad.Header.Set("X-Razorpay-Signature", strings.Repeat("0", 64))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, bad)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: expected 401, got %d", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	cfg := testConfig(t)
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer st.close()
	e, drain := newServer(cfg, zerolog.Nop(), st, events.NewLogPublisher(zerolog.Nop()), nil)
	defer drain()

	for _, path := range []string{"/health", "/health/db"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestNewPublisher_DefaultsToLog(t *testing.T) {
	p, err := newPublisher(&config.Config{EventsDriver: "log"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if _, ok := p.(*events.LogPublisher); !ok {
		t.Errorf("expected *events.LogPublisher, got %T", p)
	}
	p, err = newPublisher(&config.Config{EventsDriver: "webhook", NotifyWebhookURL: "http://localhost:1", NotifyWebhookSecret: "s"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	if _, ok := p.(*events.WebhookPublisher); !ok {
		t.Errorf("expected *events.WebhookPublisher, got %T", p)
	}
}

// stripeRefunds records refunds the way Stripe would acknowledge them.
type stripeRefunds struct {
	mu       sync.Mutex
	requests []cancellation.RefundRequest
}

func (s *stripeRefunds) Refund(_ context.Context, req cancellation.RefundRequest) (*cancellation.RefundReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return &cancellation.RefundReceipt{GatewayRefundID: "re_e2e", Status: "pending"}, nil
}

func stripeSignature(payload []byte, secret string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, webhook.SignPayload(append([]byte(ts+"."), payload...), secret))
}

func seedAppointment(t *testing.T, st *stores, txn string, amount int64) (*scheduling.Appointment, *payment.Payment) {
	t.Helper()
	ctx := context.Background()
	appt := &scheduling.Appointment{
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		ScheduledAt: time.Now().UTC().Add(48 * time.Hour),
	}
	if err := st.appointments.Create(ctx, appt); err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	p := &payment.Payment{AppointmentID: appt.ID, Amount: amount, GatewayTransactionID: txn}
	if err := st.payments.Create(ctx, p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return appt, p
}

func TestServer_StripeRefundLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.StripeWebhookSecret = "whsec_stripe"
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer st.close()
	appt, p := seedAppointment(t, st, "pi_e2e", 90000)

	refunds := &stripeRefunds{}
	e, drain := newServer(cfg, zerolog.Nop(), st, events.NewLogPublisher(zerolog.Nop()), refunds)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel",
		strings.NewReader(`{"initiated_by":"patient","reason":"moving city"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("cancel: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := []byte(`{"id":"evt_1","object":"event","type":"refund.updated","data":{"object":{"id":"re_e2e","object":"refund","amount":90000,"payment_intent":"pi_e2e","status":"succeeded"}}}`)
	hook := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	hook.Header.Set("Stripe-Signature", stripeSignature(body, cfg.StripeWebhookSecret))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, hook)
	if rec.Code != http.StatusOK {
		t.Fatalf("stripe webhook: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	drain()

	got, err := st.payments.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.RefundStatus != payment.RefundProcessed || got.GatewayRefundID == nil || *got.GatewayRefundID != "re_e2e" {
		t.Errorf("unexpected payment state %s %v", got.RefundStatus, got.GatewayRefundID)
	}
	if len(refunds.requests) != 1 || refunds.requests[0].TransactionID != "pi_e2e" || refunds.requests[0].Amount != 90000 {
		t.Errorf("expected one refund of 90000 against pi_e2e, got %+v", refunds.requests)
	}
}

// stalledSink never finishes a delivery before its deadline.
type stalledSink struct{}

func (stalledSink) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledSink) Close() error { return nil }

func TestServer_WebhookNotHeldByEventSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.WebhookTimeout = 100 * time.Millisecond
	cfg.EventsPublishTimeout = 300 * time.Millisecond
	st, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer st.close()
	seedAppointment(t, st, "pay_stall", 1000)

	e, drain := newServer(cfg, zerolog.Nop(), st, stalledSink{}, nil)
	defer drain()

	body := `{"event":"refund.processed","payload":{"payment":{"entity":{"id":"pay_stall"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", webhook.SignPayload([]byte(body), testSecret))
	rec := httptest.NewRecorder()
	start := time.Now()
	e.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if elapsed > time.Second {
		t.Errorf("webhook response waited on the event sink for %s", elapsed)
	}
}
