package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventIDHeader   = "X-Webhook-ID"
	EventTypeHeader = "X-Webhook-Event"
	TimestampHeader = "X-Webhook-Timestamp"
)

// DeliveryAttempt records the outcome of one HTTP delivery.
type DeliveryAttempt struct {
	EventID      string
	EventType    string
	StatusCode   int
	ResponseBody string
	Duration     time.Duration
	Attempt      int
	Error        string
}

// Succeeded reports whether the endpoint answered 2xx.
func (a *DeliveryAttempt) Succeeded() bool {
	return a.StatusCode >= 200 && a.StatusCode < 300
}

type SenderOption func(*Sender)

func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.httpClient = c }
}

func WithMaxRetries(n int) SenderOption {
	return func(s *Sender) { s.maxRetries = n }
}

func WithBackoff(d time.Duration) SenderOption {
	return func(s *Sender) { s.backoff = d }
}

// Sender POSTs signed JSON payloads to a single endpoint. Network errors and
// 5xx responses are retried with linear backoff; 4xx responses are not.
type Sender struct {
	url        string
	secret     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewSender(url, secret string, opts ...SenderOption) *Sender {
	s := &Sender{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send delivers payload and returns the last attempt. The error is non-nil
// when no attempt succeeded.
func (s *Sender) Send(ctx context.Context, eventID, eventType string, payload []byte) (*DeliveryAttempt, error) {
	sig := signaturePrefix + SignPayload(payload, s.secret)

	var last *DeliveryAttempt
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		last = s.deliver(ctx, eventID, eventType, payload, sig, attempt)
		if last.Succeeded() {
			return last, nil
		}
		if last.StatusCode >= 400 && last.StatusCode < 500 {
			break
		}
		if attempt < s.maxRetries {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}
	}
	return last, fmt.Errorf("deliver %s to %s: %s", eventType, s.url, last.Error)
}

func (s *Sender) deliver(ctx context.Context, eventID, eventType string, payload []byte, sig string, n int) *DeliveryAttempt {
	attempt := &DeliveryAttempt{EventID: eventID, EventType: eventType, Attempt: n}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)
	req.Header.Set(EventIDHeader, eventID)
	req.Header.Set(EventTypeHeader, eventType)
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(body)
	if !attempt.Succeeded() {
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return attempt
}
