package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthbook/healthbook/internal/platform/db"
	"github.com/healthbook/healthbook/internal/platform/events"
)

type mockRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
	err      error
	advances int
	// beforeAdvance runs under the lock ahead of the status check, as if
	// another instance wrote the row after this one read it.
	beforeAdvance func(*Payment)
}

func newMockRepo() *mockRepo {
	return &mockRepo{payments: make(map[uuid.UUID]*Payment)}
}

func (m *mockRepo) add(txn string, amount int64, status RefundStatus) *Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Payment{
		ID:                   uuid.New(),
		AppointmentID:        uuid.New(),
		Amount:               amount,
		Currency:             "INR",
		GatewayTransactionID: txn,
		RefundStatus:         status,
	}
	m.payments[p.ID] = p
	return p
}

func (m *mockRepo) status(id uuid.UUID) RefundStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id].RefundStatus
}

func (m *mockRepo) find(match func(*Payment) bool) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	return m.find(func(p *Payment) bool { return p.ID == id })
}

func (m *mockRepo) GetByAppointment(_ context.Context, id uuid.UUID) (*Payment, error) {
	return m.find(func(p *Payment) bool { return p.AppointmentID == id })
}

func (m *mockRepo) GetByTransactionID(_ context.Context, txn string) (*Payment, error) {
	return m.find(func(p *Payment) bool { return p.GatewayTransactionID == txn })
}

func (m *mockRepo) AdvanceRefundStatus(_ context.Context, id uuid.UUID, target RefundStatus, refundID string, at time.Time) (RefundTransition, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return RefundTransition{}, false, m.err
	}
	p, ok := m.payments[id]
	if !ok {
		return RefundTransition{}, false, nil
	}
	if m.beforeAdvance != nil {
		m.beforeAdvance(p)
	}
	if !CanAdvance(p.RefundStatus, target) {
		return RefundTransition{}, false, nil
	}
	tr := RefundTransition{From: p.RefundStatus, To: target, At: at}
	p.RefundStatus = target
	if p.GatewayRefundID == nil && refundID != "" {
		p.GatewayRefundID = &refundID
	}
	if p.GatewayRefundID != nil {
		tr.GatewayRefundID = *p.GatewayRefundID
	}
	p.RefundUpdatedAt = &at
	m.advances++
	return tr, true, nil
}

func (m *mockRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.payments[p.ID] = p
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, evt events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

var errBoom = errors.New("connection reset")

func authenticated(event, txn, refundID string) *Notification {
	return &Notification{Event: event, TransactionID: txn, RefundID: refundID, authenticated: true}
}

// stallingPublisher holds every publish until its context ends.
type stallingPublisher struct{}

func (stallingPublisher) Publish(ctx context.Context, _ events.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stallingPublisher) Close() error { return nil }
