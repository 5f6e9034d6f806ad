package cancellation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbook/healthbook/internal/domain/payment"
	"github.com/healthbook/healthbook/internal/domain/scheduling"
	"github.com/healthbook/healthbook/internal/platform/db"
	"github.com/healthbook/healthbook/internal/platform/events"
)

var (
	testNow = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	errBoom = errors.New("connection reset")
)

type mockRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	err     error
	// hideExisting makes GetByAppointment miss, as if another request had
	// not committed yet when this one looked.
	hideExisting bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *mockRepo) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.records {
		if existing.AppointmentID == r.AppointmentID {
			return ErrAlreadyCancelled
		}
	}
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) GetByAppointment(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.hideExisting {
		return nil, db.ErrNotFound
	}
	for _, r := range m.records {
		if r.AppointmentID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	all := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type mockAppointments struct {
	appts map[uuid.UUID]*scheduling.Appointment
	err   error
}

func (m *mockAppointments) GetByID(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.appts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return a, nil
}

type mockPayments struct {
	payments map[uuid.UUID]*payment.Payment
	err      error
}

func (m *mockPayments) GetByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockPayments) GetByAppointment(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.payments {
		if p.AppointmentID == id {
			return p, nil
		}
	}
	return nil, db.ErrNotFound
}

type countingTx struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return fn(ctx)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
	// stall holds each publish until its context ends.
	stall bool
}

func (f *fakePublisher) Publish(ctx context.Context, evt events.Event) error {
	if f.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeExecutor struct {
	mu       sync.Mutex
	requests []RefundRequest
	err      error
	// release, when set, holds each refund until it is closed; ctxErr
	// records whether the refund's context had ended by then.
	release chan struct{}
	ctxErr  error
}

func (f *fakeExecutor) Refund(ctx context.Context, req RefundRequest) (*RefundReceipt, error) {
	if f.release != nil {
		<-f.release
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &RefundReceipt{GatewayRefundID: "rfnd_" + req.TransactionID, Status: "pending"}, nil
}

// fixture is one appointment with a captured payment.
type fixture struct {
	repo      *mockRepo
	appts     *mockAppointments
	payments  *mockPayments
	tx        *countingTx
	publisher *fakePublisher
	svc       *Service
	appt      *scheduling.Appointment
	payment   *payment.Payment
}

func newFixture(hoursBefore float64, amount int64) *fixture {
	appt := &scheduling.Appointment{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		DoctorID:    uuid.New(),
		ScheduledAt: testNow.Add(time.Duration(hoursBefore * float64(time.Hour))),
	}
	p := &payment.Payment{
		ID:                   uuid.New(),
		AppointmentID:        appt.ID,
		Amount:               amount,
		Currency:             "INR",
		GatewayTransactionID: "pay_" + appt.ID.String()[:8],
		RefundStatus:         payment.RefundNone,
	}
	appt.PaymentID = &p.ID

	f := &fixture{
		repo:      newMockRepo(),
		appts:     &mockAppointments{appts: map[uuid.UUID]*scheduling.Appointment{appt.ID: appt}},
		payments:  &mockPayments{payments: map[uuid.UUID]*payment.Payment{p.ID: p}},
		tx:        &countingTx{},
		publisher: &fakePublisher{},
		appt:      appt,
		payment:   p,
	}
	f.svc = NewService(f.repo, f.appts, f.payments, f.tx, f.publisher, zerolog.Nop())
	f.svc.now = func() time.Time { return testNow }
	return f
}
