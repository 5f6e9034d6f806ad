// Package cancellation records appointment cancellations and the refund and
// penalty amounts owed for them.
package cancellation

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPolicyInput = errors.New("invalid cancellation policy input")

// Initiator identifies who asked for the cancellation.
type Initiator string

const (
	InitiatorPatient  Initiator = "patient"
	InitiatorDoctor   Initiator = "doctor"
	InitiatorHospital Initiator = "hospital"
	InitiatorSystem   Initiator = "system"
	InitiatorAdmin    Initiator = "admin"
)

func (i Initiator) Valid() bool {
	switch i {
	case InitiatorPatient, InitiatorDoctor, InitiatorHospital, InitiatorSystem, InitiatorAdmin:
		return true
	}
	return false
}

const (
	fullRefundNotice = 24 * time.Hour
	halfRefundNotice = 6 * time.Hour
	// Doctors who cancel with less than fullRefundNotice pay 1/doctorPenaltyDivisor.
	doctorPenaltyDivisor = 5
)

// Quote is the outcome of applying the cancellation policy. Amounts are in
// minor currency units.
type Quote struct {
	RefundAmount  int64   `json:"refund_amount"`
	PenaltyAmount int64   `json:"penalty_amount"`
	HoursBefore   float64 `json:"hours_before"`
}

// ComputeCancellation applies the cancellation policy. Doctor cancellations
// always refund in full and may carry a late-notice penalty. For everyone
// else the refund shrinks with notice: full from 24h, half from 6h, nothing
// below that. Half refunds round down and the penalty takes the remainder.
func ComputeCancellation(initiatedBy Initiator, appointmentAt time.Time, amount int64, now time.Time) (Quote, error) {
	if !initiatedBy.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown initiator %q", ErrInvalidPolicyInput, initiatedBy)
	}
	if amount < 0 {
		return Quote{}, fmt.Errorf("%w: negative amount %d", ErrInvalidPolicyInput, amount)
	}

	notice := appointmentAt.Sub(now)
	q := Quote{HoursBefore: notice.Hours()}

	if initiatedBy == InitiatorDoctor {
		q.RefundAmount = amount
		if notice < fullRefundNotice {
			q.PenaltyAmount = amount / doctorPenaltyDivisor
		}
		return q, nil
	}

	switch {
	case notice >= fullRefundNotice:
		q.RefundAmount = amount
	case notice >= halfRefundNotice:
		q.RefundAmount = amount / 2
		q.PenaltyAmount = amount - q.RefundAmount
	default:
		q.PenaltyAmount = amount
	}
	return q, nil
}
