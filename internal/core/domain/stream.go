package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrInvalidSchedule = errors.New("invalid stream schedule")
	ErrStreamInactive  = errors.New("stream is not active")
	ErrCliffNotReached = errors.New("stream cliff has not been reached")
	ErrNotCancelable   = errors.New("stream is not cancelable")
)

// Stream locks Deposit at creation and releases it linearly to Recipient between
// StartTime and EndTime, with nothing released before CliffTime.
type Stream struct {
	ID         uuid.UUID      `json:"id"`
	Sender     common.Address `json:"sender"`
	Recipient  common.Address `json:"recipient"`
	Deposit    Amount         `json:"deposit"`
	Withdrawn  Amount         `json:"withdrawn"`
	StartTime  int64          `json:"start_time"`
	CliffTime  int64          `json:"cliff_time"`
	EndTime    int64          `json:"end_time"`
	Cancelable bool           `json:"cancelable"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate checks the immutable creation parameters.
func (s *Stream) Validate() error {
	switch {
	case s.Deposit.IsZero():
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	case s.Sender == s.Recipient:
		return fmt.Errorf("%w: sender and recipient must differ", ErrInvalidSchedule)
	case s.StartTime < 0:
		return fmt.Errorf("%w: start_time must not be negative", ErrInvalidSchedule)
	case s.EndTime <= s.StartTime:
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidSchedule)
	case s.CliffTime < s.StartTime || s.CliffTime > s.EndTime:
		return fmt.Errorf("%w: cliff_time must lie within [start_time, end_time]", ErrInvalidSchedule)
	}
	return nil
}

// VestedAmount is the cumulative amount released at now. It multiplies before
// dividing, is non-decreasing in now and equals Deposit exactly from EndTime on.
func (s *Stream) VestedAmount(now int64) Amount {
	if now < s.CliffTime {
		return Amount{}
	}
	if now >= s.EndTime {
		return s.Deposit
	}
	elapsed := uint64(now - s.StartTime)
	duration := uint64(s.EndTime - s.StartTime)
	vested, err := s.Deposit.MulDiv(NewAmount(elapsed), NewAmount(duration))
	if err != nil {
		// elapsed < duration keeps the quotient below Deposit.
		return s.Deposit
	}
	return vested
}

// RatePerSecond is Deposit / duration rounded down. Informational only.
func (s *Stream) RatePerSecond() Amount {
	rate, err := s.Deposit.Div(NewAmount(uint64(s.EndTime - s.StartTime)))
	if err != nil {
		return Amount{}
	}
	return rate
}

// Withdrawable is what the recipient could pull out at now.
func (s *Stream) Withdrawable(now int64) Amount {
	if !s.Active {
		return Amount{}
	}
	w, err := s.VestedAmount(now).Sub(s.Withdrawn)
	if err != nil {
		return Amount{}
	}
	return w
}

// WithdrawOutcome is the result of a recipient withdrawal.
// NothingToWithdraw is a valid empty result, not an error.
type WithdrawOutcome struct {
	StreamID          uuid.UUID `json:"stream_id"`
	Amount            Amount    `json:"amount"`
	NothingToWithdraw bool      `json:"nothing_to_withdraw"`
	WithdrawnTotal    Amount    `json:"withdrawn_total"`
	Active            bool      `json:"active"`
}

// ApplyWithdraw moves everything vested at now into Withdrawn and deactivates the
// stream once the full deposit has been withdrawn. Caller identity is checked by
// the caller of this method.
func (s *Stream) ApplyWithdraw(now int64) (WithdrawOutcome, error) {
	if !s.Active {
		return WithdrawOutcome{}, ErrStreamInactive
	}
	if now < s.CliffTime {
		return WithdrawOutcome{}, ErrCliffNotReached
	}
	amount := s.Withdrawable(now)
	if amount.IsZero() {
		return WithdrawOutcome{
			StreamID:          s.ID,
			NothingToWithdraw: true,
			WithdrawnTotal:    s.Withdrawn,
			Active:            s.Active,
		}, nil
	}
	withdrawn, err := s.Withdrawn.Add(amount)
	if err != nil {
		return WithdrawOutcome{}, err
	}
	s.Withdrawn = withdrawn
	if s.Withdrawn.Eq(s.Deposit) {
		s.Active = false
	}
	return WithdrawOutcome{
		StreamID:       s.ID,
		Amount:         amount,
		WithdrawnTotal: s.Withdrawn,
		Active:         s.Active,
	}, nil
}

// CancelOutcome splits a cancelled stream's deposit.
// SenderRefund + RecipientRemaining + WithdrawnBefore == deposit.
type CancelOutcome struct {
	StreamID           uuid.UUID `json:"stream_id"`
	VestedAtCancel     Amount    `json:"vested_at_cancel"`
	WithdrawnBefore    Amount    `json:"withdrawn_before"`
	RecipientRemaining Amount    `json:"recipient_remaining"`
	SenderRefund       Amount    `json:"sender_refund"`
}

// ApplyCancel freezes the stream at now. Withdrawn is advanced to the vested
// amount so the recipient's remaining claim is settled through the outcome and
// cannot be withdrawn a second time.
func (s *Stream) ApplyCancel(now int64) (CancelOutcome, error) {
	if !s.Cancelable {
		return CancelOutcome{}, ErrNotCancelable
	}
	if !s.Active {
		return CancelOutcome{}, ErrStreamInactive
	}
	vested := s.VestedAmount(now)
	remaining, err := vested.Sub(s.Withdrawn)
	if err != nil {
		remaining = Amount{}
	}
	refund, err := s.Deposit.Sub(vested)
	if err != nil {
		return CancelOutcome{}, err
	}
	out := CancelOutcome{
		StreamID:           s.ID,
		VestedAtCancel:     vested,
		WithdrawnBefore:    s.Withdrawn,
		RecipientRemaining: remaining,
		SenderRefund:       refund,
	}
	if s.Withdrawn.Lt(vested) {
		s.Withdrawn = vested
	}
	s.Active = false
	return out, nil
}
