package domain

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("insufficient channel balance")

// Channel is a payer's prepaid balance, drawn down by signed receipts and withdrawals.
// It is never deleted; a drained channel simply holds a zero balance.
type Channel struct {
	Payer     common.Address `json:"payer"`
	Balance   Amount         `json:"balance"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Credit adds a strictly positive amount to the balance.
func (c *Channel) Credit(amount Amount) error {
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	next, err := c.Balance.Add(amount)
	if err != nil {
		return err
	}
	c.Balance = next
	return nil
}

// Debit removes a strictly positive amount. It never clamps: if the balance is
// short the channel is left unchanged and ErrInsufficientFunds is returned.
func (c *Channel) Debit(amount Amount) error {
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	if c.Balance.Lt(amount) {
		return ErrInsufficientFunds
	}
	next, err := c.Balance.Sub(amount)
	if err != nil {
		return err
	}
	c.Balance = next
	return nil
}
