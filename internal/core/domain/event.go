package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names a committed ledger mutation.
type EventKind string

const (
	EventChannelOpened      EventKind = "CHANNEL_OPENED"
	EventChannelToppedUp    EventKind = "CHANNEL_TOPPED_UP"
	EventChannelWithdrawn   EventKind = "CHANNEL_WITHDRAWN"
	EventReceiptSettled     EventKind = "RECEIPT_SETTLED"
	EventStreamCreated      EventKind = "STREAM_CREATED"
	EventStreamWithdrawn    EventKind = "STREAM_WITHDRAWN"
	EventStreamCancelled    EventKind = "STREAM_CANCELLED"
	EventTransferAuthorized EventKind = "TRANSFER_AUTHORIZED"
)

// LedgerEvent is an append-only record written in the same transaction as the
// mutation it describes. Seq is assigned by the store and strictly increases.
type LedgerEvent struct {
	Seq          int64           `json:"seq"`
	ID           uuid.UUID       `json:"id"`
	Kind         EventKind       `json:"kind"`
	Account      common.Address  `json:"account"`
	Counterparty *common.Address `json:"counterparty,omitempty"`
	Reference    string          `json:"reference"`
	Amount       Amount          `json:"amount"`
	Fee          Amount          `json:"fee"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewLedgerEvent builds an event with a fresh id. details may be nil.
func NewLedgerEvent(kind EventKind, account common.Address, reference string, amount Amount, now time.Time) *LedgerEvent {
	return &LedgerEvent{
		ID:        uuid.New(),
		Kind:      kind,
		Account:   account,
		Reference: reference,
		Amount:    amount,
		CreatedAt: now,
	}
}

// WithCounterparty sets the other side of the movement.
func (e *LedgerEvent) WithCounterparty(a common.Address) *LedgerEvent {
	e.Counterparty = &a
	return e
}

// WithDetails attaches a JSON document describing the outcome.
func (e *LedgerEvent) WithDetails(v any) *LedgerEvent {
	if b, err := json.Marshal(v); err == nil {
		e.Details = b
	}
	return e
}
