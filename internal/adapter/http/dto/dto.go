package dto

import (
	"errors"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Signed messages are bound without field validators: the services decode them
// strictly and report SIG_/AMT_ codes per field.

// SettleBatchRequest is the request body for receipt settlement.
type SettleBatchRequest struct {
	Receipts []domain.SignedReceipt `json:"receipts" binding:"required,min=1"`
}

// ReceiptResultResponse reports one receipt of a batch.
type ReceiptResultResponse struct {
	Index      int                `json:"index"`
	Status     string             `json:"status"` // settled, rejected
	Digest     *common.Hash       `json:"digest,omitempty"`
	Settlement *domain.Settlement `json:"settlement,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Message    string             `json:"message,omitempty"`
	Retryable  bool               `json:"retryable,omitempty"`
}

// SettleBatchResponse is the response body for receipt settlement.
type SettleBatchResponse struct {
	Settled  int                     `json:"settled"`
	Rejected int                     `json:"rejected"`
	Results  []ReceiptResultResponse `json:"results"`
}

// NewSettleBatchResponse maps engine results to the wire form.
func NewSettleBatchResponse(results []domain.ReceiptResult) SettleBatchResponse {
	resp := SettleBatchResponse{Results: make([]ReceiptResultResponse, 0, len(results))}
	for _, r := range results {
		item := ReceiptResultResponse{Index: r.Index, Digest: r.Digest}
		if r.OK() {
			item.Status = "settled"
			item.Settlement = r.Settlement
			resp.Settled++
		} else {
			item.Status = "rejected"
			item.ErrorCode = apperror.CodeOf(r.Err)
			item.Message = publicMessage(r.Err)
			item.Retryable = apperror.Retryable(r.Err)
			resp.Rejected++
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

func publicMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && !apperror.IsInfrastructure(err) {
		return appErr.Message
	}
	return "Internal server error"
}

// DepositRequest is the operator request body for crediting a channel.
// The channel is opened on first deposit.
type DepositRequest struct {
	Payer  string `json:"payer" binding:"required,eth_addr_strict"`
	Amount string `json:"amount" binding:"required,atomic_amount"`
}

// ChannelResponse is the public view of a channel.
type ChannelResponse struct {
	Payer     common.Address `json:"payer"`
	Balance   domain.Amount  `json:"balance"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func NewChannelResponse(ch *domain.Channel) ChannelResponse {
	return ChannelResponse{
		Payer:     ch.Payer,
		Balance:   ch.Balance,
		CreatedAt: ch.CreatedAt.Format(time.RFC3339),
		UpdatedAt: ch.UpdatedAt.Format(time.RFC3339),
	}
}

// WithdrawalResponse is the committed outcome of a signed channel withdrawal.
type WithdrawalResponse struct {
	Payer        common.Address `json:"payer"`
	Amount       domain.Amount  `json:"amount"`
	BalanceAfter domain.Amount  `json:"balance_after"`
	Digest       common.Hash    `json:"digest"`
}

func NewWithdrawalResponse(r *ports.ChannelWithdrawalResult) WithdrawalResponse {
	return WithdrawalResponse{
		Payer:        r.Payer,
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		Digest:       r.Digest,
	}
}

// TransferAuthorizationResponse is handed to the chain submitter.
type TransferAuthorizationResponse struct {
	Digest common.Hash    `json:"digest"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Value  domain.Amount  `json:"value"`
	Nonce  common.Hash    `json:"nonce"`
}

func NewTransferAuthorizationResponse(r *ports.TransferAuthorizationResult) TransferAuthorizationResponse {
	return TransferAuthorizationResponse{
		Digest: r.Digest,
		From:   r.From,
		To:     r.To,
		Value:  r.Value,
		Nonce:  r.Nonce,
	}
}

// SessionResponse is the response body for a successful session grant.
type SessionResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateStreamRequest is the operator request body for stream creation.
type CreateStreamRequest struct {
	Sender     string `json:"sender" binding:"required,eth_addr_strict"`
	Recipient  string `json:"recipient" binding:"required,eth_addr_strict"`
	Deposit    string `json:"deposit" binding:"required,atomic_amount"`
	StartTime  int64  `json:"start_time" binding:"gte=0"`
	CliffTime  int64  `json:"cliff_time" binding:"gte=0"`
	EndTime    int64  `json:"end_time" binding:"gt=0"`
	Cancelable *bool  `json:"cancelable"`
}

// ToPort converts a validated request. Cancelable defaults to true.
func (r CreateStreamRequest) ToPort() (ports.CreateStreamRequest, error) {
	sender, err := domain.ParseAddress(r.Sender)
	if err != nil {
		return ports.CreateStreamRequest{}, apperror.ErrMalformedAddress("sender")
	}
	recipient, err := domain.ParseAddress(r.Recipient)
	if err != nil {
		return ports.CreateStreamRequest{}, apperror.ErrMalformedAddress("recipient")
	}
	deposit, err := domain.ParseAmount(r.Deposit)
	if err != nil {
		return ports.CreateStreamRequest{}, apperror.ErrInvalidAmount()
	}
	cancelable := true
	if r.Cancelable != nil {
		cancelable = *r.Cancelable
	}
	return ports.CreateStreamRequest{
		Sender:     sender,
		Recipient:  recipient,
		Deposit:    deposit,
		StartTime:  r.StartTime,
		CliffTime:  r.CliffTime,
		EndTime:    r.EndTime,
		Cancelable: cancelable,
	}, nil
}

// StreamResponse is a stream with its vesting figures at as_of.
type StreamResponse struct {
	ID            uuid.UUID      `json:"id"`
	Sender        common.Address `json:"sender"`
	Recipient     common.Address `json:"recipient"`
	Deposit       domain.Amount  `json:"deposit"`
	Withdrawn     domain.Amount  `json:"withdrawn"`
	StartTime     int64          `json:"start_time"`
	CliffTime     int64          `json:"cliff_time"`
	EndTime       int64          `json:"end_time"`
	Cancelable    bool           `json:"cancelable"`
	Active        bool           `json:"active"`
	Vested        domain.Amount  `json:"vested"`
	Withdrawable  domain.Amount  `json:"withdrawable"`
	RatePerSecond domain.Amount  `json:"rate_per_second"`
	AsOf          int64          `json:"as_of"`
}

func NewStreamResponse(v ports.StreamView) StreamResponse {
	s := v.Stream
	return StreamResponse{
		ID:            s.ID,
		Sender:        s.Sender,
		Recipient:     s.Recipient,
		Deposit:       s.Deposit,
		Withdrawn:     s.Withdrawn,
		StartTime:     s.StartTime,
		CliffTime:     s.CliffTime,
		EndTime:       s.EndTime,
		Cancelable:    s.Cancelable,
		Active:        s.Active,
		Vested:        v.Vested,
		Withdrawable:  v.Withdrawable,
		RatePerSecond: v.RatePerSecond,
		AsOf:          v.AsOf,
	}
}

// EventsQuery is the query string of the event feed.
type EventsQuery struct {
	After int64 `form:"after" binding:"gte=0"`
	Limit int   `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// EventsResponse is a page of the event feed. Next is the cursor for the following page.
type EventsResponse struct {
	Events []domain.LedgerEvent `json:"events"`
	Next   int64                `json:"next"`
}
