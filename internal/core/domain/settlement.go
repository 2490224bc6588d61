package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BpsDenominator is the basis-point scale: 10_000 bps == 100%.
const BpsDenominator = 10_000

// SplitFee computes fee = floor(gross * feeBps / 10_000) and net = gross - fee.
// net + fee == gross holds for every input.
func SplitFee(gross Amount, feeBps uint64) (fee, net Amount, err error) {
	if feeBps > BpsDenominator {
		return Amount{}, Amount{}, fmt.Errorf("fee bps %d exceeds %d", feeBps, BpsDenominator)
	}
	fee, err = gross.MulDiv(NewAmount(feeBps), NewAmount(BpsDenominator))
	if err != nil {
		return Amount{}, Amount{}, err
	}
	net, err = gross.Sub(fee)
	if err != nil {
		return Amount{}, Amount{}, err
	}
	return fee, net, nil
}

// Settlement is the durable record of one applied receipt.
type Settlement struct {
	ID           uuid.UUID      `json:"id"`
	Digest       common.Hash    `json:"digest"`
	Payer        common.Address `json:"payer"`
	Merchant     common.Address `json:"merchant"`
	ServiceID    common.Hash    `json:"service_id"`
	Nonce        common.Hash    `json:"nonce"`
	Amount       Amount         `json:"amount"`
	Fee          Amount         `json:"fee"`
	Net          Amount         `json:"net"`
	FeeCollector common.Address `json:"fee_collector"`
	BalanceAfter Amount         `json:"balance_after"`
	SettledAt    time.Time      `json:"settled_at"`
}

// ReceiptResult reports the outcome of one receipt in a settlement batch.
// Exactly one of Settlement and Err is set.
type ReceiptResult struct {
	Index      int
	Digest     *common.Hash
	Settlement *Settlement
	Err        error
}

// OK reports whether the receipt settled.
func (r ReceiptResult) OK() bool {
	return r.Err == nil && r.Settlement != nil
}
