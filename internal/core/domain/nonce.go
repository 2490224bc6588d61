package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NonceKind records which message consumed a nonce. All kinds share one nonce
// space per signer.
type NonceKind string

const (
	NonceKindReceipt           NonceKind = "RECEIPT"
	NonceKindTransfer          NonceKind = "TRANSFER_AUTHORIZATION"
	NonceKindChannelWithdrawal NonceKind = "CHANNEL_WITHDRAWAL"
	NonceKindSession           NonceKind = "SESSION"
)

// ConsumedNonce is a write-once (signer, nonce) entry.
type ConsumedNonce struct {
	Signer     common.Address `json:"signer"`
	Nonce      common.Hash    `json:"nonce"`
	Kind       NonceKind      `json:"kind"`
	ExpiresAt  int64          `json:"expires_at"` // Unix seconds; the message is void after this
	ConsumedAt time.Time      `json:"consumed_at"`
}

// NonceCacheKey is the canonical "signer:nonce" key shared by cache backends.
func NonceCacheKey(signer common.Address, nonce common.Hash) string {
	return AddressKey(signer) + ":" + nonce.Hex()
}
