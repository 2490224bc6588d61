package domain

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"offchain-settlement/pkg/eip712"
)

var (
	ErrInvalidBytes32   = errors.New("invalid bytes32")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// FieldError ties a decoding failure to the message field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("field %s: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

var ReceiptSchema = eip712.Schema{
	PrimaryType: "Receipt",
	Fields: []apitypes.Type{
		{Name: "payer", Type: "address"},
		{Name: "merchant", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "serviceId", Type: "bytes32"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "expiry", Type: "uint256"},
	},
}

// TransferAuthorizationSchema follows the EIP-3009 transferWithAuthorization layout.
var TransferAuthorizationSchema = eip712.Schema{
	PrimaryType: "TransferWithAuthorization",
	Fields: []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

var ChannelWithdrawalSchema = eip712.Schema{
	PrimaryType: "ChannelWithdrawal",
	Fields: []apitypes.Type{
		{Name: "payer", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "deadline", Type: "uint256"},
	},
}

var SessionSchema = eip712.Schema{
	PrimaryType: "Session",
	Fields: []apitypes.Type{
		{Name: "account", Type: "address"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "issuedAt", Type: "uint256"},
	},
}

// ---- Decoded messages ----

// Receipt is a payer-signed authorization for one payer->merchant payment.
type Receipt struct {
	Payer     common.Address `json:"payer"`
	Merchant  common.Address `json:"merchant"`
	Amount    Amount         `json:"amount"`
	ServiceID common.Hash    `json:"service_id"`
	Nonce     common.Hash    `json:"nonce"`
	Expiry    int64          `json:"expiry"`
}

// Message returns the typed-data message matching ReceiptSchema.
func (r Receipt) Message() map[string]any {
	return map[string]any{
		"payer":     r.Payer.Hex(),
		"merchant":  r.Merchant.Hex(),
		"amount":    r.Amount.String(),
		"serviceId": r.ServiceID.Hex(),
		"nonce":     r.Nonce.Hex(),
		"expiry":    strconv.FormatInt(r.Expiry, 10),
	}
}

// TransferAuthorization is an EIP-3009 style authorization to move value.
type TransferAuthorization struct {
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       Amount         `json:"value"`
	ValidAfter  int64          `json:"valid_after"`
	ValidBefore int64          `json:"valid_before"`
	Nonce       common.Hash    `json:"nonce"`
}

func (a TransferAuthorization) Message() map[string]any {
	return map[string]any{
		"from":        a.From.Hex(),
		"to":          a.To.Hex(),
		"value":       a.Value.String(),
		"validAfter":  strconv.FormatInt(a.ValidAfter, 10),
		"validBefore": strconv.FormatInt(a.ValidBefore, 10),
		"nonce":       a.Nonce.Hex(),
	}
}

// ChannelWithdrawal is the payer's signed request to pull funds out of a channel.
type ChannelWithdrawal struct {
	Payer    common.Address `json:"payer"`
	Amount   Amount         `json:"amount"`
	Nonce    common.Hash    `json:"nonce"`
	Deadline int64          `json:"deadline"`
}

func (w ChannelWithdrawal) Message() map[string]any {
	return map[string]any{
		"payer":    w.Payer.Hex(),
		"amount":   w.Amount.String(),
		"nonce":    w.Nonce.Hex(),
		"deadline": strconv.FormatInt(w.Deadline, 10),
	}
}

// SessionGrant proves control of an account in exchange for a session token.
type SessionGrant struct {
	Account  common.Address `json:"account"`
	Nonce    common.Hash    `json:"nonce"`
	IssuedAt int64          `json:"issued_at"`
}

func (s SessionGrant) Message() map[string]any {
	return map[string]any{
		"account":  s.Account.Hex(),
		"nonce":    s.Nonce.Hex(),
		"issuedAt": strconv.FormatInt(s.IssuedAt, 10),
	}
}

// ---- Wire forms ----
// Untrusted input as it arrives from callers: hex strings, base-10 amount strings
// and 0x-prefixed 65-byte signatures. Decode applies the strict checks.

type SignedReceipt struct {
	Payer     string `json:"payer"`
	Merchant  string `json:"merchant"`
	Amount    string `json:"amount"`
	ServiceID string `json:"service_id"`
	Nonce     string `json:"nonce"`
	Expiry    int64  `json:"expiry"`
	Signature string `json:"signature"`
}

func (s SignedReceipt) Decode() (Receipt, error) {
	var (
		r   Receipt
		err error
	)
	if r.Payer, err = decodeAddress("payer", s.Payer); err != nil {
		return Receipt{}, err
	}
	if r.Merchant, err = decodeAddress("merchant", s.Merchant); err != nil {
		return Receipt{}, err
	}
	if r.Amount, err = decodeAmount("amount", s.Amount); err != nil {
		return Receipt{}, err
	}
	if r.ServiceID, err = decodeBytes32("service_id", s.ServiceID); err != nil {
		return Receipt{}, err
	}
	if r.Nonce, err = decodeBytes32("nonce", s.Nonce); err != nil {
		return Receipt{}, err
	}
	if r.Expiry, err = decodeTimestamp("expiry", s.Expiry); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

type SignedTransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"valid_after"`
	ValidBefore int64  `json:"valid_before"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

func (s SignedTransferAuthorization) Decode() (TransferAuthorization, error) {
	var (
		a   TransferAuthorization
		err error
	)
	if a.From, err = decodeAddress("from", s.From); err != nil {
		return TransferAuthorization{}, err
	}
	if a.To, err = decodeAddress("to", s.To); err != nil {
		return TransferAuthorization{}, err
	}
	if a.Value, err = decodeAmount("value", s.Value); err != nil {
		return TransferAuthorization{}, err
	}
	if a.ValidAfter, err = decodeTimestamp("valid_after", s.ValidAfter); err != nil {
		return TransferAuthorization{}, err
	}
	if a.ValidBefore, err = decodeTimestamp("valid_before", s.ValidBefore); err != nil {
		return TransferAuthorization{}, err
	}
	if a.Nonce, err = decodeBytes32("nonce", s.Nonce); err != nil {
		return TransferAuthorization{}, err
	}
	return a, nil
}

type SignedChannelWithdrawal struct {
	Payer     string `json:"payer"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

func (s SignedChannelWithdrawal) Decode() (ChannelWithdrawal, error) {
	var (
		w   ChannelWithdrawal
		err error
	)
	if w.Payer, err = decodeAddress("payer", s.Payer); err != nil {
		return ChannelWithdrawal{}, err
	}
	if w.Amount, err = decodeAmount("amount", s.Amount); err != nil {
		return ChannelWithdrawal{}, err
	}
	if w.Nonce, err = decodeBytes32("nonce", s.Nonce); err != nil {
		return ChannelWithdrawal{}, err
	}
	if w.Deadline, err = decodeTimestamp("deadline", s.Deadline); err != nil {
		return ChannelWithdrawal{}, err
	}
	return w, nil
}

type SignedSessionGrant struct {
	Account   string `json:"account"`
	Nonce     string `json:"nonce"`
	IssuedAt  int64  `json:"issued_at"`
	Signature string `json:"signature"`
}

func (s SignedSessionGrant) Decode() (SessionGrant, error) {
	var (
		g   SessionGrant
		err error
	)
	if g.Account, err = decodeAddress("account", s.Account); err != nil {
		return SessionGrant{}, err
	}
	if g.Nonce, err = decodeBytes32("nonce", s.Nonce); err != nil {
		return SessionGrant{}, err
	}
	if g.IssuedAt, err = decodeTimestamp("issued_at", s.IssuedAt); err != nil {
		return SessionGrant{}, err
	}
	return g, nil
}

func decodeAddress(field, s string) (common.Address, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return common.Address{}, &FieldError{Field: field, Err: err}
	}
	return a, nil
}

func decodeAmount(field, s string) (Amount, error) {
	a, err := ParseAmount(s)
	if err != nil {
		return Amount{}, &FieldError{Field: field, Err: err}
	}
	return a, nil
}

func decodeBytes32(field, s string) (common.Hash, error) {
	if !IsBytes32(s) {
		return common.Hash{}, &FieldError{Field: field, Err: ErrInvalidBytes32}
	}
	return common.HexToHash(s), nil
}

func decodeTimestamp(field string, ts int64) (int64, error) {
	if ts < 0 {
		return 0, &FieldError{Field: field, Err: ErrInvalidTimestamp}
	}
	return ts, nil
}
