package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/pkg/eip712"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Clock supplies the current time. Injected so tests can pin it.
type Clock interface {
	Now() time.Time
}

// TypedDataVerifier recovers the signer of an EIP-712 message bound to the
// configured domain. It has no side effects and knows nothing about amounts or nonces.
type TypedDataVerifier interface {
	// Verify returns the recovered signer and the message digest.
	// Errors are *apperror.AppError: SIG_001, SIG_002 or REQ_001.
	Verify(schema eip712.Schema, message map[string]any, signature string) (common.Address, common.Hash, error)
}

// NonceCache is the in-front-of-the-database replay cache. It is an optimization:
// a miss never proves a nonce is unused.
type NonceCache interface {
	Seen(ctx context.Context, signer common.Address, nonce common.Hash) (bool, error)
	// Remember records the pair until expiresAt and reports whether it was new.
	Remember(ctx context.Context, signer common.Address, nonce common.Hash, expiresAt time.Time) (bool, error)
}

// NonceStore manages operator request nonces for HMAC replay prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// SettlementCache keeps recently settled receipts for digest lookups.
type SettlementCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, digest common.Hash) (*domain.Settlement, error)
	Set(ctx context.Context, s *domain.Settlement, ttl time.Duration) error
}

// SignatureService handles HMAC-SHA256 signing and verification of operator requests.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService handles session JWTs.
type TokenService interface {
	Generate(account common.Address) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Account common.Address
}

// Metrics records engine outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	// ObserveReceipt records "settled" or the rejection error code.
	ObserveReceipt(outcome string)
	ObserveChannel(op, outcome string)
	ObserveStream(op, outcome string)
	ObserveTransfer(outcome string)
	// ObserveNonceCache records "hit", "miss" or "error".
	ObserveNonceCache(result string)
}

// --- Service Ports (Business Logic) ---

// ChannelService manages payer channels.
type ChannelService interface {
	Open(ctx context.Context, payer common.Address, amount domain.Amount) (*domain.Channel, error)
	TopUp(ctx context.Context, payer common.Address, amount domain.Amount) (*domain.Channel, error)
	Withdraw(ctx context.Context, req domain.SignedChannelWithdrawal) (*ChannelWithdrawalResult, error)
	Get(ctx context.Context, payer common.Address) (*domain.Channel, error)
}

// ChannelWithdrawalResult is the committed outcome of a signed withdrawal.
type ChannelWithdrawalResult struct {
	Payer        common.Address
	Amount       domain.Amount
	BalanceAfter domain.Amount
	Digest       common.Hash
}

// SettlementService applies batches of signed receipts.
type SettlementService interface {
	// SettleBatch applies receipts in order, each in its own transaction, and
	// reports every outcome. The error is only set when the batch itself is invalid.
	SettleBatch(ctx context.Context, receipts []domain.SignedReceipt) ([]domain.ReceiptResult, error)
	GetSettlement(ctx context.Context, digest common.Hash) (*domain.Settlement, error)
}

// StreamService manages vesting streams.
type StreamService interface {
	Create(ctx context.Context, req CreateStreamRequest) (*domain.Stream, error)
	Withdraw(ctx context.Context, id uuid.UUID, caller common.Address) (*domain.WithdrawOutcome, error)
	Cancel(ctx context.Context, id uuid.UUID, caller common.Address) (*domain.CancelOutcome, error)
	Get(ctx context.Context, id uuid.UUID) (*StreamView, error)
	ListByAccount(ctx context.Context, account common.Address) ([]StreamView, error)
}

// CreateStreamRequest holds validated input for stream creation.
type CreateStreamRequest struct {
	Sender     common.Address
	Recipient  common.Address
	Deposit    domain.Amount
	StartTime  int64
	CliffTime  int64
	EndTime    int64
	Cancelable bool
}

// StreamView is a stream plus its vesting figures at AsOf.
type StreamView struct {
	Stream        domain.Stream
	Vested        domain.Amount
	Withdrawable  domain.Amount
	RatePerSecond domain.Amount
	AsOf          int64
}

// AuthorizationService verifies and consumes EIP-3009 transfer authorizations.
type AuthorizationService interface {
	VerifyTransfer(ctx context.Context, req domain.SignedTransferAuthorization) (*TransferAuthorizationResult, error)
}

// TransferAuthorizationResult is handed to the external chain-submission process.
type TransferAuthorizationResult struct {
	Digest common.Hash
	From   common.Address
	To     common.Address
	Value  domain.Amount
	Nonce  common.Hash
}

// SessionService exchanges a signed session grant for a token.
type SessionService interface {
	Open(ctx context.Context, req domain.SignedSessionGrant) (string, time.Time, error)
}

// EventFeed exposes committed ledger events to downstream consumers.
type EventFeed interface {
	ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error)
}
