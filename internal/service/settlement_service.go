package service

import (
	"context"
	"fmt"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettlementConfig bounds batch submissions.
type SettlementConfig struct {
	MaxBatchSize int
	CacheTTL     time.Duration
}

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	ledger      *ChannelLedger
	settlements ports.SettlementRepository
	events      ports.EventRepository
	nonces      *NonceLedger
	cache       ports.SettlementCache
	verifier    ports.TypedDataVerifier
	transactor  ports.DBTransactor
	clock       ports.Clock
	cfg         SettlementConfig
	metrics     ports.Metrics
	log         zerolog.Logger
}

// NewSettlementService creates a new SettlementServiceImpl. cache may be nil.
func NewSettlementService(
	ledger *ChannelLedger,
	settlements ports.SettlementRepository,
	events ports.EventRepository,
	nonces *NonceLedger,
	cache ports.SettlementCache,
	verifier ports.TypedDataVerifier,
	transactor ports.DBTransactor,
	clock ports.Clock,
	cfg SettlementConfig,
	metrics ports.Metrics,
	log zerolog.Logger,
) *SettlementServiceImpl {
	return &SettlementServiceImpl{
		ledger:      ledger,
		settlements: settlements,
		events:      events,
		nonces:      nonces,
		cache:       cache,
		verifier:    verifier,
		transactor:  transactor,
		clock:       clock,
		cfg:         cfg,
		metrics:     metricsOrNoop(metrics),
		log:         log,
	}
}

// SettleBatch applies receipts in array order. Each receipt commits or rolls back
// on its own; a failure never undoes an earlier success in the same batch.
func (s *SettlementServiceImpl) SettleBatch(ctx context.Context, receipts []domain.SignedReceipt) ([]domain.ReceiptResult, error) {
	if len(receipts) == 0 {
		return nil, apperror.Validation("batch must contain at least one receipt")
	}
	if s.cfg.MaxBatchSize > 0 && len(receipts) > s.cfg.MaxBatchSize {
		return nil, apperror.Validation(fmt.Sprintf("batch exceeds %d receipts", s.cfg.MaxBatchSize))
	}

	results := make([]domain.ReceiptResult, len(receipts))
	settled := 0
	for i, r := range receipts {
		results[i] = s.settleOne(ctx, i, r)
		if results[i].OK() {
			settled++
		}
	}

	s.log.Info().
		Int("receipts", len(receipts)).
		Int("settled", settled).
		Msg("settlement batch processed")

	return results, nil
}

func (s *SettlementServiceImpl) settleOne(ctx context.Context, index int, req domain.SignedReceipt) domain.ReceiptResult {
	res := domain.ReceiptResult{Index: index}

	rc, err := req.Decode()
	if err != nil {
		res.Err = decodeFailure(err)
		s.metrics.ObserveReceipt(apperror.CodeOf(res.Err))
		return res
	}
	if rc.Amount.IsZero() {
		res.Err = apperror.ErrInvalidAmount()
		s.metrics.ObserveReceipt(apperror.CodeOf(res.Err))
		return res
	}

	signer, digest, err := s.verifier.Verify(domain.ReceiptSchema, rc.Message(), req.Signature)
	if err != nil {
		res.Err = err
		s.metrics.ObserveReceipt(apperror.CodeOf(err))
		return res
	}
	res.Digest = &digest

	settlement, err := s.apply(ctx, rc, signer, digest)
	if err != nil {
		res.Err = err
		s.metrics.ObserveReceipt(apperror.CodeOf(err))
		if apperror.IsInfrastructure(err) {
			s.log.Error().Err(err).Int("index", index).Str("digest", digest.Hex()).Msg("receipt settlement failed")
		}
		return res
	}
	res.Settlement = settlement
	s.metrics.ObserveReceipt(outcomeSettled)
	return res
}

func (s *SettlementServiceImpl) apply(ctx context.Context, rc domain.Receipt, signer common.Address, digest common.Hash) (*domain.Settlement, error) {
	now := s.clock.Now()
	if now.Unix() >= rc.Expiry {
		return nil, apperror.ErrExpired()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.nonces.Check(ctx, dbTx, rc.Payer, rc.Nonce); err != nil {
		return nil, err
	}

	if signer != rc.Payer {
		s.log.Warn().
			Str("payer", rc.Payer.Hex()).
			Str("signer", signer.Hex()).
			Str("digest", digest.Hex()).
			Msg("receipt signed by another account")
		return nil, apperror.ErrSignatureMismatch()
	}

	outcome, err := s.ledger.Settle(ctx, dbTx, rc.Payer, rc.Amount)
	if err != nil {
		return nil, err
	}

	consumed := &domain.ConsumedNonce{
		Signer:     rc.Payer,
		Nonce:      rc.Nonce,
		Kind:       domain.NonceKindReceipt,
		ExpiresAt:  rc.Expiry,
		ConsumedAt: now,
	}
	if err := s.nonces.TryConsume(ctx, dbTx, consumed); err != nil {
		return nil, err
	}

	settlement := &domain.Settlement{
		ID:           uuid.New(),
		Digest:       digest,
		Payer:        rc.Payer,
		Merchant:     rc.Merchant,
		ServiceID:    rc.ServiceID,
		Nonce:        rc.Nonce,
		Amount:       rc.Amount,
		Fee:          outcome.Fee,
		Net:          outcome.Net,
		FeeCollector: outcome.FeeCollector,
		BalanceAfter: outcome.BalanceAfter,
		SettledAt:    now,
	}
	if err := s.settlements.Create(ctx, dbTx, settlement); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create settlement: %w", err))
	}

	event := domain.NewLedgerEvent(domain.EventReceiptSettled, rc.Payer, digest.Hex(), rc.Amount, now).
		WithCounterparty(rc.Merchant).
		WithDetails(map[string]string{
			"net":           outcome.Net.String(),
			"fee_collector": outcome.FeeCollector.Hex(),
			"service_id":    rc.ServiceID.Hex(),
			"nonce":         rc.Nonce.Hex(),
			"balance_after": outcome.BalanceAfter.String(),
		})
	event.Fee = outcome.Fee
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	// Post-commit: cache writes are best-effort.
	s.nonces.Remember(ctx, consumed)
	if s.cache != nil {
		if err := s.cache.Set(ctx, settlement, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Str("digest", digest.Hex()).Msg("failed to cache settlement")
		}
	}

	s.log.Info().
		Str("digest", digest.Hex()).
		Str("payer", rc.Payer.Hex()).
		Str("merchant", rc.Merchant.Hex()).
		Str("amount", rc.Amount.String()).
		Str("fee", outcome.Fee.String()).
		Msg("receipt settled")

	return settlement, nil
}

// GetSettlement looks a receipt up by its EIP-712 digest.
func (s *SettlementServiceImpl) GetSettlement(ctx context.Context, digest common.Hash) (*domain.Settlement, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, digest)
		if err != nil {
			s.log.Warn().Err(err).Str("digest", digest.Hex()).Msg("settlement cache lookup failed, falling through to DB")
		}
		if cached != nil {
			return cached, nil
		}
	}

	settlement, err := s.settlements.GetByDigest(ctx, digest)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get settlement: %w", err))
	}
	if settlement == nil {
		return nil, apperror.ErrNotFound("settlement")
	}
	return settlement, nil
}
