package service

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ChannelServiceImpl implements ports.ChannelService.
type ChannelServiceImpl struct {
	channels   ports.ChannelRepository
	events     ports.EventRepository
	ledger     *ChannelLedger
	nonces     *NonceLedger
	verifier   ports.TypedDataVerifier
	transactor ports.DBTransactor
	clock      ports.Clock
	metrics    ports.Metrics
	log        zerolog.Logger
}

// NewChannelService creates a new ChannelServiceImpl.
func NewChannelService(
	channels ports.ChannelRepository,
	events ports.EventRepository,
	ledger *ChannelLedger,
	nonces *NonceLedger,
	verifier ports.TypedDataVerifier,
	transactor ports.DBTransactor,
	clock ports.Clock,
	metrics ports.Metrics,
	log zerolog.Logger,
) *ChannelServiceImpl {
	return &ChannelServiceImpl{
		channels:   channels,
		events:     events,
		ledger:     ledger,
		nonces:     nonces,
		verifier:   verifier,
		transactor: transactor,
		clock:      clock,
		metrics:    metricsOrNoop(metrics),
		log:        log,
	}
}

// Open creates the payer's channel funded with amount, or tops it up if it exists.
func (s *ChannelServiceImpl) Open(ctx context.Context, payer common.Address, amount domain.Amount) (*domain.Channel, error) {
	return s.deposit(ctx, "open", payer, amount, true)
}

// TopUp credits an existing channel.
func (s *ChannelServiceImpl) TopUp(ctx context.Context, payer common.Address, amount domain.Amount) (*domain.Channel, error) {
	return s.deposit(ctx, "top_up", payer, amount, false)
}

func (s *ChannelServiceImpl) deposit(ctx context.Context, op string, payer common.Address, amount domain.Amount, create bool) (*domain.Channel, error) {
	ch, err := s.applyDeposit(ctx, payer, amount, create)
	if err != nil {
		s.metrics.ObserveChannel(op, apperror.CodeOf(err))
		return nil, err
	}
	s.metrics.ObserveChannel(op, outcomeOK)

	s.log.Info().
		Str("payer", payer.Hex()).
		Str("amount", amount.String()).
		Str("balance", ch.Balance.String()).
		Msg("channel credited")

	return ch, nil
}

func (s *ChannelServiceImpl) applyDeposit(ctx context.Context, payer common.Address, amount domain.Amount, create bool) (*domain.Channel, error) {
	if amount.IsZero() {
		return nil, apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.clock.Now()
	ch, created, err := s.ledger.Deposit(ctx, dbTx, payer, amount, create, now)
	if err != nil {
		return nil, err
	}

	kind := domain.EventChannelToppedUp
	if created {
		kind = domain.EventChannelOpened
	}
	event := domain.NewLedgerEvent(kind, payer, domain.AddressKey(payer), amount, now).
		WithDetails(map[string]string{"balance_after": ch.Balance.String()})
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return ch, nil
}

// Withdraw applies a payer-signed ChannelWithdrawal.
func (s *ChannelServiceImpl) Withdraw(ctx context.Context, req domain.SignedChannelWithdrawal) (*ports.ChannelWithdrawalResult, error) {
	res, err := s.applyWithdraw(ctx, req)
	if err != nil {
		s.metrics.ObserveChannel("withdraw", apperror.CodeOf(err))
		return nil, err
	}
	s.metrics.ObserveChannel("withdraw", outcomeOK)

	s.log.Info().
		Str("payer", res.Payer.Hex()).
		Str("amount", res.Amount.String()).
		Str("balance", res.BalanceAfter.String()).
		Str("digest", res.Digest.Hex()).
		Msg("channel withdrawal applied")

	return res, nil
}

func (s *ChannelServiceImpl) applyWithdraw(ctx context.Context, req domain.SignedChannelWithdrawal) (*ports.ChannelWithdrawalResult, error) {
	w, err := req.Decode()
	if err != nil {
		return nil, decodeFailure(err)
	}
	if w.Amount.IsZero() {
		return nil, apperror.ErrInvalidAmount()
	}

	signer, digest, err := s.verifier.Verify(domain.ChannelWithdrawalSchema, w.Message(), req.Signature)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if now.Unix() >= w.Deadline {
		return nil, apperror.ErrExpired()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.nonces.Check(ctx, dbTx, w.Payer, w.Nonce); err != nil {
		return nil, err
	}

	if signer != w.Payer {
		s.log.Warn().
			Str("payer", w.Payer.Hex()).
			Str("signer", signer.Hex()).
			Msg("channel withdrawal signed by another account")
		return nil, apperror.ErrSignatureMismatch()
	}

	balance, err := s.ledger.Withdraw(ctx, dbTx, w.Payer, w.Amount)
	if err != nil {
		return nil, err
	}

	consumed := &domain.ConsumedNonce{
		Signer:     w.Payer,
		Nonce:      w.Nonce,
		Kind:       domain.NonceKindChannelWithdrawal,
		ExpiresAt:  w.Deadline,
		ConsumedAt: now,
	}
	if err := s.nonces.TryConsume(ctx, dbTx, consumed); err != nil {
		return nil, err
	}

	event := domain.NewLedgerEvent(domain.EventChannelWithdrawn, w.Payer, digest.Hex(), w.Amount, now).
		WithDetails(map[string]string{"balance_after": balance.String(), "nonce": w.Nonce.Hex()})
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.nonces.Remember(ctx, consumed)

	return &ports.ChannelWithdrawalResult{
		Payer:        w.Payer,
		Amount:       w.Amount,
		BalanceAfter: balance,
		Digest:       digest,
	}, nil
}

// Get returns the payer's channel without locking it.
func (s *ChannelServiceImpl) Get(ctx context.Context, payer common.Address) (*domain.Channel, error) {
	ch, err := s.channels.Get(ctx, payer)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get channel: %w", err))
	}
	if ch == nil {
		return nil, apperror.ErrNotFound("channel")
	}
	return ch, nil
}
