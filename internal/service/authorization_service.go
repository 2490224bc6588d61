package service

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/rs/zerolog"
)

// AuthorizationServiceImpl implements ports.AuthorizationService. Verified
// authorizations are recorded in the event log for the chain-submission process.
type AuthorizationServiceImpl struct {
	events     ports.EventRepository
	nonces     *NonceLedger
	verifier   ports.TypedDataVerifier
	transactor ports.DBTransactor
	clock      ports.Clock
	metrics    ports.Metrics
	log        zerolog.Logger
}

// NewAuthorizationService creates a new AuthorizationServiceImpl.
func NewAuthorizationService(
	events ports.EventRepository,
	nonces *NonceLedger,
	verifier ports.TypedDataVerifier,
	transactor ports.DBTransactor,
	clock ports.Clock,
	metrics ports.Metrics,
	log zerolog.Logger,
) *AuthorizationServiceImpl {
	return &AuthorizationServiceImpl{
		events:     events,
		nonces:     nonces,
		verifier:   verifier,
		transactor: transactor,
		clock:      clock,
		metrics:    metricsOrNoop(metrics),
		log:        log,
	}
}

// VerifyTransfer checks an EIP-3009 authorization and consumes its nonce.
func (s *AuthorizationServiceImpl) VerifyTransfer(ctx context.Context, req domain.SignedTransferAuthorization) (*ports.TransferAuthorizationResult, error) {
	res, err := s.verifyTransfer(ctx, req)
	if err != nil {
		s.metrics.ObserveTransfer(apperror.CodeOf(err))
		return nil, err
	}
	s.metrics.ObserveTransfer(outcomeOK)
	return res, nil
}

func (s *AuthorizationServiceImpl) verifyTransfer(ctx context.Context, req domain.SignedTransferAuthorization) (*ports.TransferAuthorizationResult, error) {
	auth, err := req.Decode()
	if err != nil {
		return nil, decodeFailure(err)
	}
	if auth.Value.IsZero() {
		return nil, apperror.ErrInvalidAmount()
	}

	signer, digest, err := s.verifier.Verify(domain.TransferAuthorizationSchema, auth.Message(), req.Signature)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if now.Unix() <= auth.ValidAfter {
		return nil, apperror.ErrNotYetValid()
	}
	if now.Unix() >= auth.ValidBefore {
		return nil, apperror.ErrExpired()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.nonces.Check(ctx, dbTx, auth.From, auth.Nonce); err != nil {
		return nil, err
	}

	if signer != auth.From {
		s.log.Warn().
			Str("from", auth.From.Hex()).
			Str("signer", signer.Hex()).
			Msg("transfer authorization signed by another account")
		return nil, apperror.ErrSignatureMismatch()
	}

	consumed := &domain.ConsumedNonce{
		Signer:     auth.From,
		Nonce:      auth.Nonce,
		Kind:       domain.NonceKindTransfer,
		ExpiresAt:  auth.ValidBefore,
		ConsumedAt: now,
	}
	if err := s.nonces.TryConsume(ctx, dbTx, consumed); err != nil {
		return nil, err
	}

	event := domain.NewLedgerEvent(domain.EventTransferAuthorized, auth.From, digest.Hex(), auth.Value, now).
		WithCounterparty(auth.To).
		WithDetails(map[string]any{
			"nonce":        auth.Nonce.Hex(),
			"valid_after":  auth.ValidAfter,
			"valid_before": auth.ValidBefore,
			"signature":    req.Signature,
		})
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.nonces.Remember(ctx, consumed)

	s.log.Info().
		Str("digest", digest.Hex()).
		Str("from", auth.From.Hex()).
		Str("to", auth.To.Hex()).
		Str("value", auth.Value.String()).
		Msg("transfer authorization accepted")

	return &ports.TransferAuthorizationResult{
		Digest: digest,
		From:   auth.From,
		To:     auth.To,
		Value:  auth.Value,
		Nonce:  auth.Nonce,
	}, nil
}
