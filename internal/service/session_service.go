package service

import (
	"context"
	"fmt"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/rs/zerolog"
)

// SessionServiceImpl implements ports.SessionService. A session grant is a
// single-use signed proof of account control, exchanged for a JWT.
type SessionServiceImpl struct {
	nonces     *NonceLedger
	verifier   ports.TypedDataVerifier
	tokens     ports.TokenService
	transactor ports.DBTransactor
	clock      ports.Clock
	skew       time.Duration
	log        zerolog.Logger
}

// NewSessionService creates a new SessionServiceImpl accepting grants issued
// within skew of the current time.
func NewSessionService(
	nonces *NonceLedger,
	verifier ports.TypedDataVerifier,
	tokens ports.TokenService,
	transactor ports.DBTransactor,
	clock ports.Clock,
	skew time.Duration,
	log zerolog.Logger,
) *SessionServiceImpl {
	return &SessionServiceImpl{
		nonces:     nonces,
		verifier:   verifier,
		tokens:     tokens,
		transactor: transactor,
		clock:      clock,
		skew:       skew,
		log:        log,
	}
}

// Open verifies the grant, burns its nonce and issues a session token.
func (s *SessionServiceImpl) Open(ctx context.Context, req domain.SignedSessionGrant) (string, time.Time, error) {
	grant, err := req.Decode()
	if err != nil {
		return "", time.Time{}, decodeFailure(err)
	}

	signer, _, err := s.verifier.Verify(domain.SessionSchema, grant.Message(), req.Signature)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.clock.Now()
	issuedAt := time.Unix(grant.IssuedAt, 0)
	if issuedAt.After(now.Add(s.skew)) {
		return "", time.Time{}, apperror.ErrNotYetValid()
	}
	expiresAt := issuedAt.Add(s.skew)
	if now.After(expiresAt) {
		return "", time.Time{}, apperror.ErrExpired()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.nonces.Check(ctx, dbTx, grant.Account, grant.Nonce); err != nil {
		return "", time.Time{}, err
	}

	if signer != grant.Account {
		s.log.Warn().
			Str("account", grant.Account.Hex()).
			Str("signer", signer.Hex()).
			Msg("session grant signed by another account")
		return "", time.Time{}, apperror.ErrSignatureMismatch()
	}

	consumed := &domain.ConsumedNonce{
		Signer:     grant.Account,
		Nonce:      grant.Nonce,
		Kind:       domain.NonceKindSession,
		ExpiresAt:  expiresAt.Unix(),
		ConsumedAt: now,
	}
	if err := s.nonces.TryConsume(ctx, dbTx, consumed); err != nil {
		return "", time.Time{}, err
	}

	token, tokenExpiry, err := s.tokens.Generate(grant.Account)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.nonces.Remember(ctx, consumed)

	s.log.Info().Str("account", grant.Account.Hex()).Msg("session opened")

	return token, tokenExpiry, nil
}
