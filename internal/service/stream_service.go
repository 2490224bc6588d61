package service

import (
	"context"
	"errors"
	"fmt"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// StreamServiceImpl implements ports.StreamService.
type StreamServiceImpl struct {
	streams    ports.StreamRepository
	events     ports.EventRepository
	transactor ports.DBTransactor
	clock      ports.Clock
	metrics    ports.Metrics
	log        zerolog.Logger
}

// NewStreamService creates a new StreamServiceImpl.
func NewStreamService(
	streams ports.StreamRepository,
	events ports.EventRepository,
	transactor ports.DBTransactor,
	clock ports.Clock,
	metrics ports.Metrics,
	log zerolog.Logger,
) *StreamServiceImpl {
	return &StreamServiceImpl{
		streams:    streams,
		events:     events,
		transactor: transactor,
		clock:      clock,
		metrics:    metricsOrNoop(metrics),
		log:        log,
	}
}

// Create registers a new active stream.
func (s *StreamServiceImpl) Create(ctx context.Context, req ports.CreateStreamRequest) (*domain.Stream, error) {
	now := s.clock.Now()
	stream := &domain.Stream{
		ID:         uuid.New(),
		Sender:     req.Sender,
		Recipient:  req.Recipient,
		Deposit:    req.Deposit,
		StartTime:  req.StartTime,
		CliffTime:  req.CliffTime,
		EndTime:    req.EndTime,
		Cancelable: req.Cancelable,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := stream.Validate(); err != nil {
		s.metrics.ObserveStream("create", "invalid")
		if errors.Is(err, domain.ErrInvalidAmount) {
			return nil, apperror.ErrInvalidAmount()
		}
		return nil, apperror.Validation(err.Error())
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.streams.Create(ctx, dbTx, stream); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create stream: %w", err))
	}

	event := domain.NewLedgerEvent(domain.EventStreamCreated, stream.Sender, stream.ID.String(), stream.Deposit, now).
		WithCounterparty(stream.Recipient).
		WithDetails(map[string]any{
			"start_time": stream.StartTime,
			"cliff_time": stream.CliffTime,
			"end_time":   stream.EndTime,
			"cancelable": stream.Cancelable,
		})
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.metrics.ObserveStream("create", outcomeOK)

	s.log.Info().
		Str("stream_id", stream.ID.String()).
		Str("sender", stream.Sender.Hex()).
		Str("recipient", stream.Recipient.Hex()).
		Str("deposit", stream.Deposit.String()).
		Msg("stream created")

	return stream, nil
}

// Withdraw pays out everything vested and not yet withdrawn to the recipient.
// An empty result is reported through NothingToWithdraw and writes nothing.
func (s *StreamServiceImpl) Withdraw(ctx context.Context, id uuid.UUID, caller common.Address) (*domain.WithdrawOutcome, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	stream, err := s.lock(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if caller != stream.Recipient {
		s.log.Warn().
			Str("stream_id", id.String()).
			Str("caller", caller.Hex()).
			Msg("stream withdraw attempted by non-recipient")
		s.metrics.ObserveStream("withdraw", "unauthorized")
		return nil, apperror.ErrUnauthorized()
	}

	now := s.clock.Now()
	out, err := stream.ApplyWithdraw(now.Unix())
	if err != nil {
		appErr := streamFailure(err)
		s.metrics.ObserveStream("withdraw", appErr.Code)
		return nil, appErr
	}
	if out.NothingToWithdraw {
		s.metrics.ObserveStream("withdraw", outcomeNothing)
		return &out, nil
	}

	stream.UpdatedAt = now
	if err := s.streams.Update(ctx, dbTx, stream); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update stream: %w", err))
	}

	event := domain.NewLedgerEvent(domain.EventStreamWithdrawn, stream.Recipient, stream.ID.String(), out.Amount, now).
		WithCounterparty(stream.Sender).
		WithDetails(map[string]any{
			"withdrawn_total": out.WithdrawnTotal.String(),
			"active":          out.Active,
		})
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.metrics.ObserveStream("withdraw", outcomeOK)

	s.log.Info().
		Str("stream_id", id.String()).
		Str("amount", out.Amount.String()).
		Str("withdrawn_total", out.WithdrawnTotal.String()).
		Msg("stream withdrawal applied")

	return &out, nil
}

// Cancel stops a cancelable stream, splitting the deposit between recipient and sender.
func (s *StreamServiceImpl) Cancel(ctx context.Context, id uuid.UUID, caller common.Address) (*domain.CancelOutcome, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	stream, err := s.lock(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if caller != stream.Sender {
		s.log.Warn().
			Str("stream_id", id.String()).
			Str("caller", caller.Hex()).
			Msg("stream cancel attempted by non-sender")
		s.metrics.ObserveStream("cancel", "unauthorized")
		return nil, apperror.ErrUnauthorized()
	}

	now := s.clock.Now()
	out, err := stream.ApplyCancel(now.Unix())
	if err != nil {
		appErr := streamFailure(err)
		s.metrics.ObserveStream("cancel", appErr.Code)
		return nil, appErr
	}

	stream.UpdatedAt = now
	if err := s.streams.Update(ctx, dbTx, stream); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update stream: %w", err))
	}

	event := domain.NewLedgerEvent(domain.EventStreamCancelled, stream.Sender, stream.ID.String(), out.SenderRefund, now).
		WithCounterparty(stream.Recipient).
		WithDetails(map[string]string{
			"vested_at_cancel":    out.VestedAtCancel.String(),
			"withdrawn_before":    out.WithdrawnBefore.String(),
			"recipient_remaining": out.RecipientRemaining.String(),
			"sender_refund":       out.SenderRefund.String(),
		})
	if err := s.events.Append(ctx, dbTx, event); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append event: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.metrics.ObserveStream("cancel", outcomeOK)

	s.log.Info().
		Str("stream_id", id.String()).
		Str("sender_refund", out.SenderRefund.String()).
		Str("recipient_remaining", out.RecipientRemaining.String()).
		Msg("stream cancelled")

	return &out, nil
}

// Get returns the stream with its vesting figures at the current time.
func (s *StreamServiceImpl) Get(ctx context.Context, id uuid.UUID) (*ports.StreamView, error) {
	stream, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get stream: %w", err))
	}
	if stream == nil {
		return nil, apperror.ErrNotFound("stream")
	}
	view := s.view(*stream)
	return &view, nil
}

// ListByAccount returns streams the account sends or receives.
func (s *StreamServiceImpl) ListByAccount(ctx context.Context, account common.Address) ([]ports.StreamView, error) {
	streams, err := s.streams.ListByAccount(ctx, account)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list streams: %w", err))
	}
	views := make([]ports.StreamView, 0, len(streams))
	for _, st := range streams {
		views = append(views, s.view(st))
	}
	return views, nil
}

func (s *StreamServiceImpl) view(st domain.Stream) ports.StreamView {
	now := s.clock.Now().Unix()
	return ports.StreamView{
		Stream:        st,
		Vested:        st.VestedAmount(now),
		Withdrawable:  st.Withdrawable(now),
		RatePerSecond: st.RatePerSecond(),
		AsOf:          now,
	}
}

func (s *StreamServiceImpl) lock(ctx context.Context, dbTx pgx.Tx, id uuid.UUID) (*domain.Stream, error) {
	stream, err := s.streams.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock stream: %w", err))
	}
	if stream == nil {
		return nil, apperror.ErrNotFound("stream")
	}
	return stream, nil
}

func streamFailure(err error) *apperror.AppError {
	switch {
	case errors.Is(err, domain.ErrStreamInactive):
		return apperror.ErrStreamInactive()
	case errors.Is(err, domain.ErrCliffNotReached):
		return apperror.ErrCliffNotReached()
	case errors.Is(err, domain.ErrNotCancelable):
		return apperror.ErrNotCancelable()
	default:
		return apperror.InternalError(err)
	}
}
