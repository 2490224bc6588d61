package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// SettlementOutcome is the ledger side of an applied receipt.
type SettlementOutcome struct {
	Fee          domain.Amount
	Net          domain.Amount
	FeeCollector common.Address
	BalanceAfter domain.Amount
}

// ChannelLedger applies balance changes to one payer's channel row. Every method
// runs inside the caller's transaction and takes the row lock first.
type ChannelLedger struct {
	channels     ports.ChannelRepository
	feeBps       uint64
	feeCollector common.Address
}

// NewChannelLedger creates a ChannelLedger charging feeBps on every settled receipt.
func NewChannelLedger(channels ports.ChannelRepository, feeBps uint64, feeCollector common.Address) *ChannelLedger {
	return &ChannelLedger{
		channels:     channels,
		feeBps:       feeBps,
		feeCollector: feeCollector,
	}
}

// Deposit credits amount to payer. With create set a missing channel is opened
// first; otherwise a missing channel is NF_001.
func (l *ChannelLedger) Deposit(ctx context.Context, tx pgx.Tx, payer common.Address, amount domain.Amount, create bool, now time.Time) (*domain.Channel, bool, error) {
	if amount.IsZero() {
		return nil, false, apperror.ErrInvalidAmount()
	}

	created := false
	if create {
		var err error
		created, err = l.channels.CreateIfAbsent(ctx, tx, &domain.Channel{
			Payer:     payer,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, false, apperror.InternalError(fmt.Errorf("create channel: %w", err))
		}
	}

	ch, err := l.channels.GetForUpdate(ctx, tx, payer)
	if err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("lock channel: %w", err))
	}
	if ch == nil {
		return nil, false, apperror.ErrNotFound("channel")
	}

	if err := ch.Credit(amount); err != nil {
		return nil, false, apperror.ErrInvalidAmount()
	}
	if err := l.channels.UpdateBalance(ctx, tx, payer, ch.Balance); err != nil {
		return nil, false, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}
	ch.UpdatedAt = now
	return ch, created, nil
}

// Withdraw debits amount from payer. It never clamps: a short balance is BAL_002.
func (l *ChannelLedger) Withdraw(ctx context.Context, tx pgx.Tx, payer common.Address, amount domain.Amount) (domain.Amount, error) {
	ch, err := l.debit(ctx, tx, payer, amount)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return domain.Amount{}, apperror.ErrInsufficientBalance()
		}
		return domain.Amount{}, err
	}
	return ch.Balance, nil
}

// Settle debits the gross receipt amount and splits it into net and fee.
// A missing channel counts as a zero balance.
func (l *ChannelLedger) Settle(ctx context.Context, tx pgx.Tx, payer common.Address, amount domain.Amount) (*SettlementOutcome, error) {
	fee, net, err := domain.SplitFee(amount, l.feeBps)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("split fee: %w", err))
	}

	ch, err := l.debit(ctx, tx, payer, amount)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, apperror.ErrChannelUnderfunded()
		}
		return nil, err
	}

	return &SettlementOutcome{
		Fee:          fee,
		Net:          net,
		FeeCollector: l.feeCollector,
		BalanceAfter: ch.Balance,
	}, nil
}

func (l *ChannelLedger) debit(ctx context.Context, tx pgx.Tx, payer common.Address, amount domain.Amount) (*domain.Channel, error) {
	if amount.IsZero() {
		return nil, apperror.ErrInvalidAmount()
	}

	ch, err := l.channels.GetForUpdate(ctx, tx, payer)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock channel: %w", err))
	}
	if ch == nil {
		return nil, domain.ErrInsufficientFunds
	}
	if err := ch.Debit(amount); err != nil {
		return nil, err
	}
	if err := l.channels.UpdateBalance(ctx, tx, payer, ch.Balance); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}
	return ch, nil
}
