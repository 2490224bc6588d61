package postgres

import (
	"context"
	"errors"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// SettlementRepo implements ports.SettlementRepository.
type SettlementRepo struct {
	pool Pool
}

// NewSettlementRepo creates a new SettlementRepo.
func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// Create inserts a settlement record. digest is unique.
func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	query := `INSERT INTO settlements (id, digest, payer, merchant, service_id, nonce,
		amount, fee, net, fee_collector, balance_after, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11::numeric, $12)`

	_, err := tx.Exec(ctx, query,
		s.ID, s.Digest.Hex(), domain.AddressKey(s.Payer), domain.AddressKey(s.Merchant),
		s.ServiceID.Hex(), s.Nonce.Hex(),
		s.Amount.String(), s.Fee.String(), s.Net.String(),
		domain.AddressKey(s.FeeCollector), s.BalanceAfter.String(), s.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// GetByDigest fetches the settlement of the receipt with the given EIP-712 digest.
func (r *SettlementRepo) GetByDigest(ctx context.Context, digest common.Hash) (*domain.Settlement, error) {
	query := `SELECT id, digest, payer, merchant, service_id, nonce,
		amount::text, fee::text, net::text, fee_collector, balance_after::text, settled_at
		FROM settlements WHERE digest = $1`

	var (
		dg, payer, merchant, serviceID, nonce string
		amount, fee, net, collector, balance  string
	)
	s := &domain.Settlement{}
	err := r.pool.QueryRow(ctx, query, digest.Hex()).Scan(
		&s.ID, &dg, &payer, &merchant, &serviceID, &nonce,
		&amount, &fee, &net, &collector, &balance, &s.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement by digest: %w", err)
	}

	if s.Digest, err = hashColumn("digest", dg); err != nil {
		return nil, err
	}
	if s.Payer, err = addressColumn("payer", payer); err != nil {
		return nil, err
	}
	if s.Merchant, err = addressColumn("merchant", merchant); err != nil {
		return nil, err
	}
	if s.ServiceID, err = hashColumn("service_id", serviceID); err != nil {
		return nil, err
	}
	if s.Nonce, err = hashColumn("nonce", nonce); err != nil {
		return nil, err
	}
	if s.Amount, err = amountColumn("amount", amount); err != nil {
		return nil, err
	}
	if s.Fee, err = amountColumn("fee", fee); err != nil {
		return nil, err
	}
	if s.Net, err = amountColumn("net", net); err != nil {
		return nil, err
	}
	if s.FeeCollector, err = addressColumn("fee_collector", collector); err != nil {
		return nil, err
	}
	if s.BalanceAfter, err = amountColumn("balance_after", balance); err != nil {
		return nil, err
	}
	return s, nil
}
