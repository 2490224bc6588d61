package postgres

import (
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts are stored as NUMERIC(78,0) and read back through ::text so no value
// ever passes through a float. Addresses and 32-byte values are lowercase 0x text.

func amountColumn(name, raw string) (domain.Amount, error) {
	a, err := domain.ParseAmount(raw)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("column %s: %w", name, err)
	}
	return a, nil
}

func addressColumn(name, raw string) (common.Address, error) {
	a, err := domain.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("column %s: %w", name, err)
	}
	return a, nil
}

func hashColumn(name, raw string) (common.Hash, error) {
	if !domain.IsBytes32(raw) {
		return common.Hash{}, fmt.Errorf("column %s: %q is not a 32-byte hex value", name, raw)
	}
	return common.HexToHash(raw), nil
}
