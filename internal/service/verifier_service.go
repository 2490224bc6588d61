package service

import (
	"errors"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/eip712"

	"github.com/ethereum/go-ethereum/common"
)

// TypedDataVerifier implements ports.TypedDataVerifier for a single EIP-712 domain.
// It holds no mutable state and is safe for concurrent use.
type TypedDataVerifier struct {
	domain eip712.Domain
}

// NewTypedDataVerifier binds a verifier to domain.
func NewTypedDataVerifier(domain eip712.Domain) *TypedDataVerifier {
	return &TypedDataVerifier{domain: domain}
}

// Domain returns the bound EIP712Domain.
func (v *TypedDataVerifier) Domain() eip712.Domain {
	return v.domain
}

// Verify decodes signature, hashes message under the bound domain and recovers the signer.
func (v *TypedDataVerifier) Verify(schema eip712.Schema, message map[string]any, signature string) (common.Address, common.Hash, error) {
	sig, err := eip712.DecodeSignature(signature)
	if err != nil {
		return common.Address{}, common.Hash{}, apperror.ErrMalformedSignature()
	}

	signer, digest, err := eip712.Verify(v.domain, schema, message, sig)
	switch {
	case err == nil:
		return signer, common.BytesToHash(digest), nil
	case errors.Is(err, eip712.ErrMalformedSignature):
		return common.Address{}, common.Hash{}, apperror.ErrMalformedSignature()
	case errors.Is(err, eip712.ErrMalformedAddress):
		return common.Address{}, common.Hash{}, apperror.ErrMalformedAddress("")
	default:
		return common.Address{}, common.Hash{}, apperror.Validation("malformed typed data message")
	}
}

// decodeFailure maps a wire decoding error onto the business taxonomy.
func decodeFailure(err error) *apperror.AppError {
	var fe *domain.FieldError
	field := ""
	if errors.As(err, &fe) {
		field = fe.Field
	}
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		return apperror.ErrMalformedAddress(field)
	case errors.Is(err, domain.ErrInvalidAmount):
		return apperror.ErrInvalidAmount()
	default:
		return apperror.Validation(err.Error())
	}
}
