// Package eip712 hashes, signs and recovers EIP-712 structured messages bound to a
// fixed domain and a fixed, caller-supplied field schema.
package eip712

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureLength is the byte length of an (r || s || v) signature.
const SignatureLength = 65

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrMalformedAddress   = errors.New("malformed address")
	ErrMalformedMessage   = errors.New("malformed message")
)

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Domain is the EIP712Domain every message is bound to.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Schema is the field layout of one primary type. Field order is significant.
type Schema struct {
	PrimaryType string
	Fields      []apitypes.Type
}

// TypedData assembles the full EIP-712 document for message.
func TypedData(domain Domain, schema Schema, message map[string]any) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":     domainFields,
			schema.PrimaryType: schema.Fields,
		},
		PrimaryType: schema.PrimaryType,
		Domain:      domain.typed(),
		Message:     apitypes.TypedDataMessage(message),
	}
}

// Hash returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
// It never panics; encoding failures are reported as ErrMalformedMessage.
func Hash(domain Domain, schema Schema, message map[string]any) (digest []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			digest = nil
			err = fmt.Errorf("%w: %v", ErrMalformedMessage, r)
		}
	}()

	if len(message) != len(schema.Fields) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedMessage, len(schema.Fields), len(message))
	}
	for _, f := range schema.Fields {
		if _, ok := message[f.Name]; !ok {
			return nil, fmt.Errorf("%w: missing field %s", ErrMalformedMessage, f.Name)
		}
	}

	digest, _, err = apitypes.TypedDataAndHash(TypedData(domain, schema, message))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return digest, nil
}

// ValidateAddressFields checks that every address-typed field holds a
// 0x-prefixed 20-byte hex string. Shorter or longer values are never padded.
func ValidateAddressFields(schema Schema, message map[string]any) error {
	for _, f := range schema.Fields {
		if f.Type != "address" {
			continue
		}
		s, ok := message[f.Name].(string)
		if !ok || !addressRe.MatchString(s) {
			return fmt.Errorf("%w: field %s", ErrMalformedAddress, f.Name)
		}
	}
	return nil
}

// DecodeSignature parses a 0x-prefixed hex signature of exactly 65 bytes.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(sig))
	}
	return sig, nil
}

// Recover returns the address that produced sig over digest.
// v may be 0/1 or 27/28; high-s signatures are rejected.
func Recover(digest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[64])
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrMalformedSignature)
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = v

	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify validates address fields, hashes message and recovers its signer.
// Callers compare the returned address with the account they expect.
func Verify(domain Domain, schema Schema, message map[string]any, sig []byte) (common.Address, []byte, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(sig))
	}
	if err := ValidateAddressFields(schema, message); err != nil {
		return common.Address{}, nil, err
	}
	digest, err := Hash(domain, schema, message)
	if err != nil {
		return common.Address{}, nil, err
	}
	signer, err := Recover(digest, sig)
	if err != nil {
		return common.Address{}, nil, err
	}
	return signer, digest, nil
}

// Sign produces a 65-byte signature with v in {27, 28}.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignMessage hashes message and signs it.
func SignMessage(domain Domain, schema Schema, message map[string]any, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Hash(domain, schema, message)
	if err != nil {
		return nil, err
	}
	return Sign(digest, key)
}
