package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid address")

var (
	addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	bytes32Re = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// IsStrictAddress reports whether s is a 0x-prefixed 20-byte hex address.
// Mixed case is accepted without checksum validation.
func IsStrictAddress(s string) bool {
	return addressRe.MatchString(s)
}

// ParseAddress parses a 0x-prefixed 20-byte hex account identifier.
// Unlike common.HexToAddress it never truncates or pads.
func ParseAddress(s string) (common.Address, error) {
	if !IsStrictAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// IsBytes32 reports whether s is a 0x-prefixed 32-byte hex value.
func IsBytes32(s string) bool {
	return bytes32Re.MatchString(s)
}

// AddressKey is the canonical lowercase form used for storage keys.
func AddressKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
