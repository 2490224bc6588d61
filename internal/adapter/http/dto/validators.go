package dto

import (
	"regexp"

	"offchain-settlement/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var signatureRe = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("eth_addr_strict", validateAddress)
		_ = v.RegisterValidation("atomic_amount", validateAmount)
		_ = v.RegisterValidation("hex32", validateBytes32)
		_ = v.RegisterValidation("hex_sig", validateSignature)
	}
}

// validateAddress accepts 0x-prefixed 20-byte hex in any case.
func validateAddress(fl validator.FieldLevel) bool {
	return domain.IsStrictAddress(fl.Field().String())
}

// validateAmount accepts canonical base-10 atomic amounts greater than zero.
func validateAmount(fl validator.FieldLevel) bool {
	a, err := domain.ParseAmount(fl.Field().String())
	return err == nil && !a.IsZero()
}

func validateBytes32(fl validator.FieldLevel) bool {
	return domain.IsBytes32(fl.Field().String())
}

// validateSignature accepts a 0x-prefixed 65-byte r||s||v signature.
func validateSignature(fl validator.FieldLevel) bool {
	return signatureRe.MatchString(fl.Field().String())
}
