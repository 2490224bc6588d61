package handler

import (
	"offchain-settlement/internal/adapter/http/dto"
	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthorizationHandler verifies EIP-3009 transfer authorizations.
type AuthorizationHandler struct {
	authorizationSvc ports.AuthorizationService
}

func NewAuthorizationHandler(authorizationSvc ports.AuthorizationService) *AuthorizationHandler {
	return &AuthorizationHandler{authorizationSvc: authorizationSvc}
}

// VerifyTransfer handles POST /api/v1/authorizations/transfer.
// A success consumes the nonce; the result is what the chain submitter needs.
func (h *AuthorizationHandler) VerifyTransfer(c *gin.Context) {
	var req domain.SignedTransferAuthorization
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.authorizationSvc.VerifyTransfer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewTransferAuthorizationResponse(result))
}
