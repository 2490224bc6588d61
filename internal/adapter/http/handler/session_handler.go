package handler

import (
	"offchain-settlement/internal/adapter/http/dto"
	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// SessionHandler exchanges signed session grants for tokens.
type SessionHandler struct {
	sessionSvc ports.SessionService
}

func NewSessionHandler(sessionSvc ports.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// Open handles POST /api/v1/sessions.
func (h *SessionHandler) Open(c *gin.Context) {
	var req domain.SignedSessionGrant
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, expiry, err := h.sessionSvc.Open(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.SessionResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}
