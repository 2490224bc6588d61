package handler

import (
	"offchain-settlement/internal/adapter/http/dto"
	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// ChannelHandler handles payer channel endpoints.
type ChannelHandler struct {
	channelSvc ports.ChannelService
}

// NewChannelHandler creates a new ChannelHandler.
func NewChannelHandler(channelSvc ports.ChannelService) *ChannelHandler {
	return &ChannelHandler{channelSvc: channelSvc}
}

// Deposit handles POST /api/v1/channels/deposits (operator).
// The first deposit opens the channel.
func (h *ChannelHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	payer, err := domain.ParseAddress(req.Payer)
	if err != nil {
		response.Error(c, apperror.ErrMalformedAddress("payer"))
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	ch, err := h.channelSvc.Open(c.Request.Context(), payer, amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewChannelResponse(ch))
}

// Withdraw handles POST /api/v1/channels/withdrawals.
func (h *ChannelHandler) Withdraw(c *gin.Context) {
	var req domain.SignedChannelWithdrawal
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.channelSvc.Withdraw(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewWithdrawalResponse(result))
}

// Get handles GET /api/v1/channels/:payer.
func (h *ChannelHandler) Get(c *gin.Context) {
	payer, err := domain.ParseAddress(c.Param("payer"))
	if err != nil {
		response.Error(c, apperror.ErrMalformedAddress("payer"))
		return
	}

	ch, err := h.channelSvc.Get(c.Request.Context(), payer)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewChannelResponse(ch))
}
