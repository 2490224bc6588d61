package handler

import (
	"offchain-settlement/internal/adapter/http/dto"
	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// SettlementHandler handles receipt settlement endpoints.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementSvc ports.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// SettleBatch handles POST /api/v1/settlements.
// Receipts are applied independently, so a batch with rejections still answers 200.
func (h *SettlementHandler) SettleBatch(c *gin.Context) {
	var req dto.SettleBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	results, err := h.settlementSvc.SettleBatch(c.Request.Context(), req.Receipts)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSettleBatchResponse(results))
}

// GetSettlement handles GET /api/v1/settlements/:digest.
func (h *SettlementHandler) GetSettlement(c *gin.Context) {
	raw := c.Param("digest")
	if !domain.IsBytes32(raw) {
		response.Error(c, apperror.Validation("digest must be 0x-prefixed 32-byte hex"))
		return
	}

	settlement, err := h.settlementSvc.GetSettlement(c.Request.Context(), common.HexToHash(raw))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, settlement)
}
