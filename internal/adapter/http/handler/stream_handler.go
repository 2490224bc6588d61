package handler

import (
	"offchain-settlement/internal/adapter/http/dto"
	"offchain-settlement/internal/adapter/http/middleware"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StreamHandler handles vesting stream endpoints.
type StreamHandler struct {
	streamSvc ports.StreamService
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(streamSvc ports.StreamService) *StreamHandler {
	return &StreamHandler{streamSvc: streamSvc}
}

// Create handles POST /api/v1/streams (operator).
func (h *StreamHandler) Create(c *gin.Context) {
	var req dto.CreateStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	in, err := req.ToPort()
	if err != nil {
		response.Error(c, err)
		return
	}

	stream, err := h.streamSvc.Create(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, stream)
}

// Get handles GET /api/v1/streams/:id.
func (h *StreamHandler) Get(c *gin.Context) {
	id, ok := streamID(c)
	if !ok {
		return
	}

	view, err := h.streamSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewStreamResponse(*view))
}

// Withdraw handles POST /api/v1/streams/:id/withdraw. Only the recipient may call it.
func (h *StreamHandler) Withdraw(c *gin.Context) {
	caller, ok := middleware.AccountFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := streamID(c)
	if !ok {
		return
	}

	outcome, err := h.streamSvc.Withdraw(c.Request.Context(), id, caller)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, outcome)
}

// Cancel handles POST /api/v1/streams/:id/cancel. Only the sender may call it.
func (h *StreamHandler) Cancel(c *gin.Context) {
	caller, ok := middleware.AccountFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, ok := streamID(c)
	if !ok {
		return
	}

	outcome, err := h.streamSvc.Cancel(c.Request.Context(), id, caller)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, outcome)
}

// ListMine handles GET /api/v1/me/streams.
func (h *StreamHandler) ListMine(c *gin.Context) {
	account, ok := middleware.AccountFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	views, err := h.streamSvc.ListByAccount(c.Request.Context(), account)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.StreamResponse, 0, len(views))
	for _, v := range views {
		out = append(out, dto.NewStreamResponse(v))
	}
	response.OK(c, out)
}

// streamID parses the :id path parameter and writes the error response itself.
func streamID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("stream id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
