package handler

import (
	"offchain-settlement/internal/adapter/http/dto"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
	"offchain-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// EventHandler serves the committed ledger event feed.
type EventHandler struct {
	feed ports.EventFeed
}

func NewEventHandler(feed ports.EventFeed) *EventHandler {
	return &EventHandler{feed: feed}
}

// List handles GET /api/v1/events?after=&limit=.
// Next equals after when the page is empty, so consumers can poll with it unchanged.
func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	events, err := h.feed.ListEvents(c.Request.Context(), q.After, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	next := q.After
	if n := len(events); n > 0 {
		next = events[n-1].Seq
	}
	response.OK(c, dto.EventsResponse{Events: events, Next: next})
}
