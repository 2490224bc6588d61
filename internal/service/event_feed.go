package service

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

// EventFeedImpl implements ports.EventFeed.
type EventFeedImpl struct {
	events ports.EventRepository
}

// NewEventFeed creates a new EventFeedImpl.
func NewEventFeed(events ports.EventRepository) *EventFeedImpl {
	return &EventFeedImpl{events: events}
}

// ListEvents returns up to limit events with Seq > afterSeq in Seq order.
func (f *EventFeedImpl) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error) {
	if afterSeq < 0 {
		return nil, apperror.Validation("after must not be negative")
	}
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}

	events, err := f.events.ListAfter(ctx, afterSeq, limit)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list events: %w", err))
	}
	return events, nil
}
