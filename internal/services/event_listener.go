package services

import (
	"context"

	"marketplace-backend/internal/domain"
	"marketplace-backend/pkg/logger"
)

// EventListener consumes relayed auction events and fans them out to the
// local subscriber registry. It is the only writer into the broadcaster, so
// per-subscriber ordering follows relay order.
type EventListener struct {
	broadcaster domain.Broadcaster
	log         logger.Logger
}

func NewEventListener(broadcaster domain.Broadcaster, log logger.Logger) *EventListener {
	return &EventListener{
		broadcaster: broadcaster,
		log:         log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToAuctionEvents(ctx, el.handleEvent)
}

func (el *EventListener) handleEvent(event domain.AuctionEvent) error {
	el.broadcaster.Publish(event.AuctionID, event)

	if event.Type == domain.EventAuctionEnded {
		// Final delivery done; live subscriptions for this auction are over.
		el.broadcaster.CloseAuction(event.AuctionID)
	}
	return nil
}
