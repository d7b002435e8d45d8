package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"marketplace-backend/internal/domain"
	"marketplace-backend/pkg/logger"
)

const eventsChannel = "auction_events"

// EventRelay carries committed auction events across instances over Redis
// pub/sub, so every instance's local broadcaster sees every event no matter
// which instance committed the bid.
type EventRelay struct {
	client *redis.Client
	log    logger.Logger
}

func NewEventRelay(client *redis.Client, log logger.Logger) *EventRelay {
	return &EventRelay{client: client, log: log}
}

func (r *EventRelay) PublishAuctionEvent(ctx context.Context, event domain.AuctionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal auction event: %w", err)
	}
	return r.client.Publish(ctx, eventsChannel, payload).Err()
}

func (r *EventRelay) SubscribeToAuctionEvents(ctx context.Context, handler domain.EventHandler) error {
	pubsub := r.client.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	r.log.Info("Subscribed to auction events", "channel", eventsChannel)

	for {
		select {
		case msg := <-ch:
			var event domain.AuctionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.Error("Failed to decode event", "payload", msg.Payload, "error", err)
				continue
			}

			if err := handler(event); err != nil {
				r.log.Error("Failed to handle event",
					"auction_id", event.AuctionID, "type", event.Type, "error", err)
			}

		case <-ctx.Done():
			r.log.Info("Event relay subscriber stopped")
			return ctx.Err()
		}
	}
}
