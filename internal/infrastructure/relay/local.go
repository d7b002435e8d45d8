package relay

import (
	"context"
	"sync"

	"marketplace-backend/internal/domain"
	"marketplace-backend/pkg/logger"
)

// LocalRelay is the single-process event relay: publishes go straight to the
// registered handlers, in publish order. It backs the memory storage driver
// and tests, where Redis pub/sub would be a needless hop.
type LocalRelay struct {
	mu       sync.Mutex
	handlers []domain.EventHandler
	log      logger.Logger
}

func NewLocalRelay(log logger.Logger) *LocalRelay {
	return &LocalRelay{log: log}
}

func (r *LocalRelay) PublishAuctionEvent(ctx context.Context, event domain.AuctionEvent) error {
	r.mu.Lock()
	handlers := make([]domain.EventHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		if err := h(event); err != nil {
			r.log.Error("Event handler failed",
				"auction_id", event.AuctionID, "type", event.Type, "error", err)
		}
	}
	return nil
}

// SubscribeToAuctionEvents registers the handler and returns immediately;
// delivery happens inline on PublishAuctionEvent. Unlike the Redis relay
// there is no background pump to keep alive.
func (r *LocalRelay) SubscribeToAuctionEvents(ctx context.Context, handler domain.EventHandler) error {
	r.mu.Lock()
	r.handlers = append(r.handlers, handler)
	r.mu.Unlock()
	return nil
}
