package broadcast

import (
	"hash/fnv"
	"sync"

	"marketplace-backend/internal/domain"
	"marketplace-backend/internal/metrics"
	"marketplace-backend/pkg/logger"
	"marketplace-backend/pkg/utils"
)

const shardCount = 16

// Broadcaster is the in-memory fan-out for live auction observers. The
// registry is partitioned into shards keyed by auction id, so publishes for
// unrelated auctions never contend on one lock.
//
// Each subscription owns a buffered channel: delivery to one subscriber is
// FIFO, never blocks the publisher, and drops new events when the buffer is
// full. Slow consumers lose events; the durable auction state is always
// retrievable over the query surface.
type Broadcaster struct {
	shards     [shardCount]*shard
	bufferSize int
	log        logger.Logger
}

type shard struct {
	mu sync.RWMutex
	// auctionID -> subscriptionID -> subscription
	subs map[string]map[string]*domain.Subscription
}

func NewBroadcaster(bufferSize int, log logger.Logger) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = 16
	}

	b := &Broadcaster{
		bufferSize: bufferSize,
		log:        log,
	}
	for i := range b.shards {
		b.shards[i] = &shard{subs: make(map[string]map[string]*domain.Subscription)}
	}
	return b
}

func (b *Broadcaster) shardFor(auctionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(auctionID))
	return b.shards[h.Sum32()%shardCount]
}

func (b *Broadcaster) Subscribe(auctionID string) (*domain.Subscription, error) {
	sub := &domain.Subscription{
		ID:        utils.GenerateID("sub"),
		AuctionID: auctionID,
		C:         make(chan domain.AuctionEvent, b.bufferSize),
	}

	sh := b.shardFor(auctionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.subs[auctionID] == nil {
		sh.subs[auctionID] = make(map[string]*domain.Subscription)
	}
	sh.subs[auctionID][sub.ID] = sub

	b.log.Debug("Subscriber registered", "auction_id", auctionID, "sub_id", sub.ID)
	return sub, nil
}

func (b *Broadcaster) Unsubscribe(sub *domain.Subscription) {
	sh := b.shardFor(sub.AuctionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	auctionSubs, ok := sh.subs[sub.AuctionID]
	if !ok {
		return
	}
	if _, ok := auctionSubs[sub.ID]; !ok {
		return
	}

	delete(auctionSubs, sub.ID)
	if len(auctionSubs) == 0 {
		delete(sh.subs, sub.AuctionID)
	}
	close(sub.C)

	b.log.Debug("Subscriber removed", "auction_id", sub.AuctionID, "sub_id", sub.ID)
}

// Publish delivers event to every current subscriber of the auction. Sends
// happen under the shard read lock, which excludes the close in
// Unsubscribe/CloseAuction, so a send can never hit a closed channel.
func (b *Broadcaster) Publish(auctionID string, event domain.AuctionEvent) {
	sh := b.shardFor(auctionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	for _, sub := range sh.subs[auctionID] {
		select {
		case sub.C <- event:
		default:
			metrics.EventsDropped.Inc()
			b.log.Warn("Dropping event for slow subscriber",
				"auction_id", auctionID, "sub_id", sub.ID, "type", event.Type)
		}
	}
}

// CloseAuction tears down every subscription of the auction. Buffered events
// remain readable until each channel drains.
func (b *Broadcaster) CloseAuction(auctionID string) {
	sh := b.shardFor(auctionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	auctionSubs, ok := sh.subs[auctionID]
	if !ok {
		return
	}
	for _, sub := range auctionSubs {
		close(sub.C)
	}
	delete(sh.subs, auctionID)

	b.log.Info("Subscriptions closed for auction",
		"auction_id", auctionID, "count", len(auctionSubs))
}

// SubscriberCount reports the live subscriber total for one auction.
func (b *Broadcaster) SubscriberCount(auctionID string) int {
	sh := b.shardFor(auctionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.subs[auctionID])
}
