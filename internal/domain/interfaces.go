package domain

import (
	"context"
	"time"
)

// AuctionStore is the single source of truth for auctions and bids. All
// writes go through conditional operations so concurrent writers cannot lose
// updates.
type AuctionStore interface {
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// GetAuctionWithBids returns the auction and its bid history ordered
	// oldest to newest.
	GetAuctionWithBids(ctx context.Context, auctionID string) (*Auction, []*Bid, error)
	ListAuctionsByStatus(ctx context.Context, status AuctionStatus, page, pageSize int) ([]*Auction, error)

	// CreateAuction persists the auction and flips the product type to
	// "auction" in one atomic unit. Returns ErrConflict if the product
	// already has an auction or is not biddable, ErrNotFound if the product
	// does not exist.
	CreateAuction(ctx context.Context, auction *Auction) error

	// CommitBid applies the optimistic compare-and-commit: the price update
	// and the bid insert succeed only if the stored current_price still
	// equals expectedPrice and the auction is still running. Returns the
	// updated auction, or ErrConflict when the guard did not match.
	CommitBid(ctx context.Context, auctionID string, expectedPrice float64, bid *Bid) (*Auction, error)

	// TransitionStatus is a conditional, idempotent status move. It reports
	// false (without error) when the auction was not in fromStatus.
	TransitionStatus(ctx context.Context, auctionID string, from, to AuctionStatus) (bool, error)

	// ExtendEndTime pushes end_at forward and increments end_extended_count.
	// It reports false when newEndAt does not increase end_at or the auction
	// is no longer running.
	ExtendEndTime(ctx context.Context, auctionID string, newEndAt time.Time) (bool, error)

	// Scheduler queries: auctions whose time boundary has been crossed.
	ListDueToStart(ctx context.Context, now time.Time) ([]*Auction, error)
	ListDueToEnd(ctx context.Context, now time.Time) ([]*Auction, error)
}

// ProductCatalog is the product collaborator boundary. The auction core only
// needs existence, ownership and biddability.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

// Broadcaster owns the live subscriber registry. Delivery is best effort and
// per-subscriber failures never propagate to the publisher.
type Broadcaster interface {
	Subscribe(auctionID string) (*Subscription, error)
	Unsubscribe(sub *Subscription)
	Publish(auctionID string, event AuctionEvent)
	// CloseAuction delivers nothing further and tears down every
	// subscription of the auction.
	CloseAuction(auctionID string)
}

// Subscription is one live observer of one auction. Events arrive on C in
// publish order until Unsubscribe or CloseAuction closes it.
type Subscription struct {
	ID        string
	AuctionID string
	C         chan AuctionEvent
}

// EventPublisher hands committed events to the relay. Implementations must
// not block the commit path; failures are logged and swallowed by callers.
type EventPublisher interface {
	PublishAuctionEvent(ctx context.Context, event AuctionEvent) error
}

// EventSubscriber feeds relayed events back into the process, where the
// listener fans them out to local subscribers.
type EventSubscriber interface {
	SubscribeToAuctionEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event AuctionEvent) error

// LeaderElection gates work that must run on at most one instance, such as
// the lifecycle tick.
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}
