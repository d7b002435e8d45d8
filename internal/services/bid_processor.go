package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/domain"
	"marketplace-backend/internal/metrics"
	"marketplace-backend/pkg/logger"
	"marketplace-backend/pkg/utils"
)

// BidProcessor runs the bid pipeline: load snapshot, validate, optimistic
// commit, anti-snipe extension, notify. It owns the retry discipline around
// commit conflicts; everything else is delegated.
type BidProcessor struct {
	store     domain.AuctionStore
	validator *BidValidator
	lifecycle *LifecycleScheduler
	publisher domain.EventPublisher
	cfg       config.AuctionConfig
	log       logger.Logger
}

func NewBidProcessor(
	store domain.AuctionStore,
	validator *BidValidator,
	lifecycle *LifecycleScheduler,
	publisher domain.EventPublisher,
	cfg config.AuctionConfig,
	log logger.Logger,
) *BidProcessor {
	return &BidProcessor{
		store:     store,
		validator: validator,
		lifecycle: lifecycle,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// PlaceBid validates and commits one bid attempt for principal.
//
// Rejections are terminal and come back as *domain.Rejection. A commit
// conflict means another bid landed between our read and our write; the
// attempt re-reads and re-validates up to MaxCommitRetries times, then fails
// with ErrBusy. Store failures are returned as-is for the caller to retry.
func (p *BidProcessor) PlaceBid(ctx context.Context, auctionID string, principal domain.Principal, amount float64) (*domain.Bid, *domain.Auction, error) {
	retries := p.cfg.MaxCommitRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		auction, err := p.store.GetAuction(ctx, auctionID)
		if err != nil {
			return nil, nil, err
		}

		// Lazy lifecycle advance: a bid may be the first observer of a
		// crossed time boundary.
		auction, err = p.lifecycle.AdvanceLazily(ctx, auction)
		if err != nil {
			return nil, nil, err
		}

		now := time.Now()
		if rej := p.validator.Validate(auction, principal.ID, amount, now); rej != nil {
			metrics.BidsRejected.WithLabelValues(string(rej.Reason)).Inc()
			p.log.Info("Bid rejected",
				"auction_id", auctionID, "bidder_id", principal.ID,
				"amount", amount, "reason", rej.Reason)
			return nil, nil, rej
		}

		bid := &domain.Bid{
			ID:        utils.GenerateID("bid"),
			AuctionID: auctionID,
			BidderID:  principal.ID,
			Amount:    amount,
			CreatedAt: now,
		}

		updated, err := p.store.CommitBid(ctx, auctionID, auction.CurrentPrice, bid)
		if errors.Is(err, domain.ErrConflict) {
			metrics.BidCommitConflicts.Inc()
			p.log.Debug("Bid commit conflict, re-validating",
				"auction_id", auctionID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("commit bid: %w", err)
		}

		metrics.BidsAccepted.Inc()

		event := domain.AuctionEvent{
			Type:         domain.EventBidAccepted,
			AuctionID:    auctionID,
			CurrentPrice: updated.CurrentPrice,
			BidderID:     bid.BidderID,
			BidID:        bid.ID,
			Timestamp:    bid.CreatedAt,
		}

		if extended := p.maybeExtend(ctx, updated, now); extended != nil {
			updated = extended
			endAt := updated.EndAt
			event.EndAt = &endAt
		}

		// The bid is durable at this point. Notification is best effort and
		// never rolls it back.
		if err := p.publisher.PublishAuctionEvent(ctx, event); err != nil {
			p.log.Error("Failed to publish bid event",
				"auction_id", auctionID, "bid_id", bid.ID, "error", err)
		}

		p.log.Info("Bid accepted",
			"auction_id", auctionID, "bid_id", bid.ID,
			"bidder_id", principal.ID, "amount", amount,
			"current_price", updated.CurrentPrice)
		return bid, updated, nil
	}

	return nil, nil, domain.ErrBusy
}

// maybeExtend applies the anti-snipe policy after a successful commit. A bid
// landing within the window pushes end_at to now + extension; the clock
// restarts from the bid, not from the old end. Returns the refreshed auction
// when an extension was applied.
func (p *BidProcessor) maybeExtend(ctx context.Context, auction *domain.Auction, now time.Time) *domain.Auction {
	if !p.cfg.AntiSnipeEnabled {
		return nil
	}

	remaining := auction.EndAt.Sub(now)
	if remaining <= 0 || remaining > p.cfg.AntiSnipeWindow {
		return nil
	}

	newEndAt := now.Add(p.cfg.AntiSnipeExtension)
	ok, err := p.store.ExtendEndTime(ctx, auction.ID, newEndAt)
	if err != nil {
		p.log.Error("Failed to extend auction end time",
			"auction_id", auction.ID, "error", err)
		return nil
	}
	if !ok {
		// Someone else extended further, or the auction just ended.
		return nil
	}

	metrics.AuctionsExtended.Inc()
	p.log.Info("Auction end time extended",
		"auction_id", auction.ID, "new_end_at", newEndAt)

	refreshed, err := p.store.GetAuction(ctx, auction.ID)
	if err != nil {
		// Fall back to the local view; the store already holds the truth.
		c := *auction
		c.EndAt = newEndAt
		c.EndExtendedCount++
		return &c
	}
	return refreshed
}
