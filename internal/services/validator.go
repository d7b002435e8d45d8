package services

import (
	"fmt"
	"time"

	"marketplace-backend/internal/domain"
)

// BidValidator is the pure accept/reject decision for one proposed bid
// against one auction snapshot. It has no side effects and no clock of its
// own; the caller supplies now.
type BidValidator struct{}

func NewBidValidator() *BidValidator {
	return &BidValidator{}
}

// Validate returns nil when the bid is acceptable, otherwise the specific
// rejection. The minimum accepted amount is exactly
// current_price + min_increment; a bid equal to it is accepted.
func (v *BidValidator) Validate(auction *domain.Auction, bidderID string, amount float64, now time.Time) *domain.Rejection {
	if bidderID == auction.SellerID {
		return &domain.Rejection{
			Reason:  domain.RejectSelfBid,
			Message: "sellers cannot bid on their own auction",
		}
	}

	if now.Before(auction.StartAt) {
		return &domain.Rejection{
			Reason:  domain.RejectTooEarly,
			Message: "auction has not started yet",
		}
	}

	if auction.Status == domain.AuctionEnded || now.After(auction.EndAt) {
		return &domain.Rejection{
			Reason:  domain.RejectTooLate,
			Message: "auction has ended",
		}
	}

	if auction.Status != domain.AuctionRunning {
		return &domain.Rejection{
			Reason:  domain.RejectWrongStatus,
			Message: fmt.Sprintf("auction is %s, not running", auction.Status),
		}
	}

	minimum := v.MinimumBid(auction)
	if amount < minimum {
		return &domain.Rejection{
			Reason:     domain.RejectBelowMinimum,
			Message:    fmt.Sprintf("bid must be at least %.2f", minimum),
			MinimumBid: minimum,
		}
	}

	return nil
}

// MinimumBid is the lowest amount the auction currently accepts.
func (v *BidValidator) MinimumBid(auction *domain.Auction) float64 {
	return auction.CurrentPrice + auction.MinIncrement
}
