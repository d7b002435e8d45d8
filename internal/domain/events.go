package domain

import "time"

type EventType string

const (
	EventBidAccepted    EventType = "bid_accepted"
	EventAuctionStarted EventType = "auction_started"
	EventAuctionEnded   EventType = "auction_ended"
)

// AuctionEvent is the payload relayed to every live subscriber of an auction.
// EndAt is set on bid_accepted only when the bid triggered an anti-snipe
// extension, and always on auction_started/auction_ended.
type AuctionEvent struct {
	Type         EventType  `json:"type"`
	AuctionID    string     `json:"auctionId"`
	CurrentPrice float64    `json:"currentPrice,omitempty"`
	BidderID     string     `json:"bidderId,omitempty"`
	BidID        string     `json:"bidId,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	EndAt        *time.Time `json:"endAt,omitempty"`
}
