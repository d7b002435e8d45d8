package domain

import (
	"time"
)

type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionRunning   AuctionStatus = "running"
	AuctionEnded     AuctionStatus = "ended"
)

// Auction is the single offering of one product at auction. CurrentPrice is
// monotonically non-decreasing and EndAt may only move forward; both are
// enforced at the store boundary, not here.
type Auction struct {
	ID               string        `json:"id"`
	ProductID        string        `json:"product_id"`
	SellerID         string        `json:"seller_id"`
	StartPrice       float64       `json:"start_price"`
	MinIncrement     float64       `json:"min_increment"`
	StartAt          time.Time     `json:"start_at"`
	EndAt            time.Time     `json:"end_at"`
	CurrentPrice     float64       `json:"current_price"`
	Status           AuctionStatus `json:"status"`
	EndExtendedCount int           `json:"end_extended_count"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Bid is an immutable historical record, created only on acceptance.
type Bid struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductStatus string

const (
	ProductPublished ProductStatus = "published"
	ProductDraft     ProductStatus = "draft"
	ProductBlocked   ProductStatus = "blocked"
)

type ProductType string

const (
	ProductDirect  ProductType = "direct"
	ProductAuction ProductType = "auction"
)

// Product is the slice of the catalog the auction core needs: existence,
// ownership, and whether the product can still be put up for auction.
type Product struct {
	ID       string        `json:"id"`
	SellerID string        `json:"seller_id"`
	Type     ProductType   `json:"type"`
	Status   ProductStatus `json:"status"`
}

// Biddable reports whether a product may be converted into an auction.
func (p *Product) Biddable() bool {
	return p.Status == ProductPublished && p.Type != ProductAuction
}

// Principal is the authenticated identity supplied by the auth collaborator.
// The core trusts only the id and roles.
type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
