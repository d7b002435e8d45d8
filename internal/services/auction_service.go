package services

import (
	"context"
	"fmt"
	"time"

	"marketplace-backend/internal/domain"
	"marketplace-backend/pkg/logger"
	"marketplace-backend/pkg/utils"
)

// AuctionService covers the synchronous query surface and auction creation.
type AuctionService struct {
	store     domain.AuctionStore
	catalog   domain.ProductCatalog
	lifecycle *LifecycleScheduler
	log       logger.Logger
}

func NewAuctionService(
	store domain.AuctionStore,
	catalog domain.ProductCatalog,
	lifecycle *LifecycleScheduler,
	log logger.Logger,
) *AuctionService {
	return &AuctionService{
		store:     store,
		catalog:   catalog,
		lifecycle: lifecycle,
		log:       log,
	}
}

type CreateAuctionInput struct {
	ProductID    string
	StartPrice   float64
	MinIncrement float64
	StartAt      time.Time
	EndAt        time.Time
}

func (in *CreateAuctionInput) validate() error {
	if in.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if in.StartPrice <= 0 {
		return fmt.Errorf("start_price must be positive")
	}
	if in.MinIncrement <= 0 {
		return fmt.Errorf("min_increment must be positive")
	}
	if !in.EndAt.After(in.StartAt) {
		return fmt.Errorf("end_at must be after start_at")
	}
	return nil
}

// CreateAuction converts one of the seller's published products into an
// auction. The product type flip and the auction insert are one atomic unit
// inside the store.
func (s *AuctionService) CreateAuction(ctx context.Context, principal domain.Principal, in CreateAuctionInput) (*domain.Auction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if product.SellerID != principal.ID {
		// Conflict, not forbidden: the caller holds no claim on this product.
		return nil, domain.ErrConflict
	}

	now := time.Now()
	auction := &domain.Auction{
		ID:           utils.GenerateID("auction"),
		ProductID:    in.ProductID,
		SellerID:     product.SellerID,
		StartPrice:   in.StartPrice,
		MinIncrement: in.MinIncrement,
		StartAt:      in.StartAt,
		EndAt:        in.EndAt,
		CurrentPrice: in.StartPrice,
		Status:       domain.AuctionScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// An auction created past its start time opens immediately.
	if !in.StartAt.After(now) {
		auction.Status = domain.AuctionRunning
	}

	if err := s.store.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	s.log.Info("Auction created",
		"auction_id", auction.ID, "product_id", in.ProductID,
		"seller_id", product.SellerID, "start_price", in.StartPrice)
	return auction, nil
}

// GetAuctionWithBids returns the auction and its full bid history, oldest
// bid first. Overdue transitions are applied lazily so a read never shows a
// stale status.
func (s *AuctionService) GetAuctionWithBids(ctx context.Context, auctionID string) (*domain.Auction, []*domain.Bid, error) {
	auction, bids, err := s.store.GetAuctionWithBids(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}

	auction, err = s.lifecycle.AdvanceLazily(ctx, auction)
	if err != nil {
		return nil, nil, err
	}
	return auction, bids, nil
}

func (s *AuctionService) ListAuctions(ctx context.Context, status domain.AuctionStatus, page, pageSize int) ([]*domain.Auction, error) {
	return s.store.ListAuctionsByStatus(ctx, status, page, pageSize)
}
