package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-backend/internal/domain"
)

// Store keeps auctions, bids and products in process memory behind a single
// mutex. It implements the same conditional-write semantics as the MySQL
// store and backs both tests and the "memory" storage driver.
type Store struct {
	mu       sync.Mutex
	auctions map[string]*domain.Auction
	bids     map[string][]*domain.Bid // auctionID -> bids in insertion order
	products map[string]*domain.Product
}

func NewStore() *Store {
	return &Store{
		auctions: make(map[string]*domain.Auction),
		bids:     make(map[string][]*domain.Bid),
		products: make(map[string]*domain.Product),
	}
}

func cloneAuction(a *domain.Auction) *domain.Auction {
	c := *a
	return &c
}

func cloneBid(b *domain.Bid) *domain.Bid {
	c := *b
	return &c
}

// PutProduct seeds or replaces a product. Products are collaborator-owned;
// the auction core only mutates the type flip on auction creation.
func (s *Store) PutProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.products[p.ID] = &c
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAuction(a), nil
}

func (s *Store) GetAuctionWithBids(ctx context.Context, auctionID string) (*domain.Auction, []*domain.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}

	bids := make([]*domain.Bid, 0, len(s.bids[auctionID]))
	for _, b := range s.bids[auctionID] {
		bids = append(bids, cloneBid(b))
	}
	return cloneAuction(a), bids, nil
}

func (s *Store) ListAuctionsByStatus(ctx context.Context, status domain.AuctionStatus, page, pageSize int) ([]*domain.Auction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Auction
	for _, a := range s.auctions {
		if status == "" || a.Status == status {
			matched = append(matched, a)
		}
	}
	// Stable listing order: oldest creations first, id as tiebreak.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*domain.Auction, 0, end-start)
	for _, a := range matched[start:end] {
		out = append(out, cloneAuction(a))
	}
	return out, nil
}

func (s *Store) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[auction.ProductID]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Biddable() {
		return domain.ErrConflict
	}
	for _, a := range s.auctions {
		if a.ProductID == auction.ProductID {
			return domain.ErrConflict
		}
	}

	// Product type flips atomically with auction creation.
	p.Type = domain.ProductAuction
	s.auctions[auction.ID] = cloneAuction(auction)
	return nil
}

func (s *Store) CommitBid(ctx context.Context, auctionID string, expectedPrice float64, bid *domain.Bid) (*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.Status != domain.AuctionRunning || a.CurrentPrice != expectedPrice {
		return nil, domain.ErrConflict
	}

	a.CurrentPrice = bid.Amount
	a.UpdatedAt = time.Now()
	s.bids[auctionID] = append(s.bids[auctionID], cloneBid(bid))
	return cloneAuction(a), nil
}

func (s *Store) TransitionStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Status != from {
		return false, nil
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) ExtendEndTime(ctx context.Context, auctionID string, newEndAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Status != domain.AuctionRunning || !newEndAt.After(a.EndAt) {
		return false, nil
	}

	a.EndAt = newEndAt
	a.EndExtendedCount++
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) ListDueToStart(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.listDue(domain.AuctionScheduled, func(a *domain.Auction) bool {
		return !a.StartAt.After(now)
	})
}

func (s *Store) ListDueToEnd(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.listDue(domain.AuctionRunning, func(a *domain.Auction) bool {
		return !a.EndAt.After(now)
	})
}

func (s *Store) listDue(status domain.AuctionStatus, due func(*domain.Auction) bool) ([]*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Auction
	for _, a := range s.auctions {
		if a.Status == status && due(a) {
			out = append(out, cloneAuction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
