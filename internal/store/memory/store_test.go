package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-backend/internal/domain"
)

func newRunningAuction(id string) *domain.Auction {
	now := time.Now()
	return &domain.Auction{
		ID:           id,
		ProductID:    "product-" + id,
		SellerID:     "seller-1",
		StartPrice:   100,
		MinIncrement: 10,
		StartAt:      now.Add(-time.Hour),
		EndAt:        now.Add(time.Hour),
		CurrentPrice: 100,
		Status:       domain.AuctionRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func seed(t *testing.T, s *Store, a *domain.Auction) {
	t.Helper()
	s.PutProduct(&domain.Product{
		ID:       a.ProductID,
		SellerID: a.SellerID,
		Type:     domain.ProductDirect,
		Status:   domain.ProductPublished,
	})
	require.NoError(t, s.CreateAuction(context.Background(), a))
}

func TestCreateAuctionFlipsProductType(t *testing.T) {
	s := NewStore()
	a := newRunningAuction("a1")
	seed(t, s, a)

	p, err := s.GetProduct(context.Background(), a.ProductID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProductAuction, p.Type)
}

func TestCreateAuctionRejections(t *testing.T) {
	s := NewStore()

	a := newRunningAuction("a1")
	err := s.CreateAuction(context.Background(), a)
	assert.ErrorIs(t, err, domain.ErrNotFound, "unknown product")

	s.PutProduct(&domain.Product{
		ID:       a.ProductID,
		SellerID: a.SellerID,
		Type:     domain.ProductDirect,
		Status:   domain.ProductDraft,
	})
	err = s.CreateAuction(context.Background(), a)
	assert.ErrorIs(t, err, domain.ErrConflict, "unpublished product")

	s.PutProduct(&domain.Product{
		ID:       a.ProductID,
		SellerID: a.SellerID,
		Type:     domain.ProductDirect,
		Status:   domain.ProductPublished,
	})
	require.NoError(t, s.CreateAuction(context.Background(), a))

	// A second auction for the same product loses, whatever its id.
	dup := newRunningAuction("a2")
	dup.ProductID = a.ProductID
	err = s.CreateAuction(context.Background(), dup)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCommitBidGuards(t *testing.T) {
	s := NewStore()
	a := newRunningAuction("a1")
	seed(t, s, a)

	bid := &domain.Bid{ID: "bid-1", AuctionID: a.ID, BidderID: "bidder-1", Amount: 110, CreatedAt: time.Now()}

	_, err := s.CommitBid(context.Background(), "missing", 100, bid)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Stale expected price.
	_, err = s.CommitBid(context.Background(), a.ID, 90, bid)
	assert.ErrorIs(t, err, domain.ErrConflict)

	updated, err := s.CommitBid(context.Background(), a.ID, 100, bid)
	require.NoError(t, err)
	assert.Equal(t, 110.0, updated.CurrentPrice)

	// Replaying the same expected price after the commit fails.
	_, err = s.CommitBid(context.Background(), a.ID, 100, bid)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// No commits once the auction left running.
	_, err = s.TransitionStatus(context.Background(), a.ID, domain.AuctionRunning, domain.AuctionEnded)
	require.NoError(t, err)
	_, err = s.CommitBid(context.Background(), a.ID, 110, bid)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCommitBidAppendsHistoryInOrder(t *testing.T) {
	s := NewStore()
	a := newRunningAuction("a1")
	seed(t, s, a)

	prices := []float64{110, 120, 135}
	expected := 100.0
	for i, p := range prices {
		bid := &domain.Bid{
			ID:        fmt.Sprintf("bid-%d", i),
			AuctionID: a.ID,
			BidderID:  "bidder-1",
			Amount:    p,
			CreatedAt: time.Now(),
		}
		_, err := s.CommitBid(context.Background(), a.ID, expected, bid)
		require.NoError(t, err)
		expected = p
	}

	got, bids, err := s.GetAuctionWithBids(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 135.0, got.CurrentPrice)
	require.Len(t, bids, 3)
	for i, b := range bids {
		assert.Equal(t, prices[i], b.Amount)
	}
}

func TestTransitionStatusIsConditional(t *testing.T) {
	s := NewStore()
	a := newRunningAuction("a1")
	a.Status = domain.AuctionScheduled
	seed(t, s, a)

	moved, err := s.TransitionStatus(context.Background(), a.ID, domain.AuctionScheduled, domain.AuctionRunning)
	require.NoError(t, err)
	assert.True(t, moved)

	// Same transition again reports no movement.
	moved, err = s.TransitionStatus(context.Background(), a.ID, domain.AuctionScheduled, domain.AuctionRunning)
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = s.TransitionStatus(context.Background(), "missing", domain.AuctionScheduled, domain.AuctionRunning)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExtendEndTimeIsMonotonic(t *testing.T) {
	s := NewStore()
	a := newRunningAuction("a1")
	seed(t, s, a)

	later := a.EndAt.Add(2 * time.Minute)
	moved, err := s.ExtendEndTime(context.Background(), a.ID, later)
	require.NoError(t, err)
	assert.True(t, moved)

	// An earlier deadline never wins.
	moved, err = s.ExtendEndTime(context.Background(), a.ID, a.EndAt)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.EndAt.Equal(later))
	assert.Equal(t, 1, got.EndExtendedCount)

	_, err = s.TransitionStatus(context.Background(), a.ID, domain.AuctionRunning, domain.AuctionEnded)
	require.NoError(t, err)
	moved, err = s.ExtendEndTime(context.Background(), a.ID, later.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, moved, "ended auctions keep their deadline")
}

func TestListAuctionsByStatusPagination(t *testing.T) {
	s := NewStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		a := newRunningAuction(fmt.Sprintf("a%d", i))
		a.CreatedAt = base.Add(time.Duration(i) * time.Second)
		seed(t, s, a)
	}

	page1, err := s.ListAuctionsByStatus(context.Background(), domain.AuctionRunning, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "a0", page1[0].ID)
	assert.Equal(t, "a1", page1[1].ID)

	page3, err := s.ListAuctionsByStatus(context.Background(), domain.AuctionRunning, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "a4", page3[0].ID)

	beyond, err := s.ListAuctionsByStatus(context.Background(), domain.AuctionRunning, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	none, err := s.ListAuctionsByStatus(context.Background(), domain.AuctionEnded, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListDueFiltersByStatusAndTime(t *testing.T) {
	s := NewStore()
	now := time.Now()

	scheduled := newRunningAuction("sched")
	scheduled.Status = domain.AuctionScheduled
	scheduled.StartAt = now.Add(-time.Minute)
	seed(t, s, scheduled)

	future := newRunningAuction("future")
	future.Status = domain.AuctionScheduled
	future.StartAt = now.Add(time.Hour)
	seed(t, s, future)

	over := newRunningAuction("over")
	over.EndAt = now.Add(-time.Minute)
	seed(t, s, over)

	toStart, err := s.ListDueToStart(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, toStart, 1)
	assert.Equal(t, "sched", toStart[0].ID)

	toEnd, err := s.ListDueToEnd(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, toEnd, 1)
	assert.Equal(t, "over", toEnd[0].ID)
}

func TestReturnedSnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	a := newRunningAuction("a1")
	seed(t, s, a)

	snap, err := s.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	snap.CurrentPrice = 999

	fresh, err := s.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, fresh.CurrentPrice)
}
