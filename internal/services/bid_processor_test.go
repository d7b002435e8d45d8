package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/domain"
	"marketplace-backend/internal/infrastructure/leader"
	"marketplace-backend/internal/store/memory"
	"marketplace-backend/pkg/logger"
)

// eventRecorder captures published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.AuctionEvent
}

func (r *eventRecorder) PublishAuctionEvent(ctx context.Context, event domain.AuctionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) all() []domain.AuctionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuctionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) ofType(t domain.EventType) []domain.AuctionEvent {
	var out []domain.AuctionEvent
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type processorFixture struct {
	store     *memory.Store
	recorder  *eventRecorder
	processor *BidProcessor
	lifecycle *LifecycleScheduler
}

func newProcessorFixture(t *testing.T, cfg config.AuctionConfig) *processorFixture {
	t.Helper()

	store := memory.NewStore()
	recorder := &eventRecorder{}
	log := logger.NewNop()

	lifecycle := NewLifecycleScheduler(store, recorder, leader.NewStaticLeader(), "test-1", cfg, log)
	processor := NewBidProcessor(store, NewBidValidator(), lifecycle, recorder, cfg, log)

	return &processorFixture{
		store:     store,
		recorder:  recorder,
		processor: processor,
		lifecycle: lifecycle,
	}
}

func defaultAuctionConfig() config.AuctionConfig {
	return config.AuctionConfig{
		MaxCommitRetries:   5,
		TickInterval:       time.Second,
		TickBudget:         time.Second,
		AntiSnipeEnabled:   false,
		AntiSnipeWindow:    60 * time.Second,
		AntiSnipeExtension: 120 * time.Second,
		SubscriberBuffer:   16,
	}
}

func seedRunningAuction(t *testing.T, store *memory.Store, id string, endAt time.Time) *domain.Auction {
	t.Helper()

	now := time.Now()
	auction := &domain.Auction{
		ID:           id,
		ProductID:    "product-" + id,
		SellerID:     "seller-1",
		StartPrice:   100,
		MinIncrement: 10,
		StartAt:      now.Add(-time.Hour),
		EndAt:        endAt,
		CurrentPrice: 100,
		Status:       domain.AuctionRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.PutProduct(&domain.Product{
		ID:       auction.ProductID,
		SellerID: auction.SellerID,
		Type:     domain.ProductDirect,
		Status:   domain.ProductPublished,
	})
	require.NoError(t, store.CreateAuction(context.Background(), auction))
	return auction
}

func TestPlaceBidScenario(t *testing.T) {
	// Auction at 100 with increment 10: 110 accepted, 105 rejected with
	// minimum 120, 120 accepted.
	f := newProcessorFixture(t, defaultAuctionConfig())
	seedRunningAuction(t, f.store, "auction-1", time.Now().Add(time.Hour))
	ctx := context.Background()

	bid, auction, err := f.processor.PlaceBid(ctx, "auction-1", domain.Principal{ID: "bidder-x"}, 110)
	require.NoError(t, err)
	assert.Equal(t, 110.0, auction.CurrentPrice)
	assert.Equal(t, "bidder-x", bid.BidderID)

	_, _, err = f.processor.PlaceBid(ctx, "auction-1", domain.Principal{ID: "bidder-y"}, 105)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectBelowMinimum, rej.Reason)
	assert.Equal(t, 120.0, rej.MinimumBid)

	_, auction, err = f.processor.PlaceBid(ctx, "auction-1", domain.Principal{ID: "bidder-z"}, 120)
	require.NoError(t, err)
	assert.Equal(t, 120.0, auction.CurrentPrice)

	_, bids, err := f.store.GetAuctionWithBids(ctx, "auction-1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, 110.0, bids[0].Amount)
	assert.Equal(t, 120.0, bids[1].Amount)

	// Exactly one bid_accepted event per committed bid, none for the
	// rejection.
	accepted := f.recorder.ofType(domain.EventBidAccepted)
	require.Len(t, accepted, 2)
	assert.Equal(t, 110.0, accepted[0].CurrentPrice)
	assert.Equal(t, 120.0, accepted[1].CurrentPrice)
}

func TestPlaceBidRejectionsProduceNoStateChange(t *testing.T) {
	f := newProcessorFixture(t, defaultAuctionConfig())
	ctx := context.Background()

	now := time.Now()
	auction := seedRunningAuction(t, f.store, "auction-1", now.Add(time.Hour))

	t.Run("self bid", func(t *testing.T) {
		_, _, err := f.processor.PlaceBid(ctx, "auction-1", domain.Principal{ID: auction.SellerID}, 500)
		rej, ok := domain.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, domain.RejectSelfBid, rej.Reason)
	})

	t.Run("below minimum", func(t *testing.T) {
		_, _, err := f.processor.PlaceBid(ctx, "auction-1", domain.Principal{ID: "bidder-1"}, 50)
		rej, ok := domain.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, domain.RejectBelowMinimum, rej.Reason)
	})

	got, err := f.store.GetAuction(ctx, "auction-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.CurrentPrice)

	_, bids, err := f.store.GetAuctionWithBids(ctx, "auction-1")
	require.NoError(t, err)
	assert.Empty(t, bids)
	assert.Empty(t, f.recorder.all())
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	f := newProcessorFixture(t, defaultAuctionConfig())

	_, _, err := f.processor.PlaceBid(context.Background(), "auction-missing", domain.Principal{ID: "bidder-1"}, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBidConcurrent(t *testing.T) {
	// Many goroutines race on one auction. The compare-and-commit guard must
	// keep the bid history strictly increasing, with the final price equal to
	// the maximum accepted amount.
	f := newProcessorFixture(t, defaultAuctionConfig())
	seedRunningAuction(t, f.store, "auction-1", time.Now().Add(time.Hour))
	ctx := context.Background()

	const bidders = 20
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := 110 + float64(i)*10
			principal := domain.Principal{ID: "bidder-" + string(rune('a'+i))}
			// Busy and rejection outcomes are legitimate under contention.
			f.processor.PlaceBid(ctx, "auction-1", principal, amount)
		}(i)
	}
	wg.Wait()

	auction, bids, err := f.store.GetAuctionWithBids(ctx, "auction-1")
	require.NoError(t, err)
	require.NotEmpty(t, bids)

	prev := auction.StartPrice
	for _, b := range bids {
		assert.GreaterOrEqual(t, b.Amount, prev+auction.MinIncrement,
			"history must step by at least min_increment")
		prev = b.Amount
	}
	assert.Equal(t, prev, auction.CurrentPrice,
		"current price must match the last accepted bid")
}

func TestPlaceBidBusyAfterExhaustedRetries(t *testing.T) {
	cfg := defaultAuctionConfig()
	cfg.MaxCommitRetries = 3

	store := memory.NewStore()
	recorder := &eventRecorder{}
	log := logger.NewNop()
	lifecycle := NewLifecycleScheduler(store, recorder, leader.NewStaticLeader(), "test-1", cfg, log)

	// conflictStore forces every commit into the conflict path.
	cs := &conflictStore{Store: store}
	processor := NewBidProcessor(cs, NewBidValidator(), lifecycle, recorder, cfg, log)

	seedRunningAuction(t, store, "auction-1", time.Now().Add(time.Hour))

	_, _, err := processor.PlaceBid(context.Background(), "auction-1", domain.Principal{ID: "bidder-1"}, 110)
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, 3, cs.commits)
}

type conflictStore struct {
	*memory.Store
	commits int
}

func (cs *conflictStore) CommitBid(ctx context.Context, auctionID string, expectedPrice float64, bid *domain.Bid) (*domain.Auction, error) {
	cs.commits++
	return nil, domain.ErrConflict
}

func TestPlaceBidAntiSnipeExtension(t *testing.T) {
	// A bid 30s before the end with a 60s window and 120s extension moves
	// end_at to roughly bid time + 120s, i.e. the original end + 90s.
	cfg := defaultAuctionConfig()
	cfg.AntiSnipeEnabled = true

	f := newProcessorFixture(t, cfg)
	originalEnd := time.Now().Add(30 * time.Second)
	seedRunningAuction(t, f.store, "auction-1", originalEnd)

	before := time.Now()
	_, auction, err := f.processor.PlaceBid(context.Background(), "auction-1", domain.Principal{ID: "bidder-1"}, 110)
	require.NoError(t, err)

	assert.Equal(t, 1, auction.EndExtendedCount)
	assert.True(t, auction.EndAt.After(originalEnd), "end_at must only increase")
	assert.WithinDuration(t, before.Add(cfg.AntiSnipeExtension), auction.EndAt, 2*time.Second)

	accepted := f.recorder.ofType(domain.EventBidAccepted)
	require.Len(t, accepted, 1)
	require.NotNil(t, accepted[0].EndAt, "extension must be visible in the event")
	assert.WithinDuration(t, auction.EndAt, *accepted[0].EndAt, time.Millisecond)
}

func TestPlaceBidNoExtensionOutsideWindow(t *testing.T) {
	cfg := defaultAuctionConfig()
	cfg.AntiSnipeEnabled = true

	f := newProcessorFixture(t, cfg)
	originalEnd := time.Now().Add(10 * time.Minute)
	seedRunningAuction(t, f.store, "auction-1", originalEnd)

	_, auction, err := f.processor.PlaceBid(context.Background(), "auction-1", domain.Principal{ID: "bidder-1"}, 110)
	require.NoError(t, err)

	assert.Equal(t, 0, auction.EndExtendedCount)
	assert.Equal(t, originalEnd.Unix(), auction.EndAt.Unix())

	accepted := f.recorder.ofType(domain.EventBidAccepted)
	require.Len(t, accepted, 1)
	assert.Nil(t, accepted[0].EndAt)
}

func TestPlaceBidLazyTransitionOnRead(t *testing.T) {
	// A bid against an auction whose end_at already passed must observe the
	// lazy running -> ended transition and come back too_late.
	f := newProcessorFixture(t, defaultAuctionConfig())
	seedRunningAuction(t, f.store, "auction-1", time.Now().Add(-time.Minute))

	_, _, err := f.processor.PlaceBid(context.Background(), "auction-1", domain.Principal{ID: "bidder-1"}, 110)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, domain.RejectTooLate, rej.Reason)

	got, err := f.store.GetAuction(context.Background(), "auction-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionEnded, got.Status)

	// The lazy transition emits the ended event exactly once.
	assert.Len(t, f.recorder.ofType(domain.EventAuctionEnded), 1)
}
