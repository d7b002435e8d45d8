package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/domain"
	"marketplace-backend/pkg/logger"
)

// LifecycleScheduler moves auctions across their time boundaries:
// scheduled -> running when start_at passes, running -> ended when end_at
// passes. Every transition is a conditional store write, so overlapping
// ticks, multiple instances, and the lazy path in the bid pipeline can all
// race without double-firing.
type LifecycleScheduler struct {
	store      domain.AuctionStore
	publisher  domain.EventPublisher
	leader     domain.LeaderElection
	instanceID string
	cfg        config.AuctionConfig
	cron       *cron.Cron
	log        logger.Logger
}

func NewLifecycleScheduler(
	store domain.AuctionStore,
	publisher domain.EventPublisher,
	leader domain.LeaderElection,
	instanceID string,
	cfg config.AuctionConfig,
	log logger.Logger,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		store:      store,
		publisher:  publisher,
		leader:     leader,
		instanceID: instanceID,
		cfg:        cfg,
		cron:       cron.New(cron.WithSeconds()),
		log:        log,
	}
}

func (s *LifecycleScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting lifecycle scheduler", "interval", s.cfg.TickInterval)

	spec := "@every " + s.cfg.TickInterval.String()
	_, err := s.cron.AddFunc(spec, func() {
		s.Tick(ctx, time.Now())
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *LifecycleScheduler) Stop() error {
	s.log.Info("Stopping lifecycle scheduler")
	s.cron.Stop()
	return nil
}

// Tick runs one scheduler pass. Only the leader transitions anything; the
// conditional writes make a stale leader harmless.
func (s *LifecycleScheduler) Tick(ctx context.Context, now time.Time) {
	isLeader, err := s.leader.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Leader check failed", "error", err)
		return
	}
	if !isLeader {
		return
	}

	due, err := s.store.ListDueToStart(ctx, now)
	if err != nil {
		s.log.Error("Failed to list auctions due to start", "error", err)
	} else {
		for _, a := range due {
			s.startOne(ctx, a, now)
		}
	}

	due, err = s.store.ListDueToEnd(ctx, now)
	if err != nil {
		s.log.Error("Failed to list auctions due to end", "error", err)
	} else {
		for _, a := range due {
			s.endOne(ctx, a, now)
		}
	}
}

func (s *LifecycleScheduler) startOne(ctx context.Context, a *domain.Auction, now time.Time) {
	// One slow store call must not starve the rest of the tick.
	ctx, cancel := context.WithTimeout(ctx, s.tickBudget())
	defer cancel()

	moved, err := s.store.TransitionStatus(ctx, a.ID, domain.AuctionScheduled, domain.AuctionRunning)
	if err != nil {
		s.log.Error("Failed to start auction", "auction_id", a.ID, "error", err)
		return
	}
	if !moved {
		return
	}

	s.log.Info("Auction started", "auction_id", a.ID)
	endAt := a.EndAt
	s.publish(ctx, domain.AuctionEvent{
		Type:         domain.EventAuctionStarted,
		AuctionID:    a.ID,
		CurrentPrice: a.CurrentPrice,
		Timestamp:    now,
		EndAt:        &endAt,
	})
}

func (s *LifecycleScheduler) endOne(ctx context.Context, a *domain.Auction, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, s.tickBudget())
	defer cancel()

	moved, err := s.store.TransitionStatus(ctx, a.ID, domain.AuctionRunning, domain.AuctionEnded)
	if err != nil {
		s.log.Error("Failed to end auction", "auction_id", a.ID, "error", err)
		return
	}
	if !moved {
		return
	}

	s.log.Info("Auction ended", "auction_id", a.ID, "final_price", a.CurrentPrice)
	endAt := a.EndAt
	s.publish(ctx, domain.AuctionEvent{
		Type:         domain.EventAuctionEnded,
		AuctionID:    a.ID,
		CurrentPrice: a.CurrentPrice,
		Timestamp:    now,
		EndAt:        &endAt,
	})
}

// AdvanceLazily applies any overdue transition for one auction on the read
// path, as a fallback for a late tick. The returned snapshot reflects the
// transition when one was applied.
func (s *LifecycleScheduler) AdvanceLazily(ctx context.Context, a *domain.Auction) (*domain.Auction, error) {
	now := time.Now()

	switch {
	case a.Status == domain.AuctionScheduled && !a.StartAt.After(now):
		s.startOne(ctx, a, now)
	case a.Status == domain.AuctionRunning && !a.EndAt.After(now):
		s.endOne(ctx, a, now)
	default:
		return a, nil
	}

	return s.store.GetAuction(ctx, a.ID)
}

func (s *LifecycleScheduler) tickBudget() time.Duration {
	if s.cfg.TickBudget > 0 {
		return s.cfg.TickBudget
	}
	return 2 * time.Second
}

func (s *LifecycleScheduler) publish(ctx context.Context, event domain.AuctionEvent) {
	if err := s.publisher.PublishAuctionEvent(ctx, event); err != nil {
		s.log.Error("Failed to publish lifecycle event",
			"auction_id", event.AuctionID, "type", event.Type, "error", err)
	}
}
