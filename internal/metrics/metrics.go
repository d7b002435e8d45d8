package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_bids_accepted_total",
		Help: "Bids committed to the store.",
	})

	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_bids_rejected_total",
		Help: "Bids refused by validation, by reason.",
	}, []string{"reason"})

	BidCommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_bid_commit_conflicts_total",
		Help: "Optimistic commit attempts that lost the race and were retried.",
	})

	AuctionsExtended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_auctions_extended_total",
		Help: "Anti-snipe end time extensions applied.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_broadcast_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})
)
