package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"marketplace-backend/internal/api/middleware"
	"marketplace-backend/internal/domain"
	"marketplace-backend/internal/services"
	"marketplace-backend/pkg/logger"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type AuctionHandler struct {
	auctions  *services.AuctionService
	processor *services.BidProcessor
	log       logger.Logger
}

func NewAuctionHandler(auctions *services.AuctionService, processor *services.BidProcessor, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions:  auctions,
		processor: processor,
		log:       log,
	}
}

type CreateAuctionRequest struct {
	ProductID    string    `json:"product_id"`
	StartPrice   float64   `json:"start_price"`
	MinIncrement float64   `json:"min_increment"`
	StartAt      time.Time `json:"start_at"`
	EndAt        time.Time `json:"end_at"`
}

type PlaceBidRequest struct {
	Amount float64 `json:"amount"`
}

type AuctionWithBids struct {
	*domain.Auction
	Bids []*domain.Bid `json:"bids"`
}

func (h *AuctionHandler) Register(g *echo.Group, jwtSecret string) {
	g.GET("/auctions", h.ListAuctions)
	g.GET("/auctions/:id", h.GetAuction)
	g.GET("/auctions/:id/pulse", h.GetAuction)
	g.POST("/auctions", h.CreateAuction, middleware.RequireAuth(jwtSecret))
	g.POST("/auctions/:id/bids", h.PlaceBid, middleware.RequireAuth(jwtSecret))
}

func (h *AuctionHandler) ListAuctions(c echo.Context) error {
	status := domain.AuctionStatus(c.QueryParam("status"))
	switch status {
	case "", domain.AuctionScheduled, domain.AuctionRunning, domain.AuctionEnded:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown status"})
	}

	page := intQueryParam(c, "page", 1)
	pageSize := intQueryParam(c, "page_size", defaultPageSize)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	auctions, err := h.auctions.ListAuctions(c.Request().Context(), status, page, pageSize)
	if err != nil {
		h.log.Error("Failed to list auctions", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list auctions"})
	}
	if auctions == nil {
		auctions = []*domain.Auction{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"auctions":  auctions,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetAuction returns the auction with its bid history, oldest bid first.
func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auction, bids, err := h.auctions.GetAuctionWithBids(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "auction not found"})
	}
	if err != nil {
		h.log.Error("Failed to load auction", "auction_id", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load auction"})
	}
	if bids == nil {
		bids = []*domain.Bid{}
	}

	return c.JSON(http.StatusOK, AuctionWithBids{Auction: auction, Bids: bids})
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	auction, err := h.auctions.CreateAuction(c.Request().Context(), principal, services.CreateAuctionInput{
		ProductID:    req.ProductID,
		StartPrice:   req.StartPrice,
		MinIncrement: req.MinIncrement,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "product not found"})
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": "product is not available for auction"})
	case err != nil:
		h.log.Error("Failed to create auction", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, auction)
}

// PlaceBid submits one bid. Rejections come back 400 with a machine-readable
// reason; a lost optimistic race that exhausted its retries comes back 409.
func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	bid, auction, err := h.processor.PlaceBid(c.Request().Context(), c.Param("id"), principal, req.Amount)
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			resp := map[string]interface{}{
				"error":   string(rej.Reason),
				"message": rej.Message,
			}
			if rej.Reason == domain.RejectBelowMinimum {
				resp["minimum_bid"] = rej.MinimumBid
			}
			return c.JSON(http.StatusBadRequest, resp)
		}

		switch {
		case errors.Is(err, domain.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "auction not found"})
		case errors.Is(err, domain.ErrBusy):
			return c.JSON(http.StatusConflict, map[string]string{
				"error":   "busy",
				"message": "auction is receiving heavy bidding, retry",
			})
		default:
			h.log.Error("Failed to place bid", "auction_id", c.Param("id"), "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error":   "store_unavailable",
				"message": "temporary failure, retry",
			})
		}
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"bid":           bid,
		"current_price": auction.CurrentPrice,
		"end_at":        auction.EndAt,
	})
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
