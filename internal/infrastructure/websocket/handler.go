package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"marketplace-backend/internal/api/middleware"
	"marketplace-backend/internal/domain"
	"marketplace-backend/internal/services"
	"marketplace-backend/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// Handler upgrades observers onto an auction's event stream and accepts
// place_bid frames from authenticated connections. One writer goroutine per
// connection pumps the subscription channel, so delivery to a connection is
// FIFO and a stalled peer only stalls itself.
type Handler struct {
	store       domain.AuctionStore
	broadcaster domain.Broadcaster
	processor   *services.BidProcessor
	jwtSecret   string
	log         logger.Logger
}

func NewHandler(
	store domain.AuctionStore,
	broadcaster domain.Broadcaster,
	processor *services.BidProcessor,
	jwtSecret string,
	log logger.Logger,
) *Handler {
	return &Handler{
		store:       store,
		broadcaster: broadcaster,
		processor:   processor,
		jwtSecret:   jwtSecret,
		log:         log,
	}
}

// Router mounts the realtime endpoints on a gorilla mux.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/auctions/{auctionID}", h.HandleConnection)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	return router
}

func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	auctionID := vars["auctionID"]

	auction, err := h.store.GetAuction(r.Context(), auctionID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if auction.Status == domain.AuctionEnded {
		http.Error(w, "auction has already ended", http.StatusForbidden)
		return
	}

	// A token is optional: anonymous connections observe, authenticated ones
	// may also bid.
	var principal *domain.Principal
	if token := r.URL.Query().Get("token"); token != "" {
		p, err := middleware.ParsePrincipal(h.jwtSecret, token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		principal = &p
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	sub, err := h.broadcaster.Subscribe(auctionID)
	if err != nil {
		h.log.Error("Failed to subscribe", "auction_id", auctionID, "error", err)
		conn.Close()
		return
	}

	h.log.Info("Realtime connection opened",
		"auction_id", auctionID, "sub_id", sub.ID,
		"authenticated", principal != nil)

	wc := &wsConn{conn: conn}
	go h.writeLoop(wc, sub)
	go h.readLoop(wc, sub, auctionID, principal)
}

// wsConn serializes writes. The event pump and the read loop's replies share
// one socket, and gorilla permits a single concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(messageType, data, deadline)
}

func (w *wsConn) ReadJSON(v interface{}) error {
	return w.conn.ReadJSON(v)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// writeLoop pumps the subscription into the socket until the subscription
// channel closes (auction over, or unsubscribed by the read side).
func (h *Handler) writeLoop(conn *wsConn, sub *domain.Subscription) {
	defer conn.Close()

	for event := range sub.C {
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug("Subscriber write failed, dropping connection",
				"auction_id", sub.AuctionID, "sub_id", sub.ID, "error", err)
			h.broadcaster.Unsubscribe(sub)
			return
		}
	}

	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "auction ended"),
		deadline)
}

func (h *Handler) readLoop(conn *wsConn, sub *domain.Subscription, auctionID string, principal *domain.Principal) {
	defer func() {
		h.broadcaster.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		var msg struct {
			Type   string  `json:"type"`
			Amount float64 `json:"amount"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "ping":
			conn.WriteJSON(map[string]string{"type": "pong"})
		case "place_bid":
			h.handleBid(conn, auctionID, principal, msg.Amount)
		}
	}
}

func (h *Handler) handleBid(conn *wsConn, auctionID string, principal *domain.Principal, amount float64) {
	if principal == nil {
		conn.WriteJSON(map[string]string{
			"type":    "error",
			"message": "authentication required to bid",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _, err := h.processor.PlaceBid(ctx, auctionID, *principal, amount)
	if err == nil {
		// The accepted bid reaches this connection through the broadcast.
		return
	}

	if rej, ok := domain.AsRejection(err); ok {
		conn.WriteJSON(map[string]interface{}{
			"type":        "bid_rejected",
			"reason":      string(rej.Reason),
			"message":     rej.Message,
			"minimum_bid": rej.MinimumBid,
		})
		return
	}

	h.log.Error("Failed to place bid over websocket",
		"auction_id", auctionID, "error", err)
	conn.WriteJSON(map[string]string{
		"type":    "error",
		"message": "failed to place bid",
	})
}
