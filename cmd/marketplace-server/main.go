package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-backend/internal/broadcast"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/domain"
	"marketplace-backend/internal/infrastructure/leader"
	redisinfra "marketplace-backend/internal/infrastructure/redis"
	"marketplace-backend/internal/infrastructure/relay"
	ws "marketplace-backend/internal/infrastructure/websocket"
	"marketplace-backend/internal/services"
	"marketplace-backend/internal/store/memory"
	"marketplace-backend/internal/store/mysql"
	"marketplace-backend/pkg/logger"

	"marketplace-backend/internal/api/handlers"
)

type backend struct {
	store     domain.AuctionStore
	catalog   domain.ProductCatalog
	publisher domain.EventPublisher
	relay     domain.EventSubscriber
	election  domain.LeaderElection
	shutdown  func()
}

func main() {
	log := logger.New()
	log.Info("Starting marketplace server")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	be, err := buildBackend(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	defer be.shutdown()

	// Core services.
	validator := services.NewBidValidator()
	lifecycle := services.NewLifecycleScheduler(
		be.store, be.publisher, be.election, cfg.Instance.ID, cfg.Auction, log)
	processor := services.NewBidProcessor(
		be.store, validator, lifecycle, be.publisher, cfg.Auction, log)
	auctionService := services.NewAuctionService(be.store, be.catalog, lifecycle, log)

	broadcaster := broadcast.NewBroadcaster(cfg.Auction.SubscriberBuffer, log)
	listener := services.NewEventListener(broadcaster, log)

	// HTTP API.
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET, echo.HEAD, echo.PUT, echo.PATCH,
			echo.POST, echo.DELETE, echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
		},
	}))

	auctionHandler := handlers.NewAuctionHandler(auctionService, processor, log)
	auctionHandler.Register(e.Group("/api/v1"), cfg.Auth.JWTSecret)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "marketplace-server",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Realtime server on its own listener.
	wsHandler := ws.NewHandler(be.store, broadcaster, processor, cfg.Auth.JWTSecret, log)
	realtimeServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Realtime.Port),
		Handler: wsHandler.Router(),
	}

	// Background services.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if err := lifecycle.Start(bgCtx); err != nil {
		log.Error("Failed to start lifecycle scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := listener.Start(bgCtx, be.relay); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Event listener stopped", "error", err)
		}
	}()

	go func() {
		for {
			became, err := be.election.BecomeLeader(bgCtx, cfg.Instance.ID)
			if err != nil {
				log.Error("Failed to attempt leadership", "error", err)
			} else if became {
				log.Info("Became lifecycle leader", "instance_id", cfg.Instance.ID)
			}

			select {
			case <-bgCtx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}()

	go func() {
		serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info("Starting HTTP API", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server failed", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		log.Info("Starting realtime server", "address", realtimeServer.Addr)
		if err := realtimeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Realtime server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down marketplace server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	bgCancel()
	if err := lifecycle.Stop(); err != nil {
		log.Error("Failed to stop lifecycle scheduler", "error", err)
	}
	if err := be.election.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	if err := realtimeServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Realtime server forced to shutdown", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("API server forced to shutdown", "error", err)
	}

	log.Info("Marketplace server stopped")
}

// buildBackend wires the storage driver and its matching relay and leader
// election: MySQL+Redis for real deployments, in-process everything for the
// memory driver.
func buildBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (*backend, error) {
	if cfg.Storage.Driver == "memory" {
		log.Info("Using in-memory storage driver")
		store := memory.NewStore()
		localRelay := relay.NewLocalRelay(log)
		return &backend{
			store:     store,
			catalog:   store,
			publisher: localRelay,
			relay:     localRelay,
			election:  leader.NewStaticLeader(),
			shutdown:  func() {},
		}, nil
	}

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	db, err := mysql.Open(ctx, cfg.MySQL)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	log.Info("Connected to MySQL")

	store := mysql.NewStore(db)
	eventRelay := redisinfra.NewEventRelay(rdb, log)

	return &backend{
		store:     store,
		catalog:   store,
		publisher: eventRelay,
		relay:     eventRelay,
		election:  leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL),
		shutdown: func() {
			if err := db.Close(); err != nil {
				log.Error("Failed to close MySQL connection", "error", err)
			}
			if err := rdb.Close(); err != nil {
				log.Error("Failed to close Redis connection", "error", err)
			}
		},
	}, nil
}
