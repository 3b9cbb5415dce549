package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/Samuel1505/quest-marketplace/internal/auth"
	"github.com/Samuel1505/quest-marketplace/internal/database"
	"github.com/Samuel1505/quest-marketplace/internal/history"
	"github.com/Samuel1505/quest-marketplace/internal/marketplace"
	"github.com/Samuel1505/quest-marketplace/internal/notify"
	"github.com/Samuel1505/quest-marketplace/internal/registry"
	"github.com/Samuel1505/quest-marketplace/internal/token"
	"github.com/Samuel1505/quest-marketplace/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Load .env if present; real environment wins over file values
	_ = godotenv.Load()

	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the marketplace API server with graceful shutdown
// support. It sets up all required services, database connections, and API routes
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(middleware.JWTSecret())
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Custodial ledgers standing in for the external token and asset services
	ledger := token.NewLedger(db)
	tokenHandlers := token.NewGinHandlers(ledger)

	assets := registry.NewStore(db)
	registryHandlers := registry.NewGinHandlers(assets)

	// Event dispatcher with optional webhook fan-out
	sinks := []notify.Sink{notify.LogSink{}}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		sinks = append(sinks, notify.NewWebhookSink(url))
	}
	dispatcher := notify.NewDispatcher(sinks...)

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	go dispatcher.Start(dispatcherCtx)

	marketplaceService := marketplace.NewService(db, ledger, assets, dispatcher)
	marketplaceHandlers := marketplace.NewGinHandlers(marketplaceService)

	historyHandlers := history.NewGinHandlers(marketplaceService.History())

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, marketplaceHandlers, historyHandlers, tokenHandlers, registryHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Listing/offer routes: Protected by JWT authentication
// - Query routes: Public read-only market data
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	marketplaceHandlers *marketplace.GinHandlers,
	historyHandlers *history.GinHandlers,
	tokenHandlers *token.GinHandlers,
	registryHandlers *registry.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Listing routes
		listings := v1.Group("/listings")
		listings.Use(middleware.JWTAuth())
		{
			listings.POST("", marketplaceHandlers.CreateListingHandler())
			listings.GET("", marketplaceHandlers.GetActiveListingsHandler())
			listings.GET("/:listing_id", marketplaceHandlers.GetListingHandler())
			listings.POST("/:listing_id/buy", marketplaceHandlers.BuyHandler())
			listings.POST("/:listing_id/cancel", marketplaceHandlers.CancelListingHandler())
			listings.GET("/:listing_id/offers", marketplaceHandlers.GetOffersByListingHandler())
		}

		// Offer routes
		offers := v1.Group("/offers")
		offers.Use(middleware.JWTAuth())
		{
			offers.POST("", marketplaceHandlers.CreateOfferHandler())
			offers.GET("/:offer_id", marketplaceHandlers.GetOfferHandler())
			offers.POST("/:offer_id/accept", marketplaceHandlers.AcceptOfferHandler())
			offers.POST("/:offer_id/reject", marketplaceHandlers.RejectOfferHandler())
			offers.POST("/:offer_id/cancel", marketplaceHandlers.CancelOfferHandler())
			offers.GET("/:offer_id/counters", marketplaceHandlers.GetCounterOffersByOfferHandler())
		}

		// Counter-offer routes
		counters := v1.Group("/counter-offers")
		counters.Use(middleware.JWTAuth())
		{
			counters.POST("", marketplaceHandlers.CreateCounterOfferHandler())
			counters.GET("/:counter_offer_id", marketplaceHandlers.GetCounterOfferHandler())
			counters.POST("/:counter_offer_id/accept", marketplaceHandlers.AcceptCounterOfferHandler())
		}

		// Market config routes; updates require the admin principal
		market := v1.Group("/market")
		{
			market.GET("/config", marketplaceHandlers.GetConfigHandler())
			market.PUT("/config", middleware.JWTAuth(), marketplaceHandlers.UpdateConfigHandler())
		}

		sellers := v1.Group("/sellers")
		{
			sellers.GET("/:seller/listings", marketplaceHandlers.GetListingsBySellerHandler())
		}

		assets := v1.Group("/assets")
		{
			assets.GET("/:registry_ref/:asset_id/listings", marketplaceHandlers.GetListingsByAssetHandler())
			assets.GET("/:registry_ref/:asset_id/owner", registryHandlers.GetOwnerHandler())
			assets.GET("/:registry_ref/:asset_id/prices", historyHandlers.GetPriceHistoryHandler())
			assets.GET("/:registry_ref/:asset_id/prices/stats", historyHandlers.GetPriceStatsHandler())
			assets.GET("/:registry_ref/:asset_id/prices/average", historyHandlers.GetAveragePriceHandler())
			assets.GET("/:registry_ref/:asset_id/prices/min", historyHandlers.GetMinPriceHandler())
			assets.GET("/:registry_ref/:asset_id/prices/max", historyHandlers.GetMaxPriceHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/initialize", marketplaceHandlers.InitializeHandler())
			internal.POST("/custody/mint", tokenHandlers.MintHandler())
			internal.GET("/custody/balances/:token/:account", tokenHandlers.GetBalanceHandler())
			internal.POST("/custody/assets", registryHandlers.RegisterAssetHandler())
		}
	}
}
