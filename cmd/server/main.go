package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/hashbid/backend/internal/config"
	"github.com/hashbid/backend/internal/database"
	"github.com/hashbid/backend/internal/handlers"
	mW "github.com/hashbid/backend/internal/middleware"
	"github.com/hashbid/backend/internal/queue"
	"github.com/hashbid/backend/internal/realtime"
	"github.com/hashbid/backend/internal/scheduler"
	"github.com/hashbid/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("bidding.global_min_bid", "BIDDING_GLOBAL_MIN_BID")
	viper.BindEnv("bidding.global_max_bid", "BIDDING_GLOBAL_MAX_BID")
	viper.BindEnv("queue.workers", "QUEUE_WORKERS")
	viper.BindEnv("queue.max_attempts", "QUEUE_MAX_ATTEMPTS")
	viper.BindEnv("ratelimit.connections_per_min", "RATELIMIT_CONNECTIONS_PER_MIN")
	viper.BindEnv("ratelimit.bids_per_min", "RATELIMIT_BIDS_PER_MIN")
	viper.BindEnv("scheduler.tick_every", "SCHEDULER_TICK_EVERY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	biddingCfg := config.GetBiddingConfig()
	queueCfg := config.GetQueueConfig()
	rateCfg := config.GetRateLimitConfig()
	schedCfg := config.GetSchedulerConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	auctionStore := services.NewAuctionService(db)
	ledger := services.NewHashLedgerService(db)
	statusCache := services.NewStatusCache(auctionStore, redisClient, schedCfg.StatusCacheTTL)

	hub := realtime.NewHub()

	jobStore := queue.NewPostgresStore(db)
	bidService := services.NewBidService(auctionStore, ledger, jobStore, hub, biddingCfg, queueCfg)
	pool := queue.NewPool(jobStore, bidService.ProcessJob, queueCfg)

	lifecycle := scheduler.New(auctionStore, bidService, hub, schedCfg)

	var limiter realtime.RateLimiter
	if redisClient != nil {
		limiter = realtime.NewRedisRateLimiter(redisClient, rateCfg.Window)
	} else {
		limiter = realtime.NewMemoryRateLimiter(rateCfg.Window)
	}
	security := realtime.NewSecurityLogger(rateCfg.LogSecurityEvents)

	router := realtime.NewRouter()
	sessions := realtime.NewSessionHandlers(hub, bidService, statusCache, limiter, security, rateCfg)
	sessions.Register(router)
	gateway := realtime.NewGateway(hub, router, limiter, security, rateCfg.ConnectionsPerMin)

	auctionHandler := handlers.NewAuctionHandler(auctionStore, statusCache, ledger)
	queueHandler := handlers.NewQueueHandler(pool)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(rootCtx)
	if err := lifecycle.Start(rootCtx); err != nil {
		log.Fatalf("Failed to start lifecycle scheduler: %v", err)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health, err := pool.Health(r.Context())
		status := map[string]any{"status": "healthy"}
		if err != nil || !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			status["status"] = "degraded"
			if health != nil {
				status["issues"] = health.Issues
			}
		}
		json.NewEncoder(w).Encode(status)
	})

	// Realtime gateway
	r.Get("/ws", gateway.ServeWS)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/auctions", auctionHandler.ListAuctions)
		r.Get("/auctions/{auctionId}", auctionHandler.GetAuction)
		r.Get("/auctions/{auctionId}/bids", auctionHandler.ListBids)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/auctions", auctionHandler.CreateAuction)
			r.Post("/auctions/{auctionId}/whitelist", auctionHandler.JoinWhitelist)

			r.Get("/accounts/balance-enquiry", auctionHandler.BalanceEnquiry)
			r.Post("/accounts/deposit", auctionHandler.Deposit)

			// Queue administration
			r.Get("/queue/metrics", queueHandler.GetMetrics)
			r.Get("/queue/health", queueHandler.GetHealth)
			r.Get("/queue/jobs/{jobId}", queueHandler.GetJob)
			r.Post("/queue/jobs/{jobId}/retry", queueHandler.RetryJob)
			r.Delete("/queue/jobs/{jobId}", queueHandler.RemoveJob)
			r.Post("/queue/cleanup", queueHandler.Cleanup)
			r.Post("/queue/pause", queueHandler.Pause)
			r.Post("/queue/resume", queueHandler.Resume)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	lifecycle.Stop()
	pool.Stop()
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
