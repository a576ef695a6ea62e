package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"library-backend/config"
	"library-backend/internal/api"
	"library-backend/internal/availability"
	"library-backend/internal/db"
	"library-backend/internal/ledger"
	"library-backend/internal/loan"
	"library-backend/internal/lock"
	"library-backend/internal/ratelimit"
	"library-backend/internal/reservation"
	"library-backend/internal/sweeper"
)

func main() {
	logger := log.New(os.Stdout, "libraryd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire the engine: ledger at the bottom, cache invalidation hooked in,
	// queue and loan services on top.
	titleLocks := lock.NewKeyedMutex()
	copyLedger := ledger.New(gormDB, titleLocks)
	availCache := availability.New(copyLedger, cfg.Cache.TTL())
	copyLedger.SetInvalidator(availCache)

	queue := reservation.NewManager(gormDB, copyLedger, cfg.Reservation.HoldTTL())
	loans := loan.NewService(gormDB, copyLedger, queue, loan.Config{
		Period:          cfg.Loan.Period(),
		MaxRenewals:     cfg.Loan.Renewals(),
		MaxActiveLoans:  cfg.Loan.MaxActiveLoans,
		FinePerDayCents: cfg.Loan.FinePerDayCents,
	})
	limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window())

	if cfg.Sweeper.Enabled {
		sweepSvc := sweeper.NewService(&cfg.Sweeper, queue)
		go sweepSvc.Run(ctx)
	}

	handler := api.NewHandler(gormDB, loans, queue, availCache)
	router := api.NewRouter(cfg, handler, limiter)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
