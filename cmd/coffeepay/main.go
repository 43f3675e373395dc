package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"coffeepay/internal/config"
	"coffeepay/internal/database"
	"coffeepay/internal/handler"
	"coffeepay/internal/reconcile"
	"coffeepay/internal/scenario"
	"coffeepay/internal/service"
	"coffeepay/internal/validation"
	"coffeepay/internal/worker"
)

func main() {
	cfg := config.New()

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	var heartbeatCache *redis.Client
	if cfg.RedisAddr != "" {
		heartbeatCache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	// Stores and clients
	orderStore := service.NewOrderStore(db)
	deviceStore := service.NewDeviceStore(db)
	tmetr := service.NewTmetrClient(cfg.TmetrHost, cfg.TmetrToken, cfg.ProviderTimeout, heartbeatCache)

	// Engine
	chain := validation.NewChain(orderStore, tmetr, cfg.DeviceOnlineThreshold)
	dispatcher := scenario.NewDispatcher(deviceStore, deviceStore, orderStore,
		scenario.DefaultFactories(cfg.ProviderTimeout),
		cfg.BaseURL, cfg.ProviderTimeout, cfg.FastTrackInterval)
	reconciler := reconcile.NewReconciler(orderStore, dispatcher, tmetr, reconcile.Policy{
		FastTrackLimit:    cfg.FastTrackLimit,
		FastTrackInterval: cfg.FastTrackInterval,
		SlowTrackInterval: cfg.SlowTrackInterval,
		AttemptsLimit:     cfg.PaymentAttemptsLimit,
		ProviderTimeout:   cfg.ProviderTimeout,
	})

	// Worker
	checker := worker.NewPaymentChecker(orderStore, reconciler, cfg.CheckInterval, cfg.CheckBatchSize, cfg.WorkerConcurrency)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/v1/pay", handler.PayHandler(deviceStore, orderStore, chain, dispatcher, tmetr, cfg.OrderTTL))
	r.Post("/v1/pay-webhook", handler.WebhookHandler(orderStore, deviceStore, reconciler))
	r.Get("/v1/order-status/{orderID}", handler.OrderStatusHandler(orderStore))
	r.Get("/v1/order-status-page", handler.OrderStatusHandler(orderStore))

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go checker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop worker
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
