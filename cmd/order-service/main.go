package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
	"github.com/vasiliy-maslov/storefront/order-service/internal/config"
	"github.com/vasiliy-maslov/storefront/order-service/internal/db"
	"github.com/vasiliy-maslov/storefront/order-service/internal/inventory"
	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
	"github.com/vasiliy-maslov/storefront/order-service/internal/ratelimit"
	"github.com/vasiliy-maslov/storefront/order-service/internal/transport"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App)
	log.Info().Str("env", cfg.App.Env).Str("store_backend", cfg.App.StoreBackend).Msg("Order service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		orderRepo    order.Repository
		productStore inventory.Store
	)
	switch cfg.App.StoreBackend {
	case config.BackendMemory:
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		orderRepo = order.NewMemoryRepository()
		productStore = inventory.NewMemoryStore()
	default:
		if err := db.ApplyMigrations(cfg.Postgres); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		pg, err := db.New(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		orderRepo = order.NewRepository(pg.Pool)
		productStore = inventory.NewPostgresStore(pg.Pool)
	}

	var limiter *ratelimit.Limiter
	if cfg.Redis.URL != "" {
		redisClient, err := db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer redisClient.Close()
		limiter = ratelimit.New(ratelimit.NewRedisCounter(redisClient), "create-order", cfg.RateLimit.OrdersPerWindow, cfg.RateLimit.Window)
	} else {
		log.Warn().Msg("REDIS_URL is not set, order rate limiting disabled")
	}

	pricing := order.PricingRules{
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		ShippingFee:           cfg.Pricing.ShippingFee,
		TaxRate:               cfg.Pricing.TaxRate,
		Coupons:               cfg.Pricing.Coupons,
	}

	router := transport.NewRouter(transport.Deps{
		Orders:   order.NewService(orderRepo, productStore, pricing),
		Products: productStore,
		Verifier: auth.NewTokenVerifier(cfg.Auth.JWTSecret),
		Limiter:  limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
		return
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "order-service").Logger()
}
