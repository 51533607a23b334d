package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fraruiz/pgmb/internal/application/broker"
	"github.com/fraruiz/pgmb/internal/config"
	"github.com/fraruiz/pgmb/internal/infrastructure/db/memory"
	"github.com/fraruiz/pgmb/internal/infrastructure/db/postgres"
	"github.com/fraruiz/pgmb/internal/infrastructure/messaging/rabbitmq"
	"github.com/fraruiz/pgmb/internal/infrastructure/webhook"
	"github.com/fraruiz/pgmb/internal/logger"
	"github.com/fraruiz/pgmb/internal/transport/http/handlers"
	mw "github.com/fraruiz/pgmb/internal/transport/http/middleware"
	"github.com/fraruiz/pgmb/internal/transport/http/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "pgmb").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Store ----
	var store broker.Store
	switch cfg.StoreBackend {
	case config.StoreMemory:
		store = memory.New()
		log.Warn().Msg("memory store selected; state will not survive a restart")
	default:
		db, err := sql.Open("pgx", cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open failed")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}

		pg := postgres.New(db)
		if err := pg.EnsureSchema(rootCtx); err != nil {
			log.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		store = pg
		log.Info().Msg("postgres connected")
	}

	// ---- Engine ----
	client := webhook.New(cfg.DeliveryTimeout)
	svc := broker.New(store, client, broker.SystemClock{}, broker.Options{
		TickInterval: cfg.TickInterval,
		LeaseTimeout: cfg.LeaseTimeout,
	})
	if err := svc.Run(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("dispatch loops failed to start")
	}
	defer svc.Shutdown()

	// ---- AMQP ingress (optional) ----
	if cfg.AMQPURL != "" {
		ingress := rabbitmq.NewIngress(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, svc)
		if err := ingress.Start(rootCtx); err != nil {
			log.Warn().Err(err).Msg("amqp ingress failed to start (continuing without it)")
		}
	}

	// ---- HTTP ----
	var auth *mw.AuthMiddleware
	if cfg.AdminJWTSecret != "" {
		auth = mw.NewAuth(cfg.AdminJWTSecret, cfg.AdminJWTIssuer)
	} else if cfg.AppEnv != "dev" {
		log.Warn().Msg("ADMIN_JWT_SECRET unset; broker API is unauthenticated")
	}

	httpHandler := router.New(handlers.NewBrokerHandler(svc), handlers.NewHealthHandler(), auth, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
