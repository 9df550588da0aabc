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

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/fabriz042/Chat-test/internal/config"
	"github.com/fabriz042/Chat-test/internal/logging"
	"github.com/fabriz042/Chat-test/internal/metrics"
	mw "github.com/fabriz042/Chat-test/internal/middleware"
	"github.com/fabriz042/Chat-test/internal/notifications"
	"github.com/fabriz042/Chat-test/internal/pubsub"
	"github.com/fabriz042/Chat-test/internal/relay"
	"github.com/fabriz042/Chat-test/internal/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := logging.Init(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	log := logging.Component("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		closeLog()
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
	closeLog()
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.Component("server")

	// Record store
	records, err := openRecords(ctx, cfg)
	if err != nil {
		return err
	}
	defer records.close()

	// Hub
	registry := ws.NewRegistry(cfg.Channels)
	hub := ws.NewHub(registry, cfg.DefaultChannel)

	// Relay
	broker, err := pubsub.NewBroker(cfg)
	if err != nil {
		return fmt.Errorf("relay broker: %w", err)
	}
	defer broker.Close()
	rel := relay.New(broker, hub, relay.Config{
		Topics:         cfg.RelayTopics,
		DefaultChannel: cfg.DefaultChannel,
		Backoff:        cfg.RelayBackoff,
		MaxRetries:     cfg.RelayMaxRetries,
	})

	// Notifications
	directory, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	orchestrator := notifications.NewOrchestrator(
		notifications.NewRecordStore(records.store, cfg.NotificationTTL),
		directory,
		buildChannels(cfg, hub),
		notifications.Config{
			Workers:         cfg.NotificationWorkers,
			QueueSize:       cfg.NotificationQueueSize,
			DeliveryTimeout: cfg.DeliveryTimeout,
		},
	)

	// HTTP
	limiter := mw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	r := mux.NewRouter()
	r.Use(mw.RequestID, mw.AccessLog, limiter.Middleware("/healthz", "/metrics", "/ws"))
	r.HandleFunc("/healthz", healthzHandler(orchestrator)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	ws.NewHandler(hub, cfg.AllowedOrigins).RegisterRoutes(r)
	notifications.NewHandlers(orchestrator).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mw.CORS(cfg.AllowedOrigins, r),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orchestrator.Run(gctx)
	})

	g.Go(func() error {
		// the hub keeps serving local traffic without the relay
		if err := rel.Run(gctx); err != nil {
			log.Error().Err(err).Msg("relay stopped")
		}
		return nil
	})

	if records.purge != nil {
		g.Go(func() error {
			sweepExpired(gctx, records.purge)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Strs("channels", registry.Channels()).
			Str("relay", cfg.RelayBackend).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		// hijacked websocket connections are not closed by srv.Shutdown
		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func sweepExpired(ctx context.Context, purge func(context.Context) (int64, error)) {
	log := logging.Component("server")
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("expired record sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("expired records swept")
			}
		}
	}
}
