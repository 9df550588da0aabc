package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabriz042/Chat-test/internal/config"
	"github.com/fabriz042/Chat-test/internal/db"
	"github.com/fabriz042/Chat-test/internal/httputil"
	"github.com/fabriz042/Chat-test/internal/identity"
	"github.com/fabriz042/Chat-test/internal/kvstore"
	"github.com/fabriz042/Chat-test/internal/logging"
	"github.com/fabriz042/Chat-test/internal/notifications/channels"
	"github.com/fabriz042/Chat-test/internal/ws"
)

// recordBackend is the key/value store behind the notification records.
// purge is nil when the backend expires keys on its own.
type recordBackend struct {
	store kvstore.Store
	purge func(context.Context) (int64, error)
	close func()
}

func openRecords(ctx context.Context, cfg *config.Config) (*recordBackend, error) {
	log := logging.Component("server")

	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := kvstore.NewRedisStore(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis record store: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis record store")
		return &recordBackend{store: store, close: func() { store.Close() }}, nil

	case "postgres":
		database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres record store: %w", err)
		}
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		store := kvstore.NewPostgresStore(database.Pool)
		log.Info().Msg("using postgres record store")
		return &recordBackend{store: store, purge: store.PurgeExpired, close: database.Close}, nil

	default:
		store := kvstore.NewMemoryStore()
		log.Warn().Msg("using in-memory record store, notifications are lost on restart")
		return &recordBackend{
			store: store,
			purge: func(context.Context) (int64, error) { return int64(store.Sweep()), nil },
			close: func() {},
		}, nil
	}
}

func openDirectory(cfg *config.Config) (identity.Directory, error) {
	log := logging.Component("server")

	switch {
	case cfg.IdentityURL != "":
		log.Info().Str("url", cfg.IdentityURL).Msg("resolving recipients through the user service")
		return identity.NewHTTPDirectory(cfg.IdentityURL, cfg.DeliveryTimeout), nil
	case cfg.UsersFile != "":
		dir, err := identity.LoadStaticDirectory(cfg.UsersFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", cfg.UsersFile).Msg("resolving recipients from static user file")
		return dir, nil
	default:
		log.Warn().Msg("no user directory configured, email and sms deliveries will fail")
		return identity.NewStaticDirectory(nil), nil
	}
}

// buildChannels returns the delivery channels. Socket delivery goes through
// the in-process hub unless HUB_URL points at a separate hub.
func buildChannels(cfg *config.Config, hub *ws.Hub) []channels.Channel {
	log := logging.Component("server")

	var pusher channels.Pusher = channels.NewHubPusher(hub)
	if cfg.HubURL != "" {
		pusher = channels.NewHTTPPusher(cfg.HubURL)
	}
	out := []channels.Channel{
		channels.NewSocketChannel(pusher),
		channels.NewSMSChannel(cfg.SMSLatency),
	}

	email, err := channels.NewEmailChannel(channels.EmailConfig{
		Provider:    cfg.EmailProvider,
		ServiceURL:  cfg.EmailServiceURL,
		SMTPHost:    cfg.SMTPHost,
		SMTPPort:    cfg.SMTPPort,
		SMTPUser:    cfg.SMTPUser,
		SMTPPass:    cfg.SMTPPass,
		SendGridKey: cfg.SendGridKey,
		FromAddress: cfg.EmailFrom,
		FromName:    cfg.EmailFromName,
	})
	if err != nil {
		log.Warn().Err(err).Msg("email channel disabled")
		return out
	}
	return append(out, email)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthzHandler answers liveness probes. ?deep=1 also pings the record store.
func healthzHandler(p pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("deep") != "" {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
