package api

import (
	"context"
	"log"
	"os"
	"strings"

	"ordersync/internal/auth"
	"ordersync/internal/config"
	"ordersync/internal/courier"
	"ordersync/internal/mapping"
	"ordersync/internal/notify"
	"ordersync/internal/store"
	syncengine "ordersync/internal/sync"
)

type Server struct {
	Store      store.Store
	Courier    courier.API
	Dispatcher *syncengine.Dispatcher
	Scheduler  *syncengine.Scheduler
	Notifier   *notify.Dispatcher
	Mappings   *mapping.Provider
	Auth       *auth.Verifier
	Broker     EventBroker
	Cfg        *config.Config
}

// NewServer wires the service. If DATABASE_URL is unset, uses the in-memory
// store; if REDIS_URL is set, events fan out over Redis.
func NewServer() (*Server, error) {
	cfg := config.Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.FromEnv()

	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}

	// Broker selection
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	// Mapping table: compiled-in defaults overridden by store rows.
	rows := mapping.Defaults()
	if stored, err := s.LoadStatusMappings(context.Background()); err == nil && len(stored) > 0 {
		rows = append(rows, stored...)
	}
	mappings := mapping.NewProvider(rows)

	var courierAPI courier.API
	if cfg.Courier.BaseURL != "" {
		courierAPI = courier.NewClient(courier.Options{
			BaseURL:   cfg.Courier.BaseURL,
			APIKey:    cfg.Courier.APIKey,
			APISecret: cfg.Courier.APISecret,
			Timeout:   cfg.Courier.Timeout.Std(),
			RateLimit: cfg.Courier.RateLimit,
			Burst:     cfg.Courier.Burst,
			BatchMax:  cfg.Courier.BatchMax,
		})
	} else {
		log.Printf("courier: no base URL configured, dispatch and reconciliation disabled")
	}

	channels := []notify.Channel{}
	if cfg.Notify.PushURL != "" {
		channels = append(channels, notify.NewWebhookChannel("push", cfg.Notify.PushURL, cfg.Notify.PushSecret))
	}
	if cfg.Notify.SupportURL != "" {
		channels = append(channels, notify.NewSupportChannel(cfg.Notify.SupportURL))
	}
	notifier := notify.NewDispatcher(s, broker, channels...)

	dispatcher := syncengine.NewDispatcher(s, courierAPI)
	reconciler := syncengine.NewReconciler(s, courierAPI, mappings, notifier)
	reconciler.Deadline = cfg.Sync.CycleDeadline.Std()
	scheduler := syncengine.NewScheduler(reconciler, dispatcher)
	scheduler.Interval = cfg.Sync.Interval.Std()
	scheduler.RetryInterval = cfg.Sync.RetryInterval.Std()
	scheduler.RetryAfter = cfg.Sync.RetryAfter.Std()
	scheduler.MaxDispatchAttempts = cfg.Sync.MaxDispatchAttempts

	return &Server{
		Store:      s,
		Courier:    courierAPI,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Notifier:   notifier,
		Mappings:   mappings,
		Auth:       auth.NewVerifierFromEnv(),
		Broker:     broker,
		Cfg:        cfg,
	}, nil
}
