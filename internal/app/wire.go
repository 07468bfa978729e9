package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/mintforge/dropmarket/internal/blob/s3"
	"github.com/mintforge/dropmarket/internal/cache/redis"
	"github.com/mintforge/dropmarket/internal/config"
	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/engine"
	"github.com/mintforge/dropmarket/internal/notify"
	"github.com/mintforge/dropmarket/internal/service"
	"github.com/mintforge/dropmarket/internal/settle"
	"github.com/mintforge/dropmarket/internal/store/postgres"
)

// activePhaseTTL bounds how stale the cached active-phase snapshot can get.
// Quotes read through the cache; purchases always re-read the store.
const activePhaseTTL = 5 * time.Second

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PhaseStore   domain.PhaseStore
	ItemStore    domain.ItemStore
	ListingStore domain.ListingStore
	OfferStore   domain.OfferStore
	AuditStore   domain.AuditStore

	// Caches and coordination
	PhaseCache  domain.PhaseCache
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Settlement
	Settler domain.Settler

	// Notifications
	Notifier *notify.Notifier

	// Engines
	PhaseEngine *engine.PhaseEngine

	// Services
	Phases   *service.PhaseService
	Sales    *service.SaleService
	Catalog  *service.CatalogService
	Listings *service.ListingService
	Offers   *service.OfferService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PhaseStore = postgres.NewPhaseStore(pool)
	deps.ItemStore = postgres.NewItemStore(pool)
	deps.ListingStore = postgres.NewListingStore(pool)
	deps.OfferStore = postgres.NewOfferStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PhaseCache = redis.NewPhaseCache(redisClient, activePhaseTTL)
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (archival only) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.OfferStore,
			deps.PhaseStore,
			deps.AuditStore,
			cfg.Archive.Prefix,
		)
	}

	// --- Settlement ---
	if cfg.Settlement.Enabled {
		deps.Settler = settle.NewClient(cfg.Settlement.URL, cfg.Settlement.Token, logger)
	} else {
		deps.Settler = settle.Noop{}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engines and services ---
	clock := domain.SystemClock()

	// A previously recorded rate change wins over the configured default,
	// so a restarted process prices the same as its siblings.
	increasePercent := cfg.Schedule.IncreasePercent
	if v, err := deps.PhaseStore.IncreasePercent(ctx); err == nil {
		increasePercent = v
	} else if !errors.Is(err, domain.ErrNotFound) {
		cleanup()
		return nil, nil, fmt.Errorf("app: load increase percent: %w", err)
	}
	phaseEngine := engine.NewPhaseEngine(clock, increasePercent)
	deps.PhaseEngine = phaseEngine
	offerEngine := engine.NewOfferEngine(clock)

	deps.Phases = service.NewPhaseService(
		deps.PhaseStore, deps.ItemStore, deps.PhaseCache, deps.PriceCache,
		phaseEngine, deps.SignalBus, deps.AuditStore, deps.Notifier,
		clock, logger,
	)
	deps.Sales = service.NewSaleService(
		deps.ItemStore, deps.PhaseStore, deps.PhaseCache, deps.PriceCache,
		phaseEngine, deps.Settler, deps.SignalBus, deps.AuditStore,
		deps.Notifier, clock, logger,
	)
	deps.Catalog = service.NewCatalogService(deps.ItemStore, deps.PriceCache, clock, logger)
	deps.Listings = service.NewListingService(
		deps.ListingStore, deps.ItemStore, deps.SignalBus, deps.AuditStore,
		deps.Notifier, clock, logger,
	)
	deps.Offers = service.NewOfferService(
		deps.OfferStore, deps.ListingStore, offerEngine, deps.RateLimiter,
		deps.LockManager, deps.Settler, deps.SignalBus, deps.AuditStore,
		deps.Notifier, clock, logger,
		cfg.Offers.TTL.Duration, cfg.Offers.ProposePerMinute,
	)

	return deps, cleanup, nil
}
