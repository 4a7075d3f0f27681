package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/arzfeed/arzfeed/internal/blob/s3"
	"github.com/arzfeed/arzfeed/internal/cache"
	rediscache "github.com/arzfeed/arzfeed/internal/cache/redis"
	"github.com/arzfeed/arzfeed/internal/config"
	"github.com/arzfeed/arzfeed/internal/domain"
	"github.com/arzfeed/arzfeed/internal/ohlc"
	"github.com/arzfeed/arzfeed/internal/orchestrator"
	"github.com/arzfeed/arzfeed/internal/store/postgres"
	"github.com/arzfeed/arzfeed/internal/tracker"
	"github.com/arzfeed/arzfeed/internal/upstream"
	"github.com/arzfeed/arzfeed/internal/upstream/navasan"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	OHLCStore     domain.OHLCStore
	UpdateLogs    domain.UpdateLogStore
	SnapshotStore domain.SnapshotStore

	// Caches
	TierCache domain.TierCache

	// Fetch path
	Orchestrator *orchestrator.Orchestrator
	Engine       *ohlc.Engine
	Manager      *cache.Manager

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Location is the serving locale's timezone, shared by the scheduler
	// and the OHLC engine.
	Location *time.Location
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled || cfg.Mode == "archive"
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

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: load timezone: %w", err)
	}
	deps.Location = loc

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
	ohlcStore := postgres.NewOHLCStore(pool)
	updateLogs := postgres.NewUpdateLogStore(pool)
	deps.OHLCStore = ohlcStore
	deps.UpdateLogs = updateLogs
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)

	// --- Redis ---
	redisClient, err := rediscache.New(ctx, rediscache.ClientConfig{
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

	deps.TierCache = rediscache.NewTierCache(redisClient)

	// --- Upstream fetch path ---
	fetchClient := upstream.NewClient(upstream.Options{
		TokenInterval:  time.Duration(cfg.Upstream.TokenIntervalMs) * time.Millisecond,
		CoalesceTTL:    time.Duration(cfg.Upstream.CoalesceTTLMs) * time.Millisecond,
		MaxRetries:     cfg.Upstream.MaxRetries,
		RequestTimeout: time.Duration(cfg.Upstream.RequestTimeout) * time.Second,
	}, logger)

	errTracker := tracker.New(
		time.Duration(cfg.Tracker.WindowSecs)*time.Second,
		cfg.Tracker.Threshold,
		logger,
	)

	orch := orchestrator.New(orchestrator.Options{
		MaxFallbackAttempts: cfg.Providers.MaxFallbackAttempts,
		BreakerThreshold:    cfg.Providers.BreakerThreshold,
		BreakerResetTimeout: time.Duration(cfg.Providers.BreakerResetSecs) * time.Second,
		ParallelTimeout:     time.Duration(cfg.Providers.ParallelTimeoutSecs) * time.Second,
	}, logger)
	deps.Orchestrator = orch

	if cfg.Providers.Navasan.Enabled {
		nv := cfg.Providers.Navasan
		provider := navasan.New(nv.BaseURL, nv.APIKey, nv.UnitMultipliers, fetchClient, errTracker)
		orch.Register(provider, domain.ProviderRegistration{
			Name:         provider.Name(),
			Priority:     nv.Priority,
			Capabilities: capabilitySet(nv.Capabilities),
			Enabled:      true,
		})
	}

	// --- OHLC engine ---
	deps.Engine = ohlc.New(ohlcStore, updateLogs, loc, cfg.OHLC.RingSize, logger)

	// --- Tiered cache manager ---
	deps.Manager = cache.NewManager(
		deps.TierCache,
		deps.SnapshotStore,
		orch,
		deps.Engine,
		deps.Engine,
		navasan.RenderLocal(loc),
		cache.Options{
			FreshTTL:      cfg.Cache.FreshTTL(),
			StaleTTL:      cfg.Cache.StaleTTL(),
			MergeStrategy: domain.MergeStrategy(cfg.Providers.MergeStrategy),
			ExpectedItems: expectedItems(cfg.Cache.ExpectedItems),
		},
		logger,
	)

	// --- S3 cold storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, updateLogs, ohlcStore, logger)
	}

	return deps, cleanup, nil
}

func capabilitySet(names []string) map[domain.Category]bool {
	caps := make(map[domain.Category]bool, len(names))
	for _, n := range names {
		caps[domain.Category(n)] = true
	}
	return caps
}

func expectedItems(raw map[string][]string) map[domain.Category][]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[domain.Category][]string, len(raw))
	for cat, codes := range raw {
		out[domain.Category(cat)] = codes
	}
	return out
}
