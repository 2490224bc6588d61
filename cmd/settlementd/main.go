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

	"offchain-settlement/config"
	httpHandler "offchain-settlement/internal/adapter/http/handler"
	"offchain-settlement/internal/adapter/metrics"
	"offchain-settlement/internal/adapter/storage/memory"
	pgStorage "offchain-settlement/internal/adapter/storage/postgres"
	redisStorage "offchain-settlement/internal/adapter/storage/redis"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/internal/service"
	"offchain-settlement/pkg/eip712"
	"offchain-settlement/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	settlementCacheTTL = 10 * time.Minute
	nonceCacheGrace    = time.Minute
	shutdownTimeout    = 10 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("OCS_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("nonce_cache", cfg.NonceCache.Backend).
		Msg("Starting off-chain settlement engine")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("settlementd stopped")
	}
	log.Info().Msg("Server exited")
}

// ledgerStore bundles one storage driver's repositories.
type ledgerStore struct {
	transactor  ports.DBTransactor
	channels    ports.ChannelRepository
	streams     ports.StreamRepository
	nonces      ports.NonceRepository
	settlements ports.SettlementRepository
	events      ports.EventRepository
	health      []ports.HealthChecker
	close       func()
}

func openLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ledgerStore, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn().Msg("using in-memory ledger; balances are lost on restart")
		store := memory.NewStore()
		return &ledgerStore{
			transactor:  store,
			channels:    memory.NewChannelRepo(store),
			streams:     memory.NewStreamRepo(store),
			nonces:      memory.NewNonceRepo(store),
			settlements: memory.NewSettlementRepo(store),
			events:      memory.NewEventRepo(store),
			close:       func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	return &ledgerStore{
		transactor:  pgStorage.NewTransactor(pool),
		channels:    pgStorage.NewChannelRepo(pool),
		streams:     pgStorage.NewStreamRepo(pool),
		nonces:      pgStorage.NewNonceRepo(pool),
		settlements: pgStorage.NewSettlementRepo(pool),
		events:      pgStorage.NewEventRepo(pool),
		health:      []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:       pool.Close,
	}, nil
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.close()

	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Replay fast path, request nonces, rate limiting and settlement lookups
	var (
		nonceCache      ports.NonceCache
		nonceStore      ports.NonceStore
		rateLimiter     ports.RateLimiter
		settlementCache ports.SettlementCache
		healthCheckers  = ledger.health
	)
	if cfg.NonceCache.Backend == "redis" {
		nonceCache = redisStorage.NewNonceCache(rdb, nonceCacheGrace)
	} else {
		memCache := memory.NewNonceCache(memory.NonceCacheConfig{
			Capacity:      cfg.NonceCache.Capacity,
			Shards:        cfg.NonceCache.Shards,
			SweepInterval: cfg.NonceCache.SweepInterval,
		}, logger.Component(log, "nonce_cache"))
		g.Go(func() error { return memCache.Run(gctx) })
		nonceCache = memCache
	}
	if rdb != nil {
		nonceStore = redisStorage.NewNonceStore(rdb)
		settlementCache = redisStorage.NewSettlementCache(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
		if cfg.RateLimit.Enabled {
			rateLimiter = redisStorage.NewRateLimitStore(rdb)
		}
	} else {
		nonceStore = memory.NewNonceStore()
		if cfg.RateLimit.Enabled {
			rateLimiter = memory.NewRateLimiter()
		}
	}

	prom := metrics.NewPrometheus()
	clock := service.SystemClock{}
	feeCollector := common.HexToAddress(cfg.Engine.FeeCollector)
	verifier := service.NewTypedDataVerifier(eip712.Domain{
		Name:              cfg.EIP712.Name,
		Version:           cfg.EIP712.Version,
		ChainID:           cfg.EIP712.ChainID,
		VerifyingContract: common.HexToAddress(cfg.EIP712.VerifyingContract),
	})
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer, clock)

	// Business services
	nonceLedger := service.NewNonceLedger(ledger.nonces, nonceCache, prom, logger.Component(log, "nonce_ledger"))
	channelLedger := service.NewChannelLedger(ledger.channels, cfg.Engine.FeeBps, feeCollector)

	settlementSvc := service.NewSettlementService(
		channelLedger,
		ledger.settlements,
		ledger.events,
		nonceLedger,
		settlementCache,
		verifier,
		ledger.transactor,
		clock,
		service.SettlementConfig{MaxBatchSize: cfg.Engine.MaxBatchSize, CacheTTL: settlementCacheTTL},
		prom,
		logger.Component(log, "settlement"),
	)
	channelSvc := service.NewChannelService(
		ledger.channels,
		ledger.events,
		channelLedger,
		nonceLedger,
		verifier,
		ledger.transactor,
		clock,
		prom,
		logger.Component(log, "channel"),
	)
	streamSvc := service.NewStreamService(
		ledger.streams,
		ledger.events,
		ledger.transactor,
		clock,
		prom,
		logger.Component(log, "stream"),
	)
	authorizationSvc := service.NewAuthorizationService(
		ledger.events,
		nonceLedger,
		verifier,
		ledger.transactor,
		clock,
		prom,
		logger.Component(log, "authorization"),
	)
	sessionSvc := service.NewSessionService(
		nonceLedger,
		verifier,
		tokenSvc,
		ledger.transactor,
		clock,
		cfg.Engine.SessionSkew,
		logger.Component(log, "session"),
	)

	routerDeps := httpHandler.RouterDeps{
		SettlementSvc:    settlementSvc,
		ChannelSvc:       channelSvc,
		StreamSvc:        streamSvc,
		AuthorizationSvc: authorizationSvc,
		SessionSvc:       sessionSvc,
		EventFeed:        service.NewEventFeed(ledger.events),
		SigSvc:           sigSvc,
		NonceStore:       nonceStore,
		TokenSvc:         tokenSvc,
		Clock:            clock,
		Operator:         cfg.Operator,
		RateLimiter:      rateLimiter,
		HealthCheckers:   healthCheckers,
		HTTPObserver:     prom,
		Logger:           log,
	}
	if cfg.Metrics.Enabled {
		routerDeps.MetricsHandler = prom.Handler()
		routerDeps.MetricsPath = cfg.Metrics.Path
	}
	router := httpHandler.SetupRouter(routerDeps)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
