package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/arbiterlabs/dexarbiter/internal/advisory"
	s3blob "github.com/arbiterlabs/dexarbiter/internal/blob/s3"
	"github.com/arbiterlabs/dexarbiter/internal/cache/redis"
	"github.com/arbiterlabs/dexarbiter/internal/chain"
	"github.com/arbiterlabs/dexarbiter/internal/config"
	"github.com/arbiterlabs/dexarbiter/internal/crypto"
	"github.com/arbiterlabs/dexarbiter/internal/detect"
	"github.com/arbiterlabs/dexarbiter/internal/domain"
	"github.com/arbiterlabs/dexarbiter/internal/engine"
	"github.com/arbiterlabs/dexarbiter/internal/gas"
	"github.com/arbiterlabs/dexarbiter/internal/mev"
	"github.com/arbiterlabs/dexarbiter/internal/notify"
	"github.com/arbiterlabs/dexarbiter/internal/risk"
	"github.com/arbiterlabs/dexarbiter/internal/server/ws"
	"github.com/arbiterlabs/dexarbiter/internal/store/postgres"
)

// Dependencies bundles every concrete implementation the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores, nil when Postgres is not configured.
	TradeStore          domain.TradeStore
	OpportunityStore    domain.OpportunityStore
	RiskAssessmentStore domain.RiskAssessmentStore
	PgPing              func(ctx context.Context) error

	// Redis-backed collaborators.
	TickCache   domain.TickCache
	RateLimiter domain.RateLimiter
	RedisPing   func(ctx context.Context) error

	// Blob storage, nil unless S3 is enabled.
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Chain access, nil in monitor mode.
	RPC       chain.RPCClient
	Sequencer *chain.NonceSequencer
	Submitter *chain.Submitter

	// Advisors and engine.
	Detector   *detect.Detector
	Gate       *risk.Gate
	Tracker    *risk.Tracker
	GasAdvisor *gas.Advisor
	MevAdvisor *mev.Advisor
	Scorer     domain.AdvisoryScorer
	Dispatcher *engine.Dispatcher

	// Notifications.
	Notifier *notify.Notifier
	// Hub is the dashboard event feed, nil unless the server is enabled.
	Hub *ws.Hub
}

// executesTrades reports whether the mode runs the execution engine.
func executesTrades(mode string) bool {
	switch strings.ToLower(mode) {
	case "trade", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependencies from the configuration. The
// returned cleanup releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL, optional ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
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
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.RiskAssessmentStore = postgres.NewRiskAssessmentStore(pool)
		deps.PgPing = pool.Ping
	}

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

	deps.TickCache = redis.NewTickCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.RedisPing = redisClient.Ping

	// --- S3 blob storage, optional ---
	if cfg.S3.Enabled {
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
		if deps.TradeStore != nil && deps.OpportunityStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.TradeStore,
				deps.OpportunityStore,
				s3blob.ArchiverConfig{
					Retention: time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour,
					Interval:  cfg.S3.Interval.Duration,
				},
				logger,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, deps.RateLimiter, notify.Config{
		MinSeverity: domain.EventSeverity(cfg.Notify.MinSeverity),
		RateLimit:   cfg.Notify.RatePerMinute,
		RateWindow:  time.Minute,
	}, logger)

	// Engine events also stream to the dashboard when the server runs.
	engineNotify := notify.Multi{deps.Notifier}
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(cfg.Mode, logger)
		engineNotify = append(engineNotify, deps.Hub)
	}

	// --- Detection and advisors ---
	deps.Detector = detect.NewDetector(detect.Config{
		MinProfitPercent: cfg.Engine.MinProfitPercent,
		TradeSize:        cfg.Engine.TradeSize,
		TTL:              cfg.Engine.OpportunityTTL.Duration,
		MaxTickAge:       cfg.Engine.MaxTickAge.Duration,
		Network:          cfg.Engine.Network,
	}, logger)

	deps.Tracker = risk.NewTracker()
	deps.Gate = risk.NewGate(risk.Config{
		DailyLossLimit:        cfg.Risk.DailyLossLimit,
		WorstCaseLossFraction: cfg.Risk.WorstCaseLossFraction,
		MaxPositionSize:       cfg.Risk.MaxPositionSize,
		CorrelationThreshold:  cfg.Risk.CorrelationThreshold,
		MinLiquidityRatio:     cfg.Risk.MinLiquidityRatio,
	}, logger)

	gasDefaults := make(map[string]gas.NetworkDefaults, len(cfg.Networks))
	blockTimes := make(map[string]int64, len(cfg.Networks))
	for name, n := range cfg.Networks {
		gasDefaults[name] = gas.NetworkDefaults{
			GasPriceWei:    n.DefaultGasPriceWei,
			PriorityFeeWei: n.DefaultPriorityFeeWei,
			CeilingWei:     n.GasCeilingWei,
		}
		blockTimes[name] = n.BlockTimeMs
	}
	deps.GasAdvisor = gas.NewAdvisor(gas.Config{
		WindowSize:  cfg.Gas.WindowSize,
		MaxGasLimit: cfg.Gas.MaxGasLimit,
		Defaults:    gasDefaults,
	}, logger)

	deps.MevAdvisor = mev.NewAdvisor(mev.Config{
		MediumThreshold: cfg.Mev.MediumThreshold,
		HighThreshold:   cfg.Mev.HighThreshold,
		BlockTimeMs:     blockTimes,
	}, deps.GasAdvisor.Congestion, logger)

	if cfg.Advisory.Enabled && cfg.Advisory.URL != "" {
		deps.Scorer = advisory.NewHTTPScorer(cfg.Advisory.URL, cfg.Advisory.Timeout.Duration, logger)
	}

	// --- Chain access and the execution engine ---
	if executesTrades(cfg.Mode) {
		net := cfg.Networks[cfg.Engine.Network]

		if cfg.Engine.Simulation {
			blockTime := time.Duration(net.BlockTimeMs) * time.Millisecond
			if blockTime <= 0 {
				blockTime = 12 * time.Second
			}
			deps.RPC = chain.NewSimClient(blockTime)
		} else {
			rpc, err := chain.Dial(ctx, net.RPCEndpoint)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: chain: %w", err)
			}
			closers = append(closers, rpc.Close)
			deps.RPC = rpc
		}

		key, err := signingKey(cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signing key: %w", err)
		}

		deps.Sequencer = chain.NewNonceSequencer(deps.RPC, logger)
		deps.Submitter = chain.NewSubmitter(deps.RPC, key, big.NewInt(net.ChainID), chain.SubmitterConfig{
			PollInterval:   cfg.Confirm.PollInterval.Duration,
			MaxRPCAttempts: cfg.Confirm.MaxRPCAttempts,
		}, logger)

		routers := make(map[string]common.Address, len(net.Routers))
		for venue, addr := range net.Routers {
			routers[venue] = common.HexToAddress(addr)
		}

		deps.Dispatcher = engine.NewDispatcher(
			engine.DispatcherConfig{
				TickInterval:  cfg.Engine.TickInterval.Duration,
				MaxConcurrent: int64(cfg.Engine.MaxConcurrentTrades),
				QueueCapacity: cfg.Engine.QueueCapacity,
			},
			engine.CoordinatorConfig{
				ConfirmTimeout:   cfg.Confirm.Timeout.Duration,
				MaxCancelRetries: cfg.Confirm.MaxCancelRetries,
				MaxJitter:        cfg.Mev.MaxJitter.Duration,
				SwapGasLimit:     cfg.Engine.SwapGasLimit,
				Routers:          routers,
			},
			deps.Gate,
			deps.Tracker,
			deps.GasAdvisor,
			deps.MevAdvisor,
			deps.Sequencer,
			deps.Submitter,
			deps.Scorer,
			engineNotify,
			deps.TradeStore,
			deps.OpportunityStore,
			deps.RiskAssessmentStore,
			logger,
		)
	}

	return deps, cleanup, nil
}

// signingKey loads the wallet key, or generates an ephemeral one when
// running in simulation with no key configured.
func signingKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	if cfg.Engine.Simulation && cfg.Wallet.PrivateKey == "" && cfg.Wallet.EncryptedKeyPath == "" {
		return ethcrypto.GenerateKey()
	}
	return crypto.LoadSigningKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
}
