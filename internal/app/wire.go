package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/apexlabs-eth/flasharb/internal/blob/s3"
	"github.com/apexlabs-eth/flasharb/internal/cache/redis"
	"github.com/apexlabs-eth/flasharb/internal/config"
	"github.com/apexlabs-eth/flasharb/internal/dex"
	"github.com/apexlabs-eth/flasharb/internal/domain"
	"github.com/apexlabs-eth/flasharb/internal/engine"
	"github.com/apexlabs-eth/flasharb/internal/ledger"
	"github.com/apexlabs-eth/flasharb/internal/lender"
	"github.com/apexlabs-eth/flasharb/internal/notify"
	"github.com/apexlabs-eth/flasharb/internal/registry"
	"github.com/apexlabs-eth/flasharb/internal/service"
	"github.com/apexlabs-eth/flasharb/internal/store/postgres"
)

// eventsChannel carries registry and governance events to the signal bus for
// WebSocket fan-out.
const eventsChannel = "events"

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Infrastructure
	Store    domain.SettlementStore
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Archiver domain.Archiver
	Notifier *notify.Notifier

	// Engine graph
	Book     *ledger.Ledger
	Access   *registry.AccessControl
	Registry *registry.Registry
	Pool     *lender.Pool
	Engine   *engine.Engine
	Service  *service.ArbService
}

// needsS3 returns true for modes that archive settlements to object storage.
func needsS3(mode string) bool {
	return mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

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
	store := postgres.NewSettlementStore(pgClient.Pool())
	deps.Store = store

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

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) && cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewSettlementArchiver(s3blob.NewWriter(s3Client), store, logger)
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
	if cfg.Notify.SlackWebhookURL != "" {
		senders = append(senders, notify.NewSlackSender(cfg.Notify.SlackWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine graph ---
	if err := buildEngine(ctx, cfg, deps, logger); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}

	deps.Service = service.NewArbService(
		deps.Engine,
		deps.Store,
		deps.Locks,
		deps.Bus,
		deps.Notifier,
		service.ArbConfig{},
		logger,
	)

	return deps, cleanup, nil
}

// buildEngine assembles the ledger, access control, registries, adapters,
// lending facility, and settlement engine, seeding them from the configured
// genesis state.
func buildEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	owner := common.HexToAddress(cfg.Owner.Address)
	sink := busSink(deps.Bus, logger)

	book := ledger.New()
	access := registry.NewAccessControl(owner, sink, logger)
	for _, op := range cfg.Owner.Operators {
		if err := access.AuthorizeOperator(ctx, owner, common.HexToAddress(op), true); err != nil {
			return fmt.Errorf("authorize operator %s: %w", op, err)
		}
	}

	reg := registry.New(access, sink, logger)
	for _, tok := range cfg.Tokens {
		if err := reg.SetTokenWhitelisted(ctx, owner, common.HexToAddress(tok.Address), tok.Whitelisted); err != nil {
			return fmt.Errorf("whitelist token %s: %w", tok.Address, err)
		}
	}
	for _, r := range cfg.Routers {
		if err := reg.SetRouterConfig(ctx, owner, common.HexToAddress(r.Address), domain.AdapterKind(r.Kind), r.Enabled); err != nil {
			return fmt.Errorf("configure router %s: %w", r.Address, err)
		}
	}

	pool := lender.NewPool(book, common.HexToAddress(cfg.Lender.Account), cfg.Lender.FeeBps, logger)
	for _, liq := range cfg.Lender.Liquidity {
		amount, err := config.ParseAmount(liq.Amount)
		if err != nil {
			return fmt.Errorf("lender liquidity %s: %w", liq.Token, err)
		}
		pool.Fund(common.HexToAddress(liq.Token), amount)
	}

	amm := dex.NewAMMAdapter(book, ammFeeBps(cfg))
	for _, p := range cfg.Pools {
		reserveA, err := config.ParseAmount(p.ReserveA)
		if err != nil {
			return fmt.Errorf("pool %s reserve_a: %w", p.Router, err)
		}
		reserveB, err := config.ParseAmount(p.ReserveB)
		if err != nil {
			return fmt.Errorf("pool %s reserve_b: %w", p.Router, err)
		}
		amm.AddPool(
			common.HexToAddress(p.Router),
			common.HexToAddress(p.TokenA),
			common.HexToAddress(p.TokenB),
			reserveA, reserveB,
		)
	}

	ob := dex.NewOrderBookAdapter(book)
	for _, b := range cfg.Books {
		levels := make([]dex.Level, 0, len(b.Levels))
		for i, lvl := range b.Levels {
			in, err := config.ParseAmount(lvl[0])
			if err != nil {
				return fmt.Errorf("book %s level %d: %w", b.Router, i, err)
			}
			out, err := config.ParseAmount(lvl[1])
			if err != nil {
				return fmt.Errorf("book %s level %d: %w", b.Router, i, err)
			}
			levels = append(levels, dex.Level{AmountIn: in, AmountOut: out})
		}
		ob.SetBook(
			common.HexToAddress(b.Router),
			common.HexToAddress(b.TokenIn),
			common.HexToAddress(b.TokenOut),
			levels,
		)
	}

	dispatcher := dex.NewDispatcher(reg, logger)
	dispatcher.Register(domain.AdapterAMMV2, amm)
	dispatcher.Register(domain.AdapterOrderBook, ob)

	maxLoan, err := config.ParseAmount(cfg.Engine.MaxLoanAmount)
	if err != nil {
		return fmt.Errorf("max_loan_amount: %w", err)
	}
	profitFloor, err := config.ParseAmount(cfg.Engine.MinProfitFloor)
	if err != nil {
		return fmt.Errorf("min_profit_floor: %w", err)
	}

	deps.Book = book
	deps.Access = access
	deps.Registry = reg
	deps.Pool = pool
	deps.Engine = engine.New(
		common.HexToAddress(cfg.Engine.Account),
		engine.Limits{MaxLoanAmount: maxLoan, ProfitFloor: profitFloor},
		access, reg, book, pool, dispatcher, sink, logger,
	)
	return nil
}

// ammFeeBps picks the swap fee for the AMM adapter: the first non-zero fee
// among enabled amm_v2 routers, defaulting to the canonical 30 bps.
func ammFeeBps(cfg *config.Config) int64 {
	for _, r := range cfg.Routers {
		if r.Kind == string(domain.AdapterAMMV2) && r.Enabled && r.FeeBps > 0 {
			return r.FeeBps
		}
	}
	return 30
}

// busSink forwards governance and settlement events to the signal bus so
// WebSocket clients see them live. Publish failures are logged and dropped;
// event emission must never fail the emitting operation.
func busSink(bus domain.SignalBus, logger *slog.Logger) domain.EventSink {
	return domain.EventSinkFunc(func(ctx context.Context, evt domain.Event) {
		payload, err := json.Marshal(evt)
		if err != nil {
			return
		}
		if err := bus.Publish(ctx, eventsChannel, payload); err != nil {
			logger.WarnContext(ctx, "event publish failed",
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()),
			)
		}
	})
}
