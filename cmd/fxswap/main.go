package main

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/clock"
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/custody"
	"FXSwapLedger/internal/ingestion"
	"FXSwapLedger/internal/ledger"
	"FXSwapLedger/internal/math"
	"FXSwapLedger/internal/observability"
	"FXSwapLedger/internal/oracle"
	"FXSwapLedger/internal/persistence"
	"FXSwapLedger/internal/query"
	"FXSwapLedger/internal/server"
	"FXSwapLedger/internal/store"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// Postgres; empty runs on the in-memory store without an event log
	PostgresURL string

	// NATS; empty disables the price feed and outbound events
	NATSURL      string
	PriceSubject string

	// Static price used when NATS is disabled, "USDC/EURC=0.91"
	StaticPrice string

	// Channels
	PersistChanSize int
	PublishChanSize int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	// gRPC/HTTP/Metrics
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// LRU
	IdempotencyLRUCapacity int

	// Oracle quotes older than this many seconds are rejected
	PriceMaxAge int64

	VerifyInvariants bool
	DevFaucet        bool

	// Migrations
	MigrationsDir string
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:            envOrDefault("FXSWAP_POSTGRES_DSN", ""),
		NATSURL:                envOrDefault("FXSWAP_NATS_URL", ""),
		PriceSubject:           envOrDefault("FXSWAP_PRICE_SUBJECT", "fxswap.prices.>"),
		StaticPrice:            envOrDefault("FXSWAP_STATIC_PRICE", "USDC/EURC=1"),
		PersistChanSize:        envIntOrDefault("FXSWAP_PERSIST_CHAN_SIZE", 1024),
		PublishChanSize:        envIntOrDefault("FXSWAP_PUBLISH_CHAN_SIZE", 4096),
		PersistBatchSize:       envIntOrDefault("FXSWAP_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout:    10 * time.Millisecond,
		GRPCAddr:               envOrDefault("FXSWAP_GRPC_ADDR", ":9090"),
		HTTPAddr:               envOrDefault("FXSWAP_HTTP_ADDR", ":8080"),
		MetricsAddr:            envOrDefault("FXSWAP_METRICS_ADDR", ":9091"),
		JWTSecret:              envOrDefault("FXSWAP_JWT_SECRET", "fxswap-dev-secret"),
		TokenTTL:               time.Duration(envIntOrDefault("FXSWAP_TOKEN_TTL_SECONDS", 86400)) * time.Second,
		IdempotencyLRUCapacity: envIntOrDefault("FXSWAP_IDEMPOTENCY_LRU_CAPACITY", 100_000),
		PriceMaxAge:            int64(envIntOrDefault("FXSWAP_PRICE_MAX_AGE_SECONDS", 0)),
		VerifyInvariants:       envIntOrDefault("FXSWAP_VERIFY_INVARIANTS", 1) == 1,
		DevFaucet:              envIntOrDefault("FXSWAP_DEV_FAUCET", 0) == 1,
		MigrationsDir:          envOrDefault("FXSWAP_MIGRATIONS_DIR", "migrations"),
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	issueFor := flag.String("issue-token", "", "print a bearer token for the given identity and exit")
	flag.Parse()

	cfg := DefaultConfig()
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	if *issueFor != "" {
		id, err := uuid.Parse(*issueFor)
		if err != nil {
			log.Fatalf("FATAL: invalid identity: %v", err)
		}
		token, expires, err := tokens.Issue(id)
		if err != nil {
			log.Fatalf("FATAL: issue token: %v", err)
		}
		fmt.Println(token)
		log.Printf("INFO: token for %s expires %s", id, expires.Format(time.RFC3339))
		return
	}

	log.Println("INFO: FXSwapLedger starting...")

	// --- Context with graceful shutdown ---
	// serveCtx stops the listeners and ingestion; the workers drain their
	// channels after the engine has no more callers.
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// Persist channel blocks (backpressure), publish channel drops
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	publishChan := make(chan core.CoreOutput, cfg.PublishChanSize)

	var (
		db          *sql.DB
		kv          store.Store = store.NewMemoryStore()
		eventLog    query.EventLog
		dbChecker   core.DBIdempotencyChecker
		recentKeys  []string
		persistOut  chan<- core.CoreOutput
		publishOut  chan<- core.CoreOutput
		workers     sync.WaitGroup
		errChan     = make(chan error, 10)
		subscriber  *ingestion.NATSSubscriber
		priceOracle core.Oracle
	)

	// --- Postgres ---
	if cfg.PostgresURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Fatalf("FATAL: postgres open: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(serveCtx); err != nil {
			log.Fatalf("FATAL: postgres ping: %v", err)
		}
		log.Println("INFO: Postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
		if err := migrator.Up(serveCtx); err != nil {
			log.Fatalf("FATAL: run migrations: %v", err)
		}
		log.Println("INFO: migrations applied")

		kv = persistence.NewPostgresStore(db)
		reader := persistence.NewEventLogReader(db)
		eventLog = reader
		checker := persistence.NewPostgresIdempotencyChecker(db)
		dbChecker = checker

		recentKeys, err = checker.RecentKeys(serveCtx, cfg.IdempotencyLRUCapacity)
		if err != nil {
			log.Printf("WARN: load recent idempotency keys: %v", err)
		}
		persistOut = persistChan
		healthChecker.AddCheck("postgres", db.PingContext)
	} else {
		log.Println("WARN: FXSWAP_POSTGRES_DSN not set, state is in-memory and lost on exit")
	}

	// --- NATS ---
	var (
		nc           *nats.Conn
		js           jetstream.JetStream
		feed         *oracle.Feed
		rawEventChan chan ingestion.RawEvent
	)
	if cfg.NATSURL != "" {
		var err error
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		log.Println("INFO: NATS connected")

		if err := ingestion.EnsureStreams(serveCtx, js, cfg.PriceSubject, observability.NewLogger("nats")); err != nil {
			log.Fatalf("FATAL: ensure NATS streams: %v", err)
		}

		feed = oracle.NewFeed(oracle.FeedOptions{
			MaxAge:  cfg.PriceMaxAge,
			Now:     clock.System{}.Now,
			Logger:  observability.NewLogger("oracle"),
			Metrics: metrics,
		})
		priceOracle = feed

		rawEventChan = make(chan ingestion.RawEvent, 4096)
		subscriber = ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("subscriber"))
		if err := subscriber.Subscribe(serveCtx, ingestion.DefaultSubjects(cfg.PriceSubject)); err != nil {
			log.Fatalf("FATAL: nats subscribe: %v", err)
		}

		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, observability.NewLogger("publisher"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := publisher.Run(context.Background()); err != nil {
				errChan <- fmt.Errorf("publisher: %w", err)
			}
		}()
		publishOut = publishChan

		healthChecker.AddCheck("nats", func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats status %s", status)
			}
			return nil
		})
	} else {
		static, err := staticOracle(cfg.StaticPrice)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		priceOracle = static
		log.Printf("INFO: NATS disabled, using static price %s", cfg.StaticPrice)
	}

	// --- Engine ---
	bank := custody.NewMemoryBank(metrics)
	engine, err := core.NewEngine(core.Options{
		Store:            kv,
		Clock:            clock.System{},
		Oracle:           priceOracle,
		Custody:          bank,
		Authorizer:       auth.ContextAuthorizer{},
		VerifyInvariants: cfg.VerifyInvariants,
		Logger:           observability.NewLogger("engine"),
		Metrics:          metrics,
		PersistChan:      persistOut,
		PublishChan:      publishOut,
	})
	if err != nil {
		log.Fatalf("FATAL: engine: %v", err)
	}

	// --- Recovery ---
	sequence, stateHash, err := engine.ChainTip(serveCtx)
	if err != nil {
		log.Fatalf("FATAL: read chain tip: %v", err)
	}
	log.Printf("INFO: chain tip sequence=%d hash=%x", sequence, stateHash)
	if err := engine.VerifyConservation(serveCtx); err != nil && !errors.Is(err, core.ErrNotInitialized) {
		log.Fatalf("FATAL: conservation check on recovered state: %v", err)
	}
	if err := seedEscrow(serveCtx, engine, bank); err != nil {
		log.Fatalf("FATAL: seed custody escrow: %v", err)
	}

	// --- Idempotency ---
	idempotency := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, dbChecker, metrics, observability.NewLogger("idempotency"))
	if len(recentKeys) > 0 {
		log.Printf("INFO: warming LRU with %d keys from the event log", len(recentKeys))
		idempotency.Warm(recentKeys)
	}

	// --- Persistence worker ---
	if db != nil {
		persisted, err := persistence.NewEventLogReader(db).LatestSequence(serveCtx)
		if err != nil {
			log.Fatalf("FATAL: read persisted sequence: %v", err)
		}
		if persisted != sequence {
			log.Printf("WARN: event log at sequence %d, engine at %d", persisted, sequence)
		}

		persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := persistWorker.Run(context.Background()); err != nil {
				errChan <- fmt.Errorf("persistence worker: %w", err)
			}
		}()
	}

	// --- Services ---
	queryService := query.NewQueryService(engine, eventLog, clock.System{})
	gateway, err := server.NewGateway(server.GatewayDeps{
		Ledger:      engine,
		Query:       queryService,
		Idempotency: idempotency,
		Metrics:     metrics,
		Logger:      observability.NewLogger("http"),
	})
	if err != nil {
		log.Fatalf("FATAL: gateway: %v", err)
	}
	deps := server.ServerDeps{
		Gateway:       gateway,
		Tokens:        tokens,
		HealthChecker: healthChecker,
		Logger:        observability.NewLogger("server"),
	}
	if cfg.DevFaucet {
		log.Println("WARN: development faucet enabled on /v1/dev/mint")
		deps.Faucet = bank
	}
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, deps)

	// --- Start goroutines ---
	var serving sync.WaitGroup
	goServe := func(name string, run func(context.Context) error) {
		serving.Add(1)
		go func() {
			defer serving.Done()
			if err := run(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. NATS → oracle feed / keeper liquidations
	if subscriber != nil {
		dispatcher := ingestion.NewDispatcher(feed, engine, tokens, observability.NewLogger("dispatcher"))
		goServe("dispatcher", func(ctx context.Context) error {
			return dispatcher.Run(ctx, rawEventChan)
		})
	}

	// 2. gRPC server (health + reflection)
	goServe("grpc", grpcServer.StartGRPC)

	// 3. HTTP/JSON API
	goServe("http", grpcServer.StartHTTP)

	// 4. Prometheus metrics server
	goServe("metrics", func(ctx context.Context) error {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 5. Channel depth gauges
	goServe("channel-metrics", func(ctx context.Context) error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			}
		}
	})

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Printf("INFO: FXSwapLedger ready (sequence=%d, grpc=%s, http=%s, metrics=%s)",
		sequence, cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	// Stop callers first, then close the engine outputs so the workers
	// flush what is left and exit.
	healthChecker.SetReady(false)
	stopServing()
	if subscriber != nil {
		subscriber.Stop()
	}
	serving.Wait()

	close(persistChan)
	close(publishChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Println("INFO: persistence and publisher drained")
	case <-time.After(30 * time.Second):
		log.Println("ERROR: workers did not drain within 30s")
	}

	log.Println("INFO: FXSwapLedger shutdown complete")
}

// staticOracle parses "ASSETA/ASSETB=rate".
func staticOracle(setting string) (*oracle.Static, error) {
	pair, rateStr, ok := strings.Cut(setting, "=")
	assetA, assetB, okPair := strings.Cut(pair, "/")
	if !ok || !okPair || assetA == "" || assetB == "" {
		return nil, fmt.Errorf("static price %q: want ASSETA/ASSETB=rate", setting)
	}
	rate, err := math.ParseRate(rateStr)
	if err != nil {
		return nil, fmt.Errorf("static price: %w", err)
	}
	static := oracle.NewStatic()
	static.SetPrice(assetA, assetB, rate, time.Now().Unix())
	return static, nil
}

// seedEscrow credits the in-memory custody bank with what the recovered
// ledger says it should hold in escrow.
func seedEscrow(ctx context.Context, engine *core.Engine, bank *custody.MemoryBank) error {
	tokens, err := engine.Tokens(ctx)
	if errors.Is(err, core.ErrNotInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, agg := range []*ledger.AssetAggregate{tokens.A, tokens.B} {
		amount := agg.Escrowed()
		if amount <= 0 {
			continue
		}
		if err := bank.Transfer(ctx, ledger.TransferLeg{
			From:   ledger.NewExternalAccountKey(agg.Asset),
			To:     ledger.NewEscrowAccountKey(agg.Asset),
			Asset:  agg.Asset,
			Amount: amount,
			Type:   ledger.JournalTypeIssuance,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", agg.Asset, err)
		}
		log.Printf("INFO: escrow seeded with %d %s", amount, agg.Asset)
	}
	return nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
