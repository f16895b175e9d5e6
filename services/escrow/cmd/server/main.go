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

	"escrowlane/pkg/config"
	"escrowlane/pkg/db"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv"
	"escrowlane/pkg/kv/memkv"
	"escrowlane/pkg/kv/pgkv"
	"escrowlane/pkg/kv/rediskv"
	"escrowlane/pkg/kv/sqlitekv"
	"escrowlane/pkg/logger"
	"escrowlane/services/escrow/internal/access"
	"escrowlane/services/escrow/internal/api"
	"escrowlane/services/escrow/internal/contracts"
	"escrowlane/services/escrow/internal/idempotency"
	"escrowlane/services/escrow/internal/ledger"
	"escrowlane/services/escrow/internal/ledger/httpledger"
	"escrowlane/services/escrow/internal/ledger/memledger"
	"escrowlane/services/escrow/internal/lifecycle"
	"escrowlane/services/escrow/internal/metrics"
	"escrowlane/services/escrow/internal/users"

	"golang.org/x/sync/errgroup"
)

// devTreasury is the account of the in-process rail used when no LEDGER_URL
// is configured.
var devTreasury = ledger.Address{0xde, 0x70}

const devTokenFloat = 1_000_000_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	handler, err := newHandler(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("escrow service listening", "addr", srv.Addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newHandler wires the service graph over store and registers the bootstrap
// admin.
func newHandler(ctx context.Context, cfg *config.Config, store kv.Opener, log *logger.Logger) (http.Handler, error) {
	dir := users.New(store.Namespace(users.Namespace), log)
	if err := dir.Bootstrap(ctx, identity.Parse(cfg.BootstrapPrincipal)); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	m := metrics.New()
	rail := newLedger(cfg, log)
	svc := lifecycle.New(
		contracts.New(store.Namespace(contracts.Namespace)),
		lifecycle.NewJournal(store.Namespace(lifecycle.PayoutsNamespace)),
		rail,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(m),
	)
	return api.NewRouter(api.Deps{
		Lifecycle:   svc,
		Users:       dir,
		Gate:        access.NewGate(dir),
		Ledger:      rail,
		Idempotency: idempotency.NewKVStore(store.Namespace(idempotency.Namespace)),
		Metrics:     m,
		Log:         log,
	}), nil
}

func newLedger(cfg *config.Config, log *logger.Logger) ledger.Ledger {
	if cfg.LedgerURL == "" {
		log.Warn("LEDGER_URL not set, using in-process ledger", "account", devTreasury.String())
		return memledger.New(devTreasury, devTokenFloat)
	}
	return httpledger.New(cfg.LedgerURL, cfg.LedgerSecret, cfg.LedgerTimeout)
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (kv.Opener, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := pgkv.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, pool.Close, nil
	case config.BackendSQLite:
		st, err := sqlitekv.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, closer(st.Close, log), nil
	case config.BackendRedis:
		st, err := rediskv.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return st, closer(st.Close, log), nil
	default:
		log.Warn("using in-memory store, state is lost on restart")
		return memkv.NewOpener(), func() {}, nil
	}
}

func closer(fn func() error, log *logger.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}
}
