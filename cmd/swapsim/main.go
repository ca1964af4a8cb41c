// Command swapsim drives a full swap lifecycle against two in-memory
// ledgers. It is a demonstration and smoke-test harness, not a service:
// it starts a swap, optionally completes or abandons it, and reconciles
// account balances at the end.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/crosslock/swapcore/pkg/adapters/mock"
	"github.com/crosslock/swapcore/pkg/config"
	"github.com/crosslock/swapcore/pkg/coordinator"
	"github.com/crosslock/swapcore/pkg/journal"
	"github.com/crosslock/swapcore/pkg/reconcile"
	"github.com/crosslock/swapcore/pkg/registry"
	"github.com/crosslock/swapcore/pkg/timelock"

	_ "github.com/lib/pq" // Postgres Driver
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("swapsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	scenario := fs.String("scenario", "complete", "complete | refund")
	profile := fs.String("profile", "", "timelock profile name (requires TIMELOCK_PROFILES)")
	amount := fs.String("amount", "100", "source leg amount")
	fxRate := fs.String("rate", "0.99", "destination amount per unit of source amount")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	log := newLogger(stderr, cfg.LogLevel)

	if err := run(context.Background(), stdout, log, cfg, *scenario, *profile, *amount, *fxRate); err != nil {
		log.Error("simulation failed", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, stdout io.Writer, log *slog.Logger, cfg *config.Config, scenario, profile, amountStr, rateStr string) error {
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	fx, err := decimal.NewFromString(rateStr)
	if err != nil {
		return fmt.Errorf("parse rate: %w", err)
	}
	destAmount := amount.Mul(fx).Round(8)

	window, err := loadWindow(cfg, profile)
	if err != nil {
		return err
	}

	reg, cleanup, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Simulated time: the whole lifecycle runs in one process, so the
	// clock is advanced by hand between phases.
	now := time.Now()
	clock := func() time.Time { return now }

	source := mock.NewAdapter("alpha").WithClock(clock)
	dest := mock.NewAdapter("beta").WithClock(clock)
	source.Fund("alice", amount)
	dest.Fund("resolver", destAmount)

	j := journal.New().WithClock(clock)
	coord := coordinator.New(reg, source, dest,
		coordinator.WithClock(clock),
		coordinator.WithLogger(log),
		coordinator.WithJournal(j),
		coordinator.WithRetryPolicy(coordinator.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseBackoff: cfg.RetryBaseBackoff,
			MaxBackoff:  cfg.RetryMaxBackoff,
		}),
		coordinator.WithBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		coordinator.WithRateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	)

	recon := reconcile.New(source, dest)
	accounts := []reconcile.AccountRef{
		{Ledger: "alpha", Account: "alice"},
		{Ledger: "alpha", Account: "resolver"},
		{Ledger: "beta", Account: "resolver"},
		{Ledger: "beta", Account: "alice"},
	}
	before, err := recon.Snapshot(ctx, accounts)
	if err != nil {
		return err
	}

	rec, secret, err := coord.StartSwap(ctx, coordinator.StartRequest{
		Window:      window,
		Source:      coordinator.LegSpec{Depositor: "alice", Counterparty: "resolver", Amount: amount},
		Destination: coordinator.LegSpec{Depositor: "resolver", Counterparty: "alice", Amount: destAmount},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "swap %s escrowed on both ledgers (commitment %s)\n", rec.ID, rec.Commitment)

	var expected []reconcile.Expectation
	switch scenario {
	case "complete":
		now = now.Add(window.ExclusiveWithdrawal + time.Second)
		rec, err = coord.CompleteSwap(ctx, rec.ID, secret)
		if err != nil {
			return err
		}
		expected = []reconcile.Expectation{
			{Ledger: "alpha", Account: "alice", Delta: amount.Neg()},
			{Ledger: "alpha", Account: "resolver", Delta: amount},
			{Ledger: "beta", Account: "resolver", Delta: destAmount.Neg()},
			{Ledger: "beta", Account: "alice", Delta: destAmount},
		}
	case "refund":
		now = now.Add(window.Cancellation + time.Second)
		rec, err = coord.CancelSwap(ctx, rec.ID)
		if err != nil {
			return err
		}
		// A refunded swap moves no money.
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	fmt.Fprintf(stdout, "swap %s finished in state %s\n", rec.ID, rec.State)

	after, err := recon.Snapshot(ctx, accounts)
	if err != nil {
		return err
	}
	if err := reconcile.AssertDelta(before, after, expected, decimal.Zero); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "balances reconciled")

	if ok, msg := j.Verify(); !ok {
		return fmt.Errorf("journal verification failed: %s", msg)
	}
	for _, e := range j.EntriesFor(rec.ID) {
		fmt.Fprintf(stdout, "  journal %-10s %s -> %s\n", e.Type, e.From, e.To)
	}
	return nil
}

func loadWindow(cfg *config.Config, profile string) (timelock.Window, error) {
	if profile == "" {
		return timelock.NewWindow(
			10*time.Second, 10*time.Second, 2*time.Minute, 10*time.Minute, 20*time.Minute)
	}
	if cfg.TimelockProfiles == "" {
		return timelock.Window{}, fmt.Errorf("profile %q requested but TIMELOCK_PROFILES is not set", profile)
	}
	profiles, err := timelock.LoadProfiles(cfg.TimelockProfiles)
	if err != nil {
		return timelock.Window{}, err
	}
	w, ok := profiles[profile]
	if !ok {
		return timelock.Window{}, fmt.Errorf("profile %q not found in %s", profile, cfg.TimelockProfiles)
	}
	return w, nil
}

// openRegistry picks the swap registry backend from configuration.
func openRegistry(cfg *config.Config) (registry.Registry, func(), error) {
	noop := func() {}
	switch cfg.RegistryBackend {
	case "memory":
		return registry.NewMemoryRegistry(), noop, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		reg, err := registry.NewSQLiteRegistry(db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return reg, func() { db.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open postgres: %w", err)
		}
		return registry.NewPostgresRegistry(db), func() { db.Close() }, nil
	case "redis":
		return registry.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
