package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fxtriangle/internal/alerting"
	"fxtriangle/internal/config"
	"fxtriangle/internal/engine"
	"fxtriangle/internal/provider"
	"fxtriangle/internal/storage"
)

// ErrDatabaseRequired is returned by commands that only make sense against the durable store.
var ErrDatabaseRequired = errors.New("database.dsn not configured")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// backend is the store and date locker shared by one command.
type backend struct {
	store   storage.Repository
	db      *storage.Store
	locker  storage.DateLocker
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Database.LockNamespace)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openBackend connects the durable store and the configured locker. Without a DSN
// it falls back to an in-memory store unless requireDB is set.
func (a *App) openBackend(ctx context.Context, requireDB bool) (*backend, error) {
	db, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	b := &backend{db: db}
	if db == nil {
		if requireDB {
			return nil, ErrDatabaseRequired
		}
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		b.store = storage.NewMemoryStore()
	} else {
		b.store = db
		b.closers = append(b.closers, closeStore)
	}

	locker, closeLocker, err := a.newLocker(ctx, db)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.locker = locker
	if closeLocker != nil {
		b.closers = append(b.closers, closeLocker)
	}
	return b, nil
}

func (a *App) newLocker(ctx context.Context, db *storage.Store) (storage.DateLocker, func(), error) {
	switch strings.ToLower(a.Config.Lock.Backend) {
	case "redis":
		client, err := storage.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			return nil, nil, err
		}
		locker := storage.NewRedisLocker(client, storage.RedisLockerOptions{
			Prefix:       a.Config.Redis.KeyPrefix,
			TTL:          a.Config.Lock.TTL,
			RetryBackoff: a.Config.Lock.RetryBackoff,
			WaitTimeout:  a.Config.Lock.WaitTimeout,
		}, a.Logger)
		return locker, func() { client.Close() }, nil
	case "postgres":
		if db != nil {
			return db, nil, nil
		}
		a.Logger.Warn().Msg("postgres lock backend without a database; locking in-process only")
		return storage.NewMemoryLocker(), nil, nil
	default:
		return storage.NewMemoryLocker(), nil, nil
	}
}

func (a *App) newAdapters() ([]provider.Adapter, error) {
	pc := a.Config.Providers
	adapters := make([]provider.Adapter, 0, len(pc.Order))
	for _, name := range a.Config.EnabledProviders() {
		ac := pc.Adapters[name]
		adapter, err := provider.New(name, provider.Options{
			BaseURL:   ac.BaseURL,
			APIKey:    ac.APIKey,
			Timeout:   pc.Timeout,
			UserAgent: pc.UserAgent,
			Basis:     a.Config.Basis(),
			Auxiliary: a.Config.Pipeline.Auxiliary,
			Retry: provider.RetryPolicy{
				MaxAttempts:     pc.MaxRetries,
				InitialInterval: pc.RetryInitialInterval,
				MaxInterval:     pc.RetryMaxInterval,
			},
			RateLimitPerMinute: ac.RateLimitPerMinute,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func (a *App) newManager(recorder provider.AttemptRecorder) (*provider.Manager, error) {
	adapters, err := a.newAdapters()
	if err != nil {
		return nil, err
	}
	return provider.NewManager(adapters, recorder, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newEngine(acquirer engine.Acquirer, b *backend, notifier alerting.Notifier) *engine.Engine {
	return engine.New(acquirer, b.store, b.locker, engine.Options{
		Notifier:         notifier,
		NotifyOnCritical: a.Config.Alerting.NotifyOnCritical,
		NotifyOnFailure:  a.Config.Alerting.NotifyOnFailure,
	}, a.Logger)
}

// pipeline wires providers, store, locker and notifier into an engine.
func (a *App) pipeline(ctx context.Context, requireDB bool) (*engine.Engine, *backend, error) {
	b, err := a.openBackend(ctx, requireDB)
	if err != nil {
		return nil, nil, err
	}
	manager, err := a.newManager(b.store)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return a.newEngine(manager, b, a.newNotifier()), b, nil
}

// Run acquires and computes a single date, today (UTC) when date is zero.
func (a *App) Run(ctx context.Context, date time.Time) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if date.IsZero() {
		date = time.Now().UTC()
	}
	eng, b, err := a.pipeline(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := eng.RunDate(ctx, date)
	a.printResults([]engine.Result{res})
	return err
}

// Compute recomputes one date from its persisted raw quote.
func (a *App) Compute(ctx context.Context, date time.Time) error {
	b, err := a.openBackend(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	eng := a.newEngine(nil, b, a.newNotifier())
	res, err := eng.ComputeDate(ctx, date)
	a.printResults([]engine.Result{res})
	return err
}

// Repair recomputes every persisted date in [from, to] in order.
func (a *App) Repair(ctx context.Context, from, to time.Time) error {
	b, err := a.openBackend(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	eng := a.newEngine(nil, b, a.newNotifier())
	results, err := eng.Repair(ctx, from, to)
	if err != nil {
		return err
	}
	a.printResults(results)
	return a.summarize("repair", results)
}

// Migrate applies or rolls back the schema.
func (a *App) Migrate(ctx context.Context, direction storage.MigrateDirection) error {
	if a.Config.Database.DSN == "" {
		return ErrDatabaseRequired
	}
	if err := storage.Migrate(ctx, a.Config.Database.DSN, direction); err != nil {
		return err
	}
	a.Logger.Info().Str("direction", string(direction)).Msg("migrations applied")
	return nil
}

func (a *App) summarize(job string, results []engine.Result) error {
	processed, failed := engine.Summarize(results)
	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg(job + " finished")
	if failed > 0 {
		return fmt.Errorf("%s: %d of %d dates failed, see logs", job, failed, len(results))
	}
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Date   time.Time
	Latest bool
	JSON   bool
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From        time.Time
	To          time.Time
	DryRun      bool
	MissingOnly bool
	Workers     int
}
