// Package main - точка входа для progressctl, операторской утилиты прогресса.
//
// progressctl работает с тем же локальным хранилищем и тем же сервером,
// что и клиент, и позволяет посмотреть, сверить и сбросить прогресс области:
//
//	progressctl scopes
//	progressctl modules  <scope>
//	progressctl summary  <scope>
//	progressctl complete <scope> <module>
//	progressctl reset    <scope>
//	progressctl migrate [down]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/learnpath/learnpath/config"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/session"
	"github.com/learnpath/learnpath/internal/domain/shared"
	progressclient "github.com/learnpath/learnpath/internal/infrastructure/external/progressapi"
	"github.com/learnpath/learnpath/internal/infrastructure/messaging"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/cache"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/postgres"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/redis"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/sqlite"
	"github.com/learnpath/learnpath/internal/interface/progressapi"
	"github.com/learnpath/learnpath/pkg/logger"
	"github.com/learnpath/learnpath/pkg/retry"
)

var errUsage = errors.New("usage: progressctl [-json] scopes|modules|summary|complete|reset|migrate <scope> [module]")

// scopeLister реализуют хранилища, умеющие перечислить свои ключи.
type scopeLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст, отменяемый по сигналу
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "progressctl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("progressctl", flag.ContinueOnError)
	asJSON := flags.Bool("json", false, "print results as JSON")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}
	args = flags.Args()
	if len(args) == 0 {
		return errUsage
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.Setup(logger.Options{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: os.Stderr,
	})
	log.Debug("starting progressctl",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("store", string(cfg.LocalStore.Backend)),
		slog.String("remote", string(cfg.Remote.Kind)))

	if args[0] == "migrate" {
		return migrate(ctx, cfg, log, len(args) > 1 && args[1] == "down")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ЛОКАЛЬНОЕ ХРАНИЛИЩЕ И СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if args[0] == "scopes" {
		return listScopes(ctx, store, out, *asJSON)
	}

	gateway, closeGateway, err := openGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewEventBus(messaging.Config{Synchronous: true, Logger: log})
	defer func() { _ = bus.Close() }()
	if err := bus.SubscribeAll(func(e shared.Event) error {
		log.Debug("event", slog.String("event_type", string(e.EventType())), logger.Scope(e.AggregateID()))
		return nil
	}); err != nil {
		return fmt.Errorf("subscribe event log: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. PROGRESS API
	// ─────────────────────────────────────────────────────────────────────────
	apiCfg := progressapi.DefaultConfig()
	apiCfg.Reconcile.FetchTimeout = cfg.Sync.FetchTimeout
	apiCfg.Reconcile.PushTimeout = cfg.Sync.PushTimeout
	apiCfg.Push.Retrier = retry.New(
		retry.WithMaxAttempts(len(cfg.Sync.PushRetrySteps)+1),
		retry.WithSchedule(cfg.Sync.PushRetrySteps...),
	)
	apiCfg.Calendar = cfg.App.Calendar
	apiCfg.XPPolicy = progress.XPPolicy{
		CardXP:  progress.XP(cfg.Session.CardXP),
		RetryXP: progress.XP(cfg.Session.RetryXP),
		TeachXP: progress.XP(cfg.Session.TeachXP),
	}
	apiCfg.RetryPolicy = session.AttemptLimit(cfg.Session.MaxAttempts)

	api, err := progressapi.New(progressapi.Dependencies{
		Cache:     cache.NewProgressCache(store),
		Gateway:   gateway,
		Publisher: bus,
		Logger:    log,
	}, apiCfg)
	if err != nil {
		return err
	}
	defer api.Close()

	return dispatch(ctx, api, args, out, *asJSON)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func dispatch(ctx context.Context, api *progressapi.API, args []string, out io.Writer, asJSON bool) error {
	if len(args) < 2 {
		return errUsage
	}
	scope := progress.ScopeFor(args[1])

	switch args[0] {
	case "modules":
		modules, err := api.GetCompletedModules(ctx, scope)
		if modules == nil && err != nil {
			return err
		}
		if asJSON {
			if encErr := writeJSON(out, modules); encErr != nil {
				return encErr
			}
		} else {
			for _, m := range modules {
				fmt.Fprintln(out, m)
			}
		}
		return err

	case "summary":
		summary, err := api.GetProgressSummary(ctx, scope)
		if err != nil && !errors.Is(err, shared.ErrMalformedSnapshot) {
			return err
		}
		if asJSON {
			if encErr := writeJSON(out, summary); encErr != nil {
				return encErr
			}
		} else {
			fmt.Fprintf(out, "scope:     %s\nxp:        %d\nlevel:     %d\nstreak:    %d\ncompleted: %d\n",
				summary.ScopeID, summary.XP, summary.Level, summary.Streak, summary.CompletedCount)
		}
		return err

	case "complete":
		if len(args) < 3 {
			return errUsage
		}
		if err := api.MarkModuleCompleted(ctx, args[2], scope); err != nil {
			return err
		}
		// Сразу сверяем, чтобы отправить отметку на сервер до выхода.
		res, err := api.Reconcile(ctx, scope)
		if res != nil {
			fmt.Fprintf(out, "%s: %s (%s)\n", scope, args[2], res.Outcome)
		}
		return err

	case "reset":
		if err := api.ResetProgress(ctx, scope); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: local progress cleared\n", scope)
		return nil

	default:
		return errUsage
	}
}

func listScopes(ctx context.Context, store progress.KVStore, out io.Writer, asJSON bool) error {
	lister, ok := store.(scopeLister)
	if !ok {
		return errors.New("local store cannot list scopes")
	}
	keys, err := lister.Keys(ctx, progress.CacheKeyPrefix)
	if err != nil {
		return fmt.Errorf("list scopes: %w", err)
	}

	scopes := make([]string, 0, len(keys))
	for _, k := range keys {
		scopes = append(scopes, strings.TrimPrefix(k, progress.CacheKeyPrefix))
	}
	if asJSON {
		return writeJSON(out, scopes)
	}
	for _, s := range scopes {
		fmt.Fprintln(out, s)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func openStore(ctx context.Context, cfg *config.Config) (progress.KVStore, func(), error) {
	switch cfg.LocalStore.Backend {
	case config.StoreMemory:
		return memory.NewStore(), func() {}, nil

	case config.StoreRedis:
		rc := redis.DefaultConfig()
		rc.URL = cfg.Redis.URL
		rc.Host = cfg.Redis.Host
		rc.Port = cfg.Redis.Port
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.KeyPrefix = cfg.Redis.KeyPrefix
		rc.PoolSize = cfg.Redis.PoolSize
		rc.DialTimeout = cfg.Redis.DialTimeout
		rc.ReadTimeout = cfg.Redis.ReadTimeout
		rc.WriteTimeout = cfg.Redis.WriteTimeout

		store, err := redis.NewStore(ctx, rc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	default:
		store, err := sqlite.Open(ctx, cfg.LocalStore.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func openGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (progress.RemoteGateway, func(), error) {
	switch cfg.Remote.Kind {
	case config.RemoteHTTP:
		cc := progressclient.DefaultClientConfig(cfg.Remote.BaseURL)
		cc.Token = cfg.Remote.Token
		cc.Timeout = cfg.Remote.RequestTimeout
		cc.RateLimiterConfig.RequestsPerSecond = cfg.Remote.RateLimit
		cc.RateLimiterConfig.BurstSize = cfg.Remote.RateLimitBurst
		cc.Logger = log
		return progressclient.NewClient(cc), func() {}, nil

	case config.RemotePostgres:
		conn, err := connectDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		return postgres.NewSnapshotRepository(conn, nil), conn.Close, nil

	default:
		return nil, func() {}, nil
	}
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	pc := postgres.DefaultConfig()
	pc.URL = cfg.Database.URL
	pc.MaxConns = cfg.Database.MaxConns
	pc.MinConns = cfg.Database.MinConns
	pc.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pc.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	conn, err := postgres.NewConnection(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

func migrate(ctx context.Context, cfg *config.Config, log *slog.Logger, down bool) error {
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	conn, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)
	if down {
		if err := migrator.Rollback(ctx); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
		log.Info("rolled back the latest migration")
		return nil
	}
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")
	return nil
}
