package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjannette/tulipbot/internal/api"
	"github.com/kjannette/tulipbot/internal/bot"
	"github.com/kjannette/tulipbot/internal/config"
	"github.com/kjannette/tulipbot/internal/db"
	"github.com/kjannette/tulipbot/internal/external"
	"github.com/kjannette/tulipbot/internal/notifications"
	"github.com/kjannette/tulipbot/internal/oracle"
	"github.com/kjannette/tulipbot/internal/postmortem"
	"github.com/kjannette/tulipbot/internal/reconcile"
	"github.com/kjannette/tulipbot/internal/repository"
	"github.com/kjannette/tulipbot/internal/scheduler"
	"github.com/kjannette/tulipbot/internal/settlement"
)

const banner = `
╔══════════════════════════════════════╗
║        tulipbot settlement agent     ║
║                                      ║
╚══════════════════════════════════════╝
`

type storage struct {
	ledger  repository.Ledger
	history repository.PriceHistory
	ping    func(ctx context.Context) error
	close   func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.DBDriver == "postgres" {
		slog.Info("connecting", "component", "db", "host", cfg.DBHost, "port", cfg.DBPort, "name", cfg.DBName)
		pool, err := db.Connect(cfg.DSN())
		if err != nil {
			return nil, err
		}
		if err := db.TestConnection(pool); err != nil {
			pool.Close()
			return nil, err
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &storage{
			ledger:  repository.NewPGLedger(pool),
			history: repository.NewPGPriceHistory(pool),
			ping:    pool.Ping,
			close:   pool.Close,
		}, nil
	}

	slog.Info("opening", "component", "db", "path", cfg.SQLitePath)
	conn, err := db.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &storage{
		ledger:  repository.NewSQLiteLedger(conn),
		history: repository.NewSQLitePriceHistory(conn),
		ping:    conn.PingContext,
		close:   func() { conn.Close() },
	}, nil
}

// withRedis fronts history reads with redis when REDIS_URL is set. A
// missing or unreachable redis only disables the cache.
func withRedis(ctx context.Context, cfg *config.Config, history repository.PriceHistory) (repository.PriceHistory, func()) {
	if cfg.RedisURL == "" {
		return history, func() {}
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Warn("invalid REDIS_URL, history cache disabled", "component", "redis", "err", err)
		return history, func() {}
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, history cache disabled", "component", "redis", "err", err)
		rdb.Close()
		return history, func() {}
	}
	slog.Info("price history cache enabled", "component", "redis")
	return repository.NewCachedPriceHistory(history, rdb, time.Minute), func() { rdb.Close() }
}

func main() {
	fmt.Print(banner)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := openStorage(ctx, cfg)
	if err != nil {
		slog.Error("storage failed", "component", "db", "err", err)
		os.Exit(1)
	}
	defer func() {
		store.close()
		slog.Info("storage closed", "component", "db")
	}()
	history, closeRedis := withRedis(ctx, cfg, store.history)
	defer closeRedis()

	// Game session
	game := external.NewKoLClient(cfg.BaseURL, cfg.Username, cfg.Password, cfg.APIFor)
	loginCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = game.LogIn(loginCtx)
	cancel()
	if err != nil {
		slog.Error("login failed", "component", "game", "err", err)
		os.Exit(1)
	}
	slog.Info("logged in", "component", "game", "player_id", game.PlayerID())

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)
	dumps := postmortem.NewWriter(cfg.PostmortemDir)

	if err := bot.SyncProfile(ctx, game); err != nil {
		slog.Warn("profile quote sync failed", "component", "profile", "err", err)
	}

	// Startup diagnostic
	if _, err := reconcile.New(store.ledger, game, notify).Reconcile(ctx); err != nil {
		slog.Warn("inventory check failed", "component", "reconcile", "err", err)
	}

	// Price oracle and settlement engine
	cache := oracle.NewCache()
	schedule := oracle.Schedule{
		Period:  time.Duration(cfg.PriceCheckPeriodMinutes) * time.Minute,
		Offsets: cfg.PriceCheckOffsets(),
		Window:  time.Duration(cfg.PriceCheckWindowSeconds) * time.Second,
	}
	prices := oracle.New(cache, game, history, schedule, dumps)
	hub := api.NewPriceHub()
	prices.Subscribe(hub.Publish)

	executor := settlement.NewExecutor(game, dumps)
	engine := settlement.NewEngine(prices, store.ledger, executor, settlement.NewSettler(store.ledger, game))

	// 1. API server
	cycles := scheduler.NewCycleScheduler(engine, scheduler.CycleSchedulerConfig{
		Interval: cfg.CycleInterval(),
		OnReport: func(r *settlement.CycleReport) {
			if len(r.Unsettled) > 0 {
				notify.Alert(ctx, notifications.Warning,
					fmt.Sprintf("cycle %s sold %d entries that could not be credited", r.ID, len(r.Unsettled)))
			}
		},
	})
	srv := api.NewServer(api.Deps{
		History: history,
		Prices:  cache,
		Hub:     hub,
		Ping:    store.ping,
		Cycles:  cycles,
		Remind: func(ctx context.Context, text string) (int, error) {
			return bot.RemindHolders(ctx, store.ledger, game, text)
		},
		DBDriver: cfg.DBDriver,
	}, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "component", "api", "err", err)
			os.Exit(1)
		}
	}()

	// 2. Inbox
	handler := bot.NewHandler(store.ledger, game, cache, executor, notify, dumps, bot.HandlerConfig{
		MaxSellAt:     cfg.MaxSellAt,
		DefaultSellAt: cfg.DefaultSellAt,
	})
	inbox := bot.NewService(game, handler, cfg.InboxPollInterval())
	inbox.Start(ctx)

	// 3. Settlement cycles
	cycles.Start()

	notify.Alert(ctx, notifications.Info, "tulipbot started")
	slog.Info("all services started")

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down gracefully")

	cycles.Stop()
	inbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "component", "api", "err", err)
	}
	slog.Info("shutdown complete")
}
