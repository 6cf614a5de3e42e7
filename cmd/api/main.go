// Account-pool scheduler API.
//
// This service owns a fixed pool of messaging-platform accounts, serializes
// checkout against them, and exposes admin-facing HTTP endpoints for pool
// status and manual stats-collection runs, plus an optional cron-driven
// periodic scan. The wire protocol to the messaging platform itself is not
// implemented here (see internal/rpcclient) — a real deployment supplies its
// own rpcclient.Factory.
//
// STARTUP SEQUENCE:
//  1. Load configuration from environment/.env/YAML
//  2. Initialize structured logging
//  3. Construct the BlobStore backend (local filesystem or Redis)
//  4. Build the Account roster and the checkout Pool
//  5. Wire the chat cache, Scanner and scan worker pool
//  6. Connect to the stats Postgres database
//  7. Construct admin-auth, metrics, and the optional cron scheduler
//  8. Configure Fiber and register routes
//  9. Start the pool session and the HTTP server
//  10. Handle graceful shutdown
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/leshchenko/tgpool/internal/account"
	"github.com/leshchenko/tgpool/internal/adminauth"
	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/chatcache"
	"github.com/leshchenko/tgpool/internal/config"
	"github.com/leshchenko/tgpool/internal/database"
	"github.com/leshchenko/tgpool/internal/handlers"
	"github.com/leshchenko/tgpool/internal/metrics"
	"github.com/leshchenko/tgpool/internal/middleware"
	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/rpcclient"
	"github.com/leshchenko/tgpool/internal/scanner"
	"github.com/leshchenko/tgpool/internal/scheduler"
	"github.com/leshchenko/tgpool/internal/statsdb"
	"github.com/leshchenko/tgpool/internal/workers"
)

func main() {
	// PHASE 1: CONFIGURATION AND LOGGING SETUP
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	// PHASE 2: BLOB STORE SETUP
	store, err := newBlobStore(cfg.Store)
	if err != nil {
		log.Fatal("failed to construct blob store: ", err)
	}

	// PHASE 3: ACCOUNT ROSTER AND POOL
	accounts, err := buildAccounts(store, cfg.Telegram)
	if err != nil {
		log.Fatal("failed to build account roster: ", err)
	}

	p, err := pool.New(accounts, store, pool.InvalidPolicy(cfg.Telegram.InvalidPolicy), pool.Options{
		MaxWait: time.Duration(cfg.Telegram.MaxAccWaitingTime) * time.Second,
	})
	if err != nil {
		log.Fatal("failed to construct pool: ", err)
	}

	// PHASE 4: CHAT CACHE, SCANNER, SCAN WORKER POOL
	cache := chatcache.New(store)
	sc := scanner.New(p, cache)

	workerPool := workers.New(workers.Config{MinWorkers: 2, MaxWorkers: 10})

	// PHASE 5: STATS DATABASE
	slog.Info("connecting to stats database")
	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to connect to stats database", "error", err)
		log.Fatal(err)
	}
	defer db.Close()

	statsStore := statsdb.New(db, statsdb.Config{
		ChannelsTable: cfg.Database.ChannelsTable,
		StatsTable:    cfg.Database.StatsTable,
		MsgsTable:     cfg.Database.MsgsTable,
	})

	// PHASE 6: ADMIN AUTH AND METRICS
	authSvc, err := adminauth.New(cfg.Admin.Token)
	if err != nil {
		log.Fatal("failed to construct admin auth service: ", err)
	}

	registry := metrics.NewRegistry()
	p.SetObserver(registry)
	metricsTicker := time.NewTicker(10 * time.Second)
	metricsDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-metricsTicker.C:
				registry.SamplePool(p)
			case <-metricsDone:
				return
			}
		}
	}()

	// PHASE 7: OPTIONAL CRON SCHEDULER
	var sched *scheduler.Scheduler
	if cfg.Scheduler.CronExpr != "" {
		depth, err := time.ParseDuration(cfg.Scheduler.Depth)
		if err != nil && cfg.Scheduler.Depth != "" {
			slog.Warn("scheduler: invalid depth, scanning unbounded history", "depth", cfg.Scheduler.Depth, "error", err)
		}
		sched = scheduler.New(sc, statsStore, scheduler.Job{
			Channels: cfg.Scheduler.Channels,
			Parallel: cfg.Scheduler.Parallel,
			Depth:    depth,
		})
		if err := sched.Start(context.Background(), cfg.Scheduler.CronExpr); err != nil {
			log.Fatal("failed to start scheduler: ", err)
		}
		slog.Info("scheduler: started", "cron", cfg.Scheduler.CronExpr, "next_run", scheduler.NextRun(cfg.Scheduler.CronExpr))
	}

	// PHASE 8: HANDLERS
	healthHandler := handlers.NewHealthHandler(p, workerPool)
	adminHandler := handlers.NewAdminHandler(p, sc, workerPool, statsStore)

	// PHASE 9: FIBER WEB SERVER CONFIGURATION
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorHandler: middleware.ErrorHandler(),
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.HandleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	admin := app.Group("/admin", middleware.AdminAuth(authSvc))
	admin.Get("/status", adminHandler.HandleStatus)
	admin.Post("/scan", adminHandler.HandleTriggerScan)

	// PHASE 10: START THE POOL SESSION
	// The pool session runs for the lifetime of the process; the HTTP server
	// and scheduler both drive checkout through it via sc/p.
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	sessionErrCh := make(chan error, 1)
	go func() {
		sessionErrCh <- p.Session(sessionCtx, nil, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	// PHASE 11: GRACEFUL SHUTDOWN HANDLING
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		slog.Info("shutting down")

		if sched != nil {
			sched.Stop()
		}
		close(metricsDone)
		metricsTicker.Stop()

		workerPool.Shutdown()
		sessionCancel()
		<-sessionErrCh

		if err := app.Shutdown(); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	// PHASE 12: SERVER STARTUP
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting tgpool API server", "address", addr, "accounts", len(accounts))
	if err := app.Listen(addr); err != nil {
		slog.Error("server failed to start", "error", err)
		sessionCancel()
		workerPool.Shutdown()
		log.Fatal(err)
	}
}

// newBlobStore constructs the configured blobstore.Store backend.
func newBlobStore(cfg config.StoreConfig) (blobstore.Store, error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis blob store: %w", err)
		}
		slog.Info("blobstore: using redis backend", "prefix", cfg.RedisPrefix)
		return blobstore.NewRedis(client, cfg.RedisPrefix), nil
	default:
		slog.Info("blobstore: using local filesystem backend", "dir", cfg.LocalDir)
		return blobstore.NewLocal(cfg.LocalDir)
	}
}

// buildAccounts constructs one account.Account per configured phone number,
// or discovers the roster by globbing "*.session" in store when no explicit
// list is configured, matching the original Scanner's fallback.
func buildAccounts(store blobstore.Store, cfg config.TelegramConfig) (map[string]*account.Account, error) {
	phones := cfg.Phones
	if len(phones) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		keys, err := store.Glob(ctx, "*.session")
		if err != nil {
			return nil, fmt.Errorf("discovering session files: %w", err)
		}
		for _, key := range keys {
			phone := key[:len(key)-len(".session")]
			phones = append(phones, phone)
		}
		slog.Info("discovered accounts from session files", "count", len(phones))
	}

	accCfg := account.Config{APIID: cfg.APIID, APIHash: cfg.APIHash}
	accounts := make(map[string]*account.Account, len(phones))
	for _, phone := range phones {
		accounts[phone] = account.New(store, rpcclient.NotConfiguredFactory{}, accCfg, phone)
	}
	return accounts, nil
}

// CodeFunc/PasswordFunc are left nil above (see pool.Options): this build
// supports only accounts with an already-valid stored session. A deployment
// driving PolicyRevalidate for interactive (re)login supplies its own
// account.CodeFunc/PasswordFunc here, sourced from wherever it collects
// operator input (CLI prompt, admin endpoint, etc.).
