package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/export"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/handler"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/query"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/health"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/logger"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/middleware"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/postgres"
	pkgredis "github.com/zambia-civic-lab/orderpaper-miner/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting searcher service", "port", cfg.Server.Port, "num_shards", cfg.Store.NumShards)

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var durable store.Durable
	var pgClient *postgres.Client
	if cfg.Postgres.Enabled {
		pgClient, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pgClient.Close()
		pg, err := store.NewPostgresStore(ctx, pgClient)
		if err != nil {
			slog.Error("postgres store init failed", "error", err)
			os.Exit(1)
		}
		durable = pg
	}

	st := store.New(cfg.Store.NumShards, durable, m)
	if durable != nil {
		loaded, err := st.LoadFromDurable(ctx)
		if err != nil {
			slog.Error("loading from postgres failed", "error", err)
			os.Exit(1)
		}
		slog.Info("store loaded", "source", "postgres", "questions", loaded)
	} else if path, ok := store.LatestSnapshot(cfg.Store.DataDir); ok {
		loaded, err := st.LoadFromSnapshot(path)
		if err != nil {
			slog.Error("loading snapshot failed", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("store loaded", "source", "snapshot", "questions", loaded)
	}

	if cfg.Store.SnapshotInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Store.SnapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := st.Snapshot(cfg.Store.DataDir); err != nil {
						slog.Error("periodic snapshot failed", "error", err)
					}
				}
			}
		}()
	}

	var queryCache *query.Cache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = query.NewCache(redisClient, cfg.Redis, m)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	engine := query.NewEngine(st, cfg.Query, m)
	exporter := export.New(cfg.Export, m)

	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		if st.WritesBlocked() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "writes blocked pending index rebuild"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d questions", st.Count())}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if pgClient != nil {
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pgClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	h := handler.New(st, engine, queryCache, exporter, m)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("searcher listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("searcher stopped")
}
