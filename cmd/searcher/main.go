// Command searcher serves term queries over an inverted index of zip archive
// listings.
//
// On start it restores the index from its snapshot, or ingests the listing
// and writes a fresh snapshot, then answers POST /search and the
// /api/v1 routes. Redis, PostgreSQL and Kafka are optional: when enabled
// they add a query cache, a build history and rebuild fan-out.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml] [-env .env]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/buildlog"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/redis"
)

const limiterIdle = 10 * time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env variables file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

// run owns every resource the service opens and releases them all before
// returning, on success or failure.
func run(cfg *config.Config) error {

	host, _ := os.Hostname()
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"source", cfg.Index.SourcePath,
		"snapshot_backend", cfg.Snapshot.Backend,
		"host", host,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := snapshot.NewStore(cfg.Snapshot)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	engine := indexer.NewEngine(cfg.Index, store, m)
	defer engine.Close()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		status := engine.Status()
		if !status.Ready {
			return health.ComponentHealth{Status: health.StatusDown, Message: "index not loaded"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d docs", status.Generation, status.Stats.Docs),
		}
	})

	var history *buildlog.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, build history disabled", "error", err)
		} else {
			defer db.Close()
			history = buildlog.NewStore(db.DB, host)
			if err := history.EnsureSchema(ctx); err != nil {
				slog.Warn("build history schema setup failed", "error", err)
				history = nil
			} else {
				engine.SetBuildRecorder(history)
				checker.Register("postgres", health.PingCheck(db.Ping, true))
				slog.Info("build history enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
			}
		}
	}

	var rebuildConsumer *consumer.RebuildConsumer
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexRebuilt)
		defer producer.Close()
		engine.SetNotifier(events.NewPublisher(producer, host, m))

		// Each replica reads every rebuild request, so each gets its own group.
		consumerCfg := cfg.Kafka
		consumerCfg.ConsumerGroup = fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, host)
		kafkaConsumer := kafka.NewConsumer(consumerCfg, cfg.Kafka.Topics.RebuildRequests, consumer.HandleMessage(engine, host))
		rebuildConsumer = consumer.New(kafkaConsumer)
		defer rebuildConsumer.Close()
		slog.Info("kafka enabled",
			"announce_topic", cfg.Kafka.Topics.IndexRebuilt,
			"request_topic", cfg.Kafka.Topics.RebuildRequests,
			"group", consumerCfg.ConsumerGroup,
		)
	}

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
			checker.Register("redis", health.PingCheck(redisClient.Ping, true))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	h := handler.New(engine, queryCache, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)
	if history != nil {
		h.SetBuildHistory(history)
	}
	if len(cfg.Server.AdminKeyHashes) > 0 {
		h.SetAdminGuard(middleware.RequireKey(cfg.Server.AdminKeyHashes))
		slog.Info("admin routes require an api key", "keys", len(cfg.Server.AdminKeyHashes))
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Server.DashboardDir != "" {
		mux.Handle("GET /dashboard/", http.StripPrefix("/dashboard/", http.FileServer(http.Dir(cfg.Server.DashboardDir))))
		slog.Info("serving dashboard", "dir", cfg.Server.DashboardDir)
	}

	var limiter *middleware.Limiter
	var chain http.Handler = mux
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewLimiter(cfg.RateLimit, limiterIdle)
		chain = middleware.RateLimit(limiter, m)(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		if err := engine.Start(gctx); err != nil {
			return fmt.Errorf("loading index: %w", err)
		}
		slog.Info("index ready", "duration_s", fmt.Sprintf("%.2f", time.Since(start).Seconds()))
		engine.Warmup(gctx, cfg.Index.WarmupTerms)
		return nil
	})

	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if rebuildConsumer != nil {
		g.Go(func() error {
			if err := rebuildConsumer.Start(gctx); err != nil && gctx.Err() == nil {
				slog.Error("rebuild consumer stopped", "error", err)
			}
			return nil
		})
	}

	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(limiterIdle)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					if n := limiter.Sweep(now); n > 0 {
						slog.Debug("rate limiter buckets swept", "removed", n)
					}
				}
			}
		})
	}

	return g.Wait()
}
