package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cptrack/internal/api"
	"cptrack/internal/codeforces"
	"cptrack/internal/config"
	"cptrack/internal/connectivity"
	"cptrack/internal/cpsync"
	"cptrack/internal/database"
	"cptrack/internal/domain"
	"cptrack/internal/logging"
	"cptrack/internal/metrics"
	"cptrack/internal/repository"
	"cptrack/internal/scheduler"
	"cptrack/internal/syncqueue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const cachePurgeSchedule = "*/10 * * * *"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	memCache := repository.NewMemoryCache()
	cache, deadLetter := initCache(cfg, redisClient, memCache, &logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	opts := syncqueue.Options{
		Policy: syncqueue.RetryPolicy{
			MaxRetries:    cfg.Sync.MaxRetries,
			InitialDelay:  cfg.Sync.InitialDelay,
			MaxDelay:      cfg.Sync.MaxDelay,
			BackoffFactor: cfg.Sync.BackoffFactor,
		},
		HandlerTimeout: cfg.Sync.HandlerTimeout,
		PollInterval:   cfg.Sync.PollInterval,
		// The monitor's first probe decides whether the queue may drain.
		StartOffline: true,
		Recorder:     m,
		Logger:       &logger,
	}
	if cfg.Sync.Journal {
		opts.Journal = db
	}
	if deadLetter != nil {
		opts.DeadLetter = deadLetter
	}
	queue := syncqueue.NewManager(opts)
	defer queue.OnStatusChange(m.ObserveStatus)()

	cf := codeforces.NewClient(cfg.Codeforces, cache, &logger)
	cpsync.NewHandlers(cf, db, &logger).Register(queue)

	restored, err := queue.Restore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("restore sync queue")
		return err
	}
	logger.Info().Int("operations", restored).Msg("sync queue restored")

	queue.Start(ctx)
	defer queue.Stop()

	sched, err := initScheduler(cfg, db, queue, memCache, &logger)
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(cfg.Connectivity, queue.SetOnline, &logger)

	var dlReader domain.DeadLetterReader
	if deadLetter != nil {
		dlReader = deadLetter
	}
	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Queue:       queue,
		Store:       db,
		DeadLetters: dlReader,
		Metrics:     m,
		Logger:      &logger,
		ExportDir:   cfg.Exports.Path,
	})

	return serve(ctx, cfg, monitor, sched, httpServer, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initCache prefers Redis with the in-process cache as fallback. Without
// Redis there is no dead-letter list.
func initCache(
	cfg *config.Config,
	client *redis.Client,
	mem *repository.MemoryCache,
	logger *zerolog.Logger,
) (domain.Cache, *repository.RedisDeadLetter) {
	if client == nil {
		return mem, nil
	}
	primary := repository.NewRedisCache(client, cfg.Redis.KeyPrefix)
	cache := repository.NewFailoverCache(primary, mem, cfg.Redis.RecoverAfter, logging.Component(logger, "cache"))
	return cache, repository.NewRedisDeadLetter(client, cfg.Redis.DeadLetterKey)
}

func initScheduler(
	cfg *config.Config,
	db *database.DB,
	queue *syncqueue.Manager,
	mem *repository.MemoryCache,
	logger *zerolog.Logger,
) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled && !cfg.Database.Backup.Enabled {
		return nil, nil
	}

	sched, err := scheduler.New(cfg.Scheduler, queue, db, logger)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	if cfg.Database.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Database.Path, cfg.Database.Backup, logging.Component(logger, "backup"))
		if err := sched.AddJob("backup", cfg.Database.Backup.Schedule, backups); err != nil {
			return nil, err
		}
	}

	if err := sched.AddJob("cache_purge", cachePurgeSchedule, scheduler.JobFunc(func(context.Context) {
		if n := mem.Purge(); n > 0 {
			logger.Debug().Int("entries", n).Msg("expired cache entries purged")
		}
	})); err != nil {
		return nil, err
	}
	return sched, nil
}

func serve(
	ctx context.Context,
	cfg *config.Config,
	monitor *connectivity.Monitor,
	sched *scheduler.Scheduler,
	httpServer *api.HTTPServer,
	logger *zerolog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(gctx) })

	if sched != nil {
		sched.Start(gctx)
		defer sched.Stop()
	}

	if cfg.API.Enabled {
		g.Go(httpServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error { return startMetricsServer(gctx, cfg.Monitoring.PrometheusPort, logger) })
	}

	logger.Info().Bool("api", cfg.API.Enabled).Int("http_port", cfg.API.Port).Msg("cptrack started")

	err := g.Wait()
	logger.Info().Msg("cptrack stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
