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

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/gatortaxi/internal/command"
	"github.com/example/gatortaxi/internal/config"
	ratelimitmw "github.com/example/gatortaxi/internal/http/middleware"
	"github.com/example/gatortaxi/internal/ride/domain"
	"github.com/example/gatortaxi/internal/ride/events"
	"github.com/example/gatortaxi/internal/ride/handler"
	"github.com/example/gatortaxi/internal/ride/idempotency"
	"github.com/example/gatortaxi/internal/ride/manager"
	"github.com/example/gatortaxi/pkg/observability"
)

const usage = "usage: gatortaxi <input-file> | gatortaxi serve"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := observability.SetupLogger("gatortaxi", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	if cfg.TraceEnabled {
		shutdown, err := observability.SetupTracer(ctx, "gatortaxi", os.Stderr)
		if err != nil {
			logger.Warn("tracer setup failed", zap.Error(err))
		} else {
			defer shutdown(context.Background()) //nolint:errcheck
		}
	}

	redisClient := connectRedis(ctx, cfg, logger)
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	publisher, journal, closeEvents := buildPublisher(cfg, redisClient, logger)
	defer closeEvents()

	mgr := manager.New(manager.Config{Capacity: cfg.Capacity}, publisher, domain.SystemClock{}, logger.Named("manager"))

	var err error
	if os.Args[1] == "serve" {
		err = serve(ctx, cfg, mgr, httpDeps(cfg, redisClient, journal, logger))
	} else {
		err = runFile(ctx, cfg, mgr, logger, os.Args[1])
	}
	if err != nil {
		logger.Error("gatortaxi failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func runFile(ctx context.Context, cfg config.Config, mgr *manager.Manager, logger *zap.Logger, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	runner := command.NewRunner(mgr, command.Config{HaltOnDuplicate: cfg.HaltOnDuplicate}, logger.Named("runner"))
	summary, err := runner.Run(ctx, in, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close output: %w", closeErr)
	}
	if err != nil {
		return err
	}
	logger.Info("output written",
		zap.String("path", cfg.OutputFile),
		zap.String("run_id", summary.RunID),
		zap.Int("active_rides", mgr.Len()),
	)
	return nil
}

// httpDeps picks Redis-backed rate limiting and idempotency when Redis is
// reachable. Without Redis, retries are still deduplicated in process.
func httpDeps(cfg config.Config, client *redis.Client, journal *events.RedisJournal, logger *zap.Logger) handler.Config {
	deps := handler.Config{
		JWTSecret:   cfg.JWTSecret,
		Idempotency: idempotency.NewMemoryStore(),
		Logger:      logger.Named("http"),
	}
	if client != nil {
		deps.Idempotency = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
		deps.Limiter = ratelimitmw.NewRateLimiter(client,
			ratelimitmw.Bucket{Rate: cfg.ReadRPS, Burst: cfg.ReadBurst},
			ratelimitmw.Bucket{Rate: cfg.WriteRPS, Burst: cfg.WriteBurst},
			logger.Named("ratelimit"),
		)
	}
	if journal != nil {
		deps.Journal = journal
	}
	return deps
}

func serve(ctx context.Context, cfg config.Config, mgr *manager.Manager, deps handler.Config) error {
	r := chi.NewRouter()
	r.Mount("/", handler.NewHTTP(mgr, deps).Router())
	r.Mount("/observability", observability.MetricsRouter(mgr.Len))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("ride dispatch listening",
			zap.String("addr", srv.Addr),
			zap.Bool("auth", cfg.JWTSecret != ""),
			zap.Bool("rate_limited", deps.Limiter != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, journal and rate limiting disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}

// buildPublisher wires the optional Redis journal and NATS publisher. Either
// may be absent; a failed NATS connection is logged and skipped.
func buildPublisher(cfg config.Config, client *redis.Client, logger *zap.Logger) (domain.EventPublisher, *events.RedisJournal, func()) {
	var (
		fan     events.Fanout
		journal *events.RedisJournal
		closers []func()
	)

	if client != nil {
		journal = events.NewRedisJournal(client, cfg.JournalKey, cfg.JournalMax)
		fan = append(fan, journal)
	}

	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("gatortaxi"))
		if err != nil {
			logger.Warn("nats connection failed, events disabled", zap.Error(err))
		} else {
			fan = append(fan, events.NewNATSPublisher(conn, cfg.EventsSubject))
			closers = append(closers, func() { _ = conn.Drain() })
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(fan) == 0 {
		return nil, nil, closeAll
	}
	return fan, journal, closeAll
}
