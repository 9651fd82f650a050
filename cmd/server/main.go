package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ajith4Tech/rforum/internal/adapter/httpserver"
	"github.com/ajith4Tech/rforum/internal/adapter/membus"
	"github.com/ajith4Tech/rforum/internal/adapter/metrics"
	"github.com/ajith4Tech/rforum/internal/adapter/postgres"
	"github.com/ajith4Tech/rforum/internal/adapter/redis"
	"github.com/ajith4Tech/rforum/internal/domain"
	"github.com/ajith4Tech/rforum/internal/fanout"
	"github.com/ajith4Tech/rforum/internal/platform/config"
	"github.com/ajith4Tech/rforum/internal/platform/logging"
	"github.com/ajith4Tech/rforum/internal/platform/version"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// busStack is the bus plus whatever backs it.
type busStack struct {
	bus       domain.Bus
	rdb       *goredis.Client
	redisBus  *redis.Bus
	instances *redis.InstanceRegistry
}

func (b busStack) close() {
	if b.redisBus != nil {
		if err := b.redisBus.Close(); err != nil {
			slog.Error("Failed to close Redis bus", "error", err)
		}
	}
	if b.rdb != nil {
		if err := b.rdb.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBus(cfg *config.Config, reg prometheus.Registerer, origin fanout.Origin, clock clockwork.Clock) busStack {
	if cfg.BusDriver == config.BusDriverMemory {
		slog.Warn("Using in-process bus; messages will not reach other processes")
		return busStack{bus: membus.NewBroker().Client()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	rdb, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	redisBus := redis.NewBus(rdb)
	return busStack{
		bus:       redisBus,
		rdb:       rdb,
		redisBus:  redisBus,
		instances: redis.NewInstanceRegistry(rdb, origin.String(), cfg.InstanceHeartbeat, version.Version, clock),
	}
}

func setupDB(cfg *config.Config, reg prometheus.Registerer) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL not set; session codes are not checked against the store")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, metrics.NewDBMetrics(reg))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func healthChecks(stack busStack, pool *pgxpool.Pool) []httpserver.HealthCheck {
	var checks []httpserver.HealthCheck
	if stack.rdb != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return stack.rdb.Ping(ctx).Err() },
		})
	}
	if pool != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "postgres",
			Check: pool.Ping,
		})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, hub *fanout.Hub, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			slog.Error("Hub shutdown error", "error", err)
		}
		stopBackground()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	origin := fanout.NewOrigin(cfg.InstanceName)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"bus", cfg.BusDriver,
		"origin", origin.String(),
		"version", version.Version,
	)

	reg := metrics.NewRegistry()
	fanoutMetrics := metrics.NewFanoutMetrics(reg)

	stack := setupBus(cfg, reg, origin, clock)
	defer stack.close()

	pool := setupDB(cfg, reg)
	var directory domain.ChannelDirectory
	if pool != nil {
		defer pool.Close()
		directory = postgres.NewChannelDirectory(pool)
	}

	hub := fanout.NewHub(
		fanout.NewRegistry(cfg.MaxConnectionsPerChannel),
		stack.bus,
		origin,
		fanoutMetrics,
		clock,
		fanout.Options{
			SendBuffer:      cfg.SendBufferSize,
			MaxMessageBytes: cfg.MaxMessageBytes,
		},
	)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup

	// Pass nil explicitly to avoid a typed-nil interface.
	var instances httpserver.InstanceLister
	if stack.instances != nil {
		instances = stack.instances
		background.Add(1)
		go func() {
			defer background.Done()
			stack.instances.Run(bgCtx, hub.ChannelCount)
		}()
	}

	srv := httpserver.NewServer(cfg, hub, directory, instances, reg, fanoutMetrics, healthChecks(stack, pool))

	done := runGracefulShutdown(srv, hub, stopBackground)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	background.Wait()
	slog.Info("Shutdown complete")
}
