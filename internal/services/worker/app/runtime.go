package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/bingohall/internal/platform/broker"
	"github.com/louisbranch/bingohall/internal/platform/fastkv"
	gameapp "github.com/louisbranch/bingohall/internal/services/game/app"
	gamesqlite "github.com/louisbranch/bingohall/internal/services/game/storage/sqlite"
	workerstorage "github.com/louisbranch/bingohall/internal/services/worker/storage"
	workersqlite "github.com/louisbranch/bingohall/internal/services/worker/storage/sqlite"
)

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port          int
	GameDBPath    string
	FastDBPath    string
	WorkerDBPath  string
	NATSURL       string
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultWorkerPort = 8089
	defaultWorkerDB   = "data/worker.db"
)

// Run starts worker runtime dependencies and the background processing loop.
// The worker shares the game database and fast store with the game service;
// its own database only journals processing attempts.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.GameDBPath) == "" {
		cfg.GameDBPath = filepath.Join("data", "game.db")
	}
	if strings.TrimSpace(cfg.FastDBPath) == "" {
		cfg.FastDBPath = filepath.Join("data", "fast.db")
	}
	if strings.TrimSpace(cfg.WorkerDBPath) == "" {
		cfg.WorkerDBPath = defaultWorkerDB
	}

	for _, path := range []string{cfg.GameDBPath, cfg.FastDBPath, cfg.WorkerDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create worker storage dir: %w", err)
			}
		}
	}

	gameStore, err := gamesqlite.Open(cfg.GameDBPath)
	if err != nil {
		return fmt.Errorf("open game sqlite store: %w", err)
	}
	defer func() {
		if closeErr := gameStore.Close(); closeErr != nil {
			log.Printf("close game sqlite store: %v", closeErr)
		}
	}()

	fast, err := fastkv.Open(cfg.FastDBPath)
	if err != nil {
		return fmt.Errorf("open fast store: %w", err)
	}
	defer func() {
		if closeErr := fast.Close(); closeErr != nil {
			log.Printf("close fast store: %v", closeErr)
		}
	}()

	attemptStore, err := workersqlite.Open(cfg.WorkerDBPath)
	if err != nil {
		return fmt.Errorf("open worker sqlite store: %w", err)
	}
	defer func() {
		if closeErr := attemptStore.Close(); closeErr != nil {
			log.Printf("close worker sqlite store: %v", closeErr)
		}
	}()

	broadcaster := broker.NewBroadcaster(nil)
	if strings.TrimSpace(cfg.NATSURL) != "" {
		nc, err := broker.Connect(cfg.NATSURL, "bingohall-worker")
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer func() {
			if drainErr := nc.Drain(); drainErr != nil {
				log.Printf("drain broker connection: %v", drainErr)
			}
		}()
		broadcaster = broker.NewBroadcaster(nc)
	}

	engine, err := gameapp.New(gameapp.Stores{
		Rounds:   gameStore,
		Sessions: gameStore,
		Wallets:  gameStore,
		Ledger:   gameStore,
		Cards:    gameStore,
		Jobs:     gameStore,
		History:  gameStore,
	}, fast, broadcaster)
	if err != nil {
		return fmt.Errorf("build coordination engine: %w", err)
	}
	defer engine.Close()

	loopConfig := Config{
		Consumer:      cfg.Consumer,
		PollInterval:  cfg.PollInterval,
		LeaseTTL:      cfg.LeaseTTL,
		BatchSize:     cfg.BatchSize,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}
	normalizedLoopConfig := loopConfig.normalized()

	workerLoop, err := New(
		gameStore,
		engine,
		newAttemptStoreRecorder(attemptStore, normalizedLoopConfig.Consumer),
		normalizedLoopConfig,
		nil,
	)
	if err != nil {
		return fmt.Errorf("build worker loop: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("worker.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("worker server listening at %v", listener.Addr())
	return workerLoop.Run(ctx)
}

type attemptStoreRecorder struct {
	store    workerstorage.AttemptStore
	consumer string
}

func newAttemptStoreRecorder(store workerstorage.AttemptStore, consumer string) *attemptStoreRecorder {
	normalizedConsumer := strings.TrimSpace(consumer)
	if normalizedConsumer == "" {
		normalizedConsumer = defaultConsumer
	}
	return &attemptStoreRecorder{store: store, consumer: normalizedConsumer}
}

func (r *attemptStoreRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	if r == nil || r.store == nil {
		return nil
	}
	consumer := strings.TrimSpace(r.consumer)
	if consumer == "" {
		consumer = defaultConsumer
	}
	return r.store.RecordAttempt(ctx, workerstorage.AttemptRecord{
		JobID:        attempt.JobID,
		JobKind:      attempt.JobKind,
		Consumer:     consumer,
		Outcome:      attempt.Outcome,
		AttemptCount: attempt.AttemptCount,
		LastError:    attempt.Error,
		CreatedAt:    attempt.CreatedAt,
	})
}
