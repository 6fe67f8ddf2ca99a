// Package server boots the game service: durable store, shared fast store,
// broker, the websocket gateway, and a health endpoint.
package server

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
	gamews "github.com/louisbranch/bingohall/internal/services/game/api/ws"
	"github.com/louisbranch/bingohall/internal/services/game/app"
	gamesqlite "github.com/louisbranch/bingohall/internal/services/game/storage/sqlite"
)

// Config controls game service startup.
type Config struct {
	Port        int
	HealthPort  int
	DBPath      string
	FastDBPath  string
	NATSURL     string
	StakeCents  int64
	SweepPeriod time.Duration
}

// Run starts the game service and blocks until the context ends.
func Run(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "game.db")
	}
	if strings.TrimSpace(cfg.FastDBPath) == "" {
		cfg.FastDBPath = filepath.Join("data", "fast.db")
	}
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = 30 * time.Second
	}

	for _, path := range []string{cfg.DBPath, cfg.FastDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
		}
	}

	store, err := gamesqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open game sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close game store: %v", closeErr)
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

	gateway := gamews.NewGateway()

	var broadcaster *broker.Broadcaster
	if strings.TrimSpace(cfg.NATSURL) != "" {
		nc, err := broker.Connect(cfg.NATSURL, "bingohall-game")
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer func() {
			if drainErr := nc.Drain(); drainErr != nil {
				log.Printf("drain broker connection: %v", drainErr)
			}
		}()
		broadcaster = broker.NewBroadcaster(nc)
		gateway.RelayFrom(broadcaster)
	} else {
		// Single-instance mode: room events fan out in-process.
		broadcaster = broker.NewLocalBroadcaster(gateway.Deliver)
	}

	engine, err := app.New(app.Stores{
		Rounds:   store,
		Sessions: store,
		Wallets:  store,
		Ledger:   store,
		Cards:    store,
		Jobs:     store,
		History:  store,
	}, fast, broadcaster, app.WithStakeCents(cfg.StakeCents))
	if err != nil {
		return fmt.Errorf("build coordination engine: %w", err)
	}
	defer engine.Close()
	gateway.Attach(engine)

	// Sweep expired fast-store rows so dead locks and markers don't pile up.
	go func() {
		ticker := time.NewTicker(cfg.SweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fast.DeleteExpired(context.Background()); err != nil {
					log.Printf("sweep fast store: %v", err)
				}
			}
		}
	}()

	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	defer healthListener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("game.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	healthErr := make(chan error, 1)
	go func() {
		healthErr <- grpcServer.Serve(healthListener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-healthErr
	}()

	log.Printf("game server listening at :%d health=%v", cfg.Port, healthListener.Addr())
	return gateway.Serve(ctx, cfg.Port)
}
