// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/bingohall/internal/platform/cmd"
	workerserver "github.com/louisbranch/bingohall/internal/services/worker/app"
)

// Config holds worker command configuration.
type Config struct {
	Port          int           `env:"BINGOHALL_WORKER_PORT" envDefault:"8089"`
	GameDBPath    string        `env:"BINGOHALL_GAME_DB_PATH" envDefault:"data/game.db"`
	FastDBPath    string        `env:"BINGOHALL_FAST_DB_PATH" envDefault:"data/fast.db"`
	WorkerDBPath  string        `env:"BINGOHALL_WORKER_DB_PATH" envDefault:"data/worker.db"`
	NATSURL       string        `env:"BINGOHALL_NATS_URL"`
	Consumer      string        `env:"BINGOHALL_WORKER_CONSUMER" envDefault:"bingohall-worker"`
	PollInterval  time.Duration `env:"BINGOHALL_WORKER_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL      time.Duration `env:"BINGOHALL_WORKER_LEASE_TTL" envDefault:"30s"`
	BatchSize     int           `env:"BINGOHALL_WORKER_BATCH_SIZE" envDefault:"16"`
	MaxAttempts   int           `env:"BINGOHALL_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"BINGOHALL_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"BINGOHALL_WORKER_RETRY_MAX_DELAY" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.GameDBPath, "game-db-path", cfg.GameDBPath, "The game SQLite database path")
	fs.StringVar(&cfg.FastDBPath, "fast-db-path", cfg.FastDBPath, "The shared fast store path")
	fs.StringVar(&cfg.WorkerDBPath, "db-path", cfg.WorkerDBPath, "The worker SQLite database path")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "The NATS server URL (empty disables broadcasts)")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Job queue consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Job queue poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Job lease duration")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Jobs leased per poll")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum processing attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Port:          cfg.Port,
			GameDBPath:    cfg.GameDBPath,
			FastDBPath:    cfg.FastDBPath,
			WorkerDBPath:  cfg.WorkerDBPath,
			NATSURL:       cfg.NATSURL,
			Consumer:      cfg.Consumer,
			PollInterval:  cfg.PollInterval,
			LeaseTTL:      cfg.LeaseTTL,
			BatchSize:     cfg.BatchSize,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			RetryMaxDelay: cfg.RetryMaxDelay,
		})
	})
}
