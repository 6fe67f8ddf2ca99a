// Package game parses game command flags and starts the game runtime.
package game

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/bingohall/internal/platform/cmd"
	gameserver "github.com/louisbranch/bingohall/internal/services/game/server"
)

// Config holds game command configuration.
type Config struct {
	Port        int           `env:"BINGOHALL_GAME_PORT" envDefault:"8080"`
	HealthPort  int           `env:"BINGOHALL_GAME_HEALTH_PORT" envDefault:"8081"`
	DBPath      string        `env:"BINGOHALL_GAME_DB_PATH" envDefault:"data/game.db"`
	FastDBPath  string        `env:"BINGOHALL_FAST_DB_PATH" envDefault:"data/fast.db"`
	NATSURL     string        `env:"BINGOHALL_NATS_URL"`
	StakeCents  int64         `env:"BINGOHALL_STAKE_CENTS" envDefault:"500"`
	SweepPeriod time.Duration `env:"BINGOHALL_FAST_SWEEP_PERIOD" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The websocket gateway port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The game SQLite database path")
	fs.StringVar(&cfg.FastDBPath, "fast-db-path", cfg.FastDBPath, "The shared fast store path")
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "The NATS server URL (empty for single-instance mode)")
	fs.Int64Var(&cfg.StakeCents, "stake-cents", cfg.StakeCents, "Per-card stake in cents")
	fs.DurationVar(&cfg.SweepPeriod, "sweep-period", cfg.SweepPeriod, "Expired fast-store key sweep period")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the game service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(context.Context) error {
		return gameserver.Run(ctx, gameserver.Config{
			Port:        cfg.Port,
			HealthPort:  cfg.HealthPort,
			DBPath:      cfg.DBPath,
			FastDBPath:  cfg.FastDBPath,
			NATSURL:     cfg.NATSURL,
			StakeCents:  cfg.StakeCents,
			SweepPeriod: cfg.SweepPeriod,
		})
	})
}
