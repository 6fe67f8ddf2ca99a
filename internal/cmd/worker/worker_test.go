package worker

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	t.Setenv("BINGOHALL_WORKER_PORT", "9099")
	t.Setenv("BINGOHALL_GAME_DB_PATH", "tmp/game.db")

	cfg, err := ParseConfig(fs, []string{"-consumer", "worker-e2e", "-max-attempts", "3"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9099 {
		t.Fatalf("port = %d, want 9099", cfg.Port)
	}
	if cfg.GameDBPath != "tmp/game.db" {
		t.Fatalf("game db path = %q, want %q", cfg.GameDBPath, "tmp/game.db")
	}
	if cfg.Consumer != "worker-e2e" {
		t.Fatalf("consumer = %q, want %q", cfg.Consumer, "worker-e2e")
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Consumer != "bingohall-worker" {
		t.Fatalf("consumer = %q, want %q", cfg.Consumer, "bingohall-worker")
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.LeaseTTL != 30*time.Second {
		t.Fatalf("lease ttl = %v, want 30s", cfg.LeaseTTL)
	}
	if cfg.RetryMaxDelay != 5*time.Minute {
		t.Fatalf("retry max delay = %v, want 5m", cfg.RetryMaxDelay)
	}
}
