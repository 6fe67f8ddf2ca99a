package game

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.StakeCents != 500 {
		t.Fatalf("expected default stake 500, got %d", cfg.StakeCents)
	}
	if cfg.SweepPeriod != 30*time.Second {
		t.Fatalf("expected default sweep period 30s, got %v", cfg.SweepPeriod)
	}
	if cfg.NATSURL != "" {
		t.Fatalf("expected empty nats url, got %q", cfg.NATSURL)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	t.Setenv("BINGOHALL_GAME_PORT", "9001")

	cfg, err := ParseConfig(fs, []string{"-stake-cents", "1000", "-nats-url", "nats://localhost:4222"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", cfg.Port)
	}
	if cfg.StakeCents != 1000 {
		t.Fatalf("expected stake 1000, got %d", cfg.StakeCents)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Fatalf("expected nats url override, got %q", cfg.NATSURL)
	}
}
