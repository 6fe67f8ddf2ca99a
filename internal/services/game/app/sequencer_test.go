package app

import (
	"context"
	"strconv"
	"testing"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
)

func TestDrawNextAdvancesSequence(t *testing.T) {
	engine, store, fast, events := newTestApp(t)
	ctx := context.Background()

	roundID := startActiveRound(t, engine, store)
	events.reset()

	engine.drawNext(testGameType, roundID)

	encoded, found, err := fast.Get(ctx, keyDrawOrder(roundID))
	if err != nil || !found {
		t.Fatalf("draw order found=%t err=%v", found, err)
	}
	order, err := domain.DecodeDrawOrder(encoded)
	if err != nil {
		t.Fatalf("decode draw order: %v", err)
	}

	history, err := engine.DrawHistory(ctx, roundID)
	if err != nil {
		t.Fatalf("draw history: %v", err)
	}
	if len(history) != 1 || history[0] != order[0] {
		t.Fatalf("history = %v, want first call %d", history, order[0])
	}

	cursor, found, err := fast.Get(ctx, keyDrawCursor(roundID))
	if err != nil || !found {
		t.Fatalf("cursor found=%t err=%v", found, err)
	}
	if cursor != "1" {
		t.Fatalf("cursor = %s, want 1", cursor)
	}
	if !events.has(EventCall) {
		t.Fatalf("no %s event, got %v", EventCall, events.types())
	}

	engine.drawNext(testGameType, roundID)
	history, err = engine.DrawHistory(ctx, roundID)
	if err != nil {
		t.Fatalf("draw history: %v", err)
	}
	if len(history) != 2 || history[1] != order[1] {
		t.Fatalf("history = %v, want second call %d", history, order[1])
	}
}

func TestDrawNextExhaustionEndsRound(t *testing.T) {
	engine, store, fast, events := newTestApp(t)
	ctx := context.Background()

	roundID := startActiveRound(t, engine, store)
	events.reset()

	if err := fast.Set(ctx, keyDrawCursor(roundID), strconv.Itoa(domain.CallDomain), 0); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	engine.drawNext(testGameType, roundID)

	round, err := store.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.Active || round.EndedAt == nil {
		t.Fatalf("round = %+v, want ended", round)
	}
	if got := walletMain(t, store, "alice"); got != 2000 {
		t.Fatalf("alice balance = %d, want refunded 2000", got)
	}
	if !events.has(EventRoundEnded) || !events.has(EventLobbyOpened) {
		t.Fatalf("events = %v, want %s and %s", events.types(), EventRoundEnded, EventLobbyOpened)
	}
}

func TestDrawNextEmptyRoomEndsRound(t *testing.T) {
	engine, store, fast, events := newTestApp(t)
	ctx := context.Background()

	roundID := startActiveRound(t, engine, store)
	events.reset()

	if err := fast.SRem(ctx, keyLivePlayers(roundID), "alice"); err != nil {
		t.Fatalf("srem alice: %v", err)
	}
	if err := fast.SRem(ctx, keyLivePlayers(roundID), "bob"); err != nil {
		t.Fatalf("srem bob: %v", err)
	}

	engine.drawNext(testGameType, roundID)

	round, err := store.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.Active || round.EndedAt == nil {
		t.Fatalf("round = %+v, want ended", round)
	}
	if !events.has(EventRoundEnded) {
		t.Fatalf("no %s event, got %v", EventRoundEnded, events.types())
	}
}
