package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, time.March, 14, 15, 9, 26, 0, time.UTC)
}

func seedLobby(t *testing.T, store *Store, roundID, gameTypeID string, stakeCents int64) domain.Round {
	t.Helper()

	round := domain.Round{
		ID:         roundID,
		GameTypeID: gameTypeID,
		StakeCents: stakeCents,
		CreatedAt:  testTime(t),
	}
	if err := store.CreateLobby(context.Background(), round); err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	return round
}

func seedPlayer(t *testing.T, store *Store, roundID, playerID string, mainCents, bonusCents int64) {
	t.Helper()

	ctx := context.Background()
	if err := store.Credit(ctx, playerID, mainCents, bonusCents); err != nil {
		t.Fatalf("credit wallet: %v", err)
	}
	err := store.UpsertPlayerSession(ctx, domain.PlayerSession{
		RoundID:  roundID,
		PlayerID: playerID,
		Status:   domain.ConnConnected,
	})
	if err != nil {
		t.Fatalf("upsert session: %v", err)
	}
}
