package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

func TestCreateLobbySecondOpenLobbyRejected(t *testing.T) {
	store := openTestStore(t)
	seedLobby(t, store, "round-1", "bingo-75", 500)

	err := store.CreateLobby(context.Background(), domain.Round{
		ID:         "round-2",
		GameTypeID: "bingo-75",
		StakeCents: 500,
		CreatedAt:  testTime(t),
	})
	if !errors.Is(err, storage.ErrOpenLobbyExists) {
		t.Fatalf("err = %v, want ErrOpenLobbyExists", err)
	}

	// A different game type gets its own lobby slot.
	err = store.CreateLobby(context.Background(), domain.Round{
		ID:         "round-3",
		GameTypeID: "bingo-90",
		StakeCents: 500,
		CreatedAt:  testTime(t),
	})
	if err != nil {
		t.Fatalf("create lobby for other game type: %v", err)
	}
}

func TestActivateRoundDeductsBonusFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedLobby(t, store, "round-1", "bingo-75", 500)
	seedPlayer(t, store, "round-1", "alice", 400, 300) // 2 cards cost 1000
	seedPlayer(t, store, "round-1", "bob", 500, 0)

	// alice cannot cover two cards with 700 total, so she holds one.
	result, err := store.ActivateRound(ctx, storage.ActivateInput{
		RoundID: "round-1",
		Roster: []storage.RosterEntry{
			{PlayerID: "alice", CardIDs: []string{"12"}},
			{PlayerID: "bob", CardIDs: []string{"40"}},
		},
		Now: testTime(t),
	})
	if err != nil {
		t.Fatalf("activate round: %v", err)
	}

	if !result.Round.Active {
		t.Fatal("round should be active")
	}
	if result.PotCents != 1000 {
		t.Fatalf("pot = %d, want 1000", result.PotCents)
	}
	if result.Round.PrizeCents != 900 || result.Round.HouseCents != 100 {
		t.Fatalf("split = %d/%d, want 900/100", result.Round.PrizeCents, result.Round.HouseCents)
	}

	wallet, err := store.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.BonusCents != 0 {
		t.Fatalf("bonus = %d, want 0 (bonus spent before main)", wallet.BonusCents)
	}
	if wallet.MainCents != 200 {
		t.Fatalf("main = %d, want 200", wallet.MainCents)
	}

	entries, err := store.ListLedger(ctx, "round-1")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	for _, entry := range entries {
		if entry.Kind != domain.EntryStake || entry.AmountCents != -500 {
			t.Fatalf("entry = %s %d, want stake -500", entry.Kind, entry.AmountCents)
		}
	}
}

func TestActivateRoundDropsInsolventPlayer(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedLobby(t, store, "round-1", "bingo-75", 500)
	seedPlayer(t, store, "round-1", "alice", 1000, 0)
	seedPlayer(t, store, "round-1", "bob", 1000, 0)
	seedPlayer(t, store, "round-1", "carol", 100, 0)

	result, err := store.ActivateRound(ctx, storage.ActivateInput{
		RoundID: "round-1",
		Roster: []storage.RosterEntry{
			{PlayerID: "alice", CardIDs: []string{"1"}},
			{PlayerID: "bob", CardIDs: []string{"2"}},
			{PlayerID: "carol", CardIDs: []string{"3"}},
		},
		Now: testTime(t),
	})
	if err != nil {
		t.Fatalf("activate round: %v", err)
	}

	if len(result.Insolvent) != 1 || result.Insolvent[0] != "carol" {
		t.Fatalf("insolvent = %v, want [carol]", result.Insolvent)
	}
	if result.Round.CardsSold != 2 {
		t.Fatalf("cards sold = %d, want 2", result.Round.CardsSold)
	}

	// carol keeps her money and loses her seat.
	wallet, err := store.GetWallet(ctx, "carol")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.MainCents != 100 {
		t.Fatalf("carol main = %d, want 100", wallet.MainCents)
	}
	if _, err := store.GetPlayerSession(ctx, "round-1", "carol"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("carol session err = %v, want ErrNotFound", err)
	}
}

func TestActivateRoundAbortsBelowMinimum(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedLobby(t, store, "round-1", "bingo-75", 500)
	seedPlayer(t, store, "round-1", "alice", 1000, 0)
	seedPlayer(t, store, "round-1", "bob", 100, 0)

	_, err := store.ActivateRound(ctx, storage.ActivateInput{
		RoundID: "round-1",
		Roster: []storage.RosterEntry{
			{PlayerID: "alice", CardIDs: []string{"1"}},
			{PlayerID: "bob", CardIDs: []string{"2"}},
		},
		Now: testTime(t),
	})
	if !errors.Is(err, storage.ErrNotEnoughPlayers) {
		t.Fatalf("err = %v, want ErrNotEnoughPlayers", err)
	}

	// The abort rolls back everything, including alice's deduction and
	// bob's session removal.
	wallet, err := store.GetWallet(ctx, "alice")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.MainCents != 1000 {
		t.Fatalf("alice main = %d, want 1000", wallet.MainCents)
	}
	if _, err := store.GetPlayerSession(ctx, "round-1", "bob"); err != nil {
		t.Fatalf("bob session should survive rollback: %v", err)
	}
	round, err := store.GetRound(ctx, "round-1")
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.Active {
		t.Fatal("round should not be active after abort")
	}
}

func TestActivateRoundSeventhRoundWaivesHouseCut(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var lastResult storage.ActivateResult
	for i := 1; i <= domain.HouseFreeInterval; i++ {
		roundID := "round-" + string(rune('0'+i))
		seedLobby(t, store, roundID, "bingo-75", 500)
		seedPlayer(t, store, roundID, "alice", 500, 0)
		seedPlayer(t, store, roundID, "bob", 500, 0)

		result, err := store.ActivateRound(ctx, storage.ActivateInput{
			RoundID: roundID,
			Roster: []storage.RosterEntry{
				{PlayerID: "alice", CardIDs: []string{"1"}},
				{PlayerID: "bob", CardIDs: []string{"2"}},
			},
			Now: testTime(t),
		})
		if err != nil {
			t.Fatalf("activate round %d: %v", i, err)
		}
		lastResult = result

		// End the round so the next lobby slot frees up.
		if _, err := store.EndRound(ctx, storage.EndInput{
			RoundID: roundID,
			Refund:  true,
			Now:     testTime(t).Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("end round %d: %v", i, err)
		}
	}

	if !lastResult.HouseFree {
		t.Fatalf("round %d should be house-free", domain.HouseFreeInterval)
	}
	if lastResult.Round.HouseCents != 0 {
		t.Fatalf("house = %d, want 0", lastResult.Round.HouseCents)
	}
	if lastResult.Round.PrizeCents != lastResult.PotCents {
		t.Fatalf("prize = %d, want full pot %d", lastResult.Round.PrizeCents, lastResult.PotCents)
	}
}

func TestSettleRoundPaysWinnerAndOpensNextLobby(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedLobby(t, store, "round-1", "bingo-75", 500)
	seedPlayer(t, store, "round-1", "alice", 1000, 0)
	seedPlayer(t, store, "round-1", "bob", 1000, 0)

	if _, err := store.ActivateRound(ctx, storage.ActivateInput{
		RoundID: "round-1",
		Roster: []storage.RosterEntry{
			{PlayerID: "alice", CardIDs: []string{"1"}},
			{PlayerID: "bob", CardIDs: []string{"2"}},
		},
		Now: testTime(t),
	}); err != nil {
		t.Fatalf("activate round: %v", err)
	}

	settleAt := testTime(t).Add(2 * time.Minute)
	result, err := store.SettleRound(ctx, storage.SettleInput{
		RoundID:  "round-1",
		WinnerID: "alice",
		NextLobby: domain.Round{
			ID:         "round-2",
			GameTypeID: "bingo-75",
			StakeCents: 500,
			CreatedAt:  settleAt,
		},
		Now: settleAt,
	})
	if err != nil {
		t.Fatalf("settle round: %v", err)
	}

	if result.PrizeCents != 900 {
		t.Fatalf("prize = %d, want 900", result.PrizeCents)
	}
	if result.WinnerBalance.MainCents != 1400 {
		t.Fatalf("winner main = %d, want 1400", result.WinnerBalance.MainCents)
	}
	if result.NextLobby.ID != "round-2" {
		t.Fatalf("next lobby = %q, want round-2", result.NextLobby.ID)
	}

	entries, err := store.ListLedger(ctx, "round-1")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if net := domain.NetCents(entries); net != 0 {
		t.Fatalf("ledger net = %d, want 0", net)
	}

	// Membership and card claims are cleared for the ended round.
	sessions, err := store.ListPlayerSessions(ctx, "round-1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
	claimed, err := store.ListClaimedCards(ctx, "bingo-75")
	if err != nil {
		t.Fatalf("list claimed cards: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed cards = %d, want 0", len(claimed))
	}
}

func TestSettleRoundLosesRaceCleanly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedLobby(t, store, "round-1", "bingo-75", 500)
	seedPlayer(t, store, "round-1", "alice", 1000, 0)
	seedPlayer(t, store, "round-1", "bob", 1000, 0)

	if _, err := store.ActivateRound(ctx, storage.ActivateInput{
		RoundID: "round-1",
		Roster: []storage.RosterEntry{
			{PlayerID: "alice", CardIDs: []string{"1"}},
			{PlayerID: "bob", CardIDs: []string{"2"}},
		},
		Now: testTime(t),
	}); err != nil {
		t.Fatalf("activate round: %v", err)
	}

	input := storage.SettleInput{
		RoundID:  "round-1",
		WinnerID: "alice",
		NextLobby: domain.Round{
			ID:         "round-2",
			GameTypeID: "bingo-75",
			StakeCents: 500,
			CreatedAt:  testTime(t),
		},
		Now: testTime(t),
	}
	if _, err := store.SettleRound(ctx, input); err != nil {
		t.Fatalf("first settle: %v", err)
	}

	input.WinnerID = "bob"
	input.NextLobby.ID = "round-3"
	_, err := store.SettleRound(ctx, input)
	if !errors.Is(err, storage.ErrRoundNotActive) {
		t.Fatalf("second settle err = %v, want ErrRoundNotActive", err)
	}

	// bob got nothing from the losing settlement.
	wallet, err := store.GetWallet(ctx, "bob")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.MainCents != 500 {
		t.Fatalf("bob main = %d, want 500", wallet.MainCents)
	}
}

func TestEndRoundRefundsStakes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedLobby(t, store, "round-1", "bingo-75", 500)
	seedPlayer(t, store, "round-1", "alice", 1000, 0)
	seedPlayer(t, store, "round-1", "bob", 0, 500)

	if _, err := store.ActivateRound(ctx, storage.ActivateInput{
		RoundID: "round-1",
		Roster: []storage.RosterEntry{
			{PlayerID: "alice", CardIDs: []string{"1"}},
			{PlayerID: "bob", CardIDs: []string{"2"}},
		},
		Now: testTime(t),
	}); err != nil {
		t.Fatalf("activate round: %v", err)
	}

	ended, err := store.EndRound(ctx, storage.EndInput{
		RoundID: "round-1",
		Refund:  true,
		NextLobby: domain.Round{
			ID:         "round-2",
			GameTypeID: "bingo-75",
			StakeCents: 500,
			CreatedAt:  testTime(t),
		},
		Now: testTime(t).Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	if ended.EndedAt == nil {
		t.Fatal("ended round should carry an end time")
	}

	// Refunds land on main balance even when the stake came from bonus.
	wallet, err := store.GetWallet(ctx, "bob")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.MainCents != 500 || wallet.BonusCents != 0 {
		t.Fatalf("bob balances = %d/%d, want 500/0", wallet.MainCents, wallet.BonusCents)
	}

	lobby, err := store.OpenLobby(ctx, "bingo-75")
	if err != nil {
		t.Fatalf("open lobby: %v", err)
	}
	if lobby.ID != "round-2" {
		t.Fatalf("open lobby = %q, want round-2", lobby.ID)
	}
}
