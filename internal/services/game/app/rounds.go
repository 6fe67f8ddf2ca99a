package app

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/bingohall/internal/platform/errors"
	"github.com/louisbranch/bingohall/internal/platform/timeouts"
	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// countdownTick is the cadence of lobby countdown broadcasts.
const countdownTick = time.Second

// EnsureLobby returns the open lobby for a game type, creating it when the
// room has none. Losing the creation race to another instance is fine; the
// winner's lobby is loaded instead.
func (a *App) EnsureLobby(ctx context.Context, gameTypeID string) (domain.Round, error) {
	gameTypeID = strings.TrimSpace(gameTypeID)
	if gameTypeID == "" {
		return domain.Round{}, apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}

	lobby, err := a.stores.Rounds.OpenLobby(ctx, gameTypeID)
	if err == nil {
		return lobby, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.Round{}, apperrors.Wrap(apperrors.CodeInternal, "load open lobby", err)
	}

	lobby, err = domain.CreateRound(domain.CreateRoundInput{
		GameTypeID: gameTypeID,
		StakeCents: a.stakeCents,
	}, a.clock, a.newID)
	if err != nil {
		return domain.Round{}, apperrors.Wrap(apperrors.CodeInternal, "create lobby", err)
	}
	if err := a.stores.Rounds.CreateLobby(ctx, lobby); err != nil {
		if errors.Is(err, storage.ErrOpenLobbyExists) {
			return a.stores.Rounds.OpenLobby(ctx, gameTypeID)
		}
		return domain.Round{}, apperrors.Wrap(apperrors.CodeInternal, "persist lobby", err)
	}
	return lobby, nil
}

// RequestStart begins the lobby countdown. The per-game-type start lock
// makes sure only one countdown runs no matter how many members mash the
// button or how many instances serve the room.
func (a *App) RequestStart(ctx context.Context, gameTypeID, playerID string) error {
	gameTypeID = strings.TrimSpace(gameTypeID)
	playerID = strings.TrimSpace(playerID)
	if gameTypeID == "" {
		return apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}
	if playerID == "" {
		return apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}

	if _, err := a.stores.Rounds.ActiveRound(ctx, gameTypeID); err == nil {
		return apperrors.New(apperrors.CodeLockHeld, "a round is already running")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeInternal, "check active round", err)
	}

	lobby, err := a.stores.Rounds.OpenLobby(ctx, gameTypeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, "no open lobby for game type")
		}
		return apperrors.Wrap(apperrors.CodeInternal, "load open lobby", err)
	}

	member, err := a.fast.SIsMember(ctx, keyLivePlayers(lobby.ID), playerID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "check room membership", err)
	}
	if !member {
		return apperrors.New(apperrors.CodeNotRoundMember, "player is not in the room")
	}

	// The live set is a cache; the durable session rows decide whether the
	// room really has enough players.
	connected, err := a.stores.Sessions.CountConnected(ctx, lobby.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "count connected players", err)
	}
	if connected < domain.MinPlayers {
		return apperrors.New(apperrors.CodeNotEnoughPlayers, "not enough players to start")
	}

	ok, err := a.fast.SetNX(ctx, keyStartLock(gameTypeID), lobby.ID, timeouts.RoundLock)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "acquire start lock", err)
	}
	if !ok {
		return apperrors.New(apperrors.CodeLockHeld, "countdown already running")
	}

	a.tickCountdown(lobby.GameTypeID, lobby.ID, domain.CountdownSeconds)
	return nil
}

// tickCountdown publishes the remaining seconds and arms the next tick.
// The remaining value is mirrored into the shared store so late joiners
// can read the countdown state.
func (a *App) tickCountdown(gameTypeID, roundID string, remaining int) {
	ctx := context.Background()

	if remaining <= 0 {
		_ = a.fast.Del(ctx, keyCountdown(roundID))
		a.activateRound(ctx, gameTypeID, roundID)
		return
	}

	if err := a.fast.Set(ctx, keyCountdown(roundID), strconv.Itoa(remaining), timeouts.RoundLock); err != nil {
		log.Printf("persist countdown round=%s err=%v", roundID, err)
	}
	a.notify(gameTypeID, EventCountdown, countdownPayload{RoundID: roundID, Seconds: remaining})

	a.timers.schedule("countdown:"+roundID, countdownTick, func() {
		a.tickCountdown(gameTypeID, roundID, remaining-1)
	})
}

// activateRound snapshots the lobby roster from the shared store and runs
// the durable activation transaction. The starting lock keeps a second
// instance whose countdown also expired from activating twice.
func (a *App) activateRound(ctx context.Context, gameTypeID, roundID string) {
	ok, err := a.fast.SetNX(ctx, keyStartingLock(roundID), "1", timeouts.StartingLock)
	if err != nil {
		log.Printf("acquire starting lock round=%s err=%v", roundID, err)
		return
	}
	if !ok {
		return
	}

	live, err := a.fast.SMembers(ctx, keyLivePlayers(roundID))
	if err != nil {
		log.Printf("snapshot roster round=%s err=%v", roundID, err)
		a.abortActivation(ctx, gameTypeID, roundID)
		return
	}

	var roster []storage.RosterEntry
	for _, playerID := range live {
		cards, err := a.fast.SMembers(ctx, keyPlayerCards(gameTypeID, playerID))
		if err != nil {
			log.Printf("snapshot cards round=%s player=%s err=%v", roundID, playerID, err)
			a.abortActivation(ctx, gameTypeID, roundID)
			return
		}
		if len(cards) == 0 {
			continue
		}
		roster = append(roster, storage.RosterEntry{PlayerID: playerID, CardIDs: cards})
	}

	result, err := a.stores.Rounds.ActivateRound(ctx, storage.ActivateInput{
		RoundID: roundID,
		Roster:  roster,
		Now:     a.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotEnoughPlayers) {
			log.Printf("activation aborted round=%s reason=not_enough_players", roundID)
		} else {
			log.Printf("activate round=%s err=%v", roundID, err)
		}
		a.abortActivation(ctx, gameTypeID, roundID)
		return
	}

	for _, playerID := range result.Insolvent {
		if _, err := a.ReleaseCards(ctx, gameTypeID, playerID); err != nil {
			log.Printf("release insolvent cards round=%s player=%s err=%v", roundID, playerID, err)
		}
		if err := a.fast.SRem(ctx, keyLivePlayers(roundID), playerID); err != nil {
			log.Printf("drop insolvent player round=%s player=%s err=%v", roundID, playerID, err)
		}
		a.notify(gameTypeID, EventPlayerDropped, map[string]string{
			"round_id": roundID, "player_id": playerID, "reason": "insufficient_balance",
		})
	}

	for _, entry := range result.Solvent {
		a.refreshBalance(ctx, entry.PlayerID)
	}

	// The activation transaction has committed; from here a failure cannot
	// roll back to the lobby. Refund and end instead of stranding a debited
	// active round.
	order, err := domain.NewDrawOrder()
	if err != nil {
		log.Printf("generate draw order round=%s err=%v", roundID, err)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}
	if err := a.fast.Set(ctx, keyDrawOrder(roundID), domain.EncodeDrawOrder(order), 0); err != nil {
		log.Printf("persist draw order round=%s err=%v", roundID, err)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}
	if err := a.fast.Set(ctx, keyRoundActive(roundID), "1", timeouts.ActiveFlagTTL); err != nil {
		log.Printf("mark round active round=%s err=%v", roundID, err)
	}
	_ = a.fast.Del(ctx, keyStartLock(gameTypeID), keyCountdown(roundID))

	log.Printf("round started round=%s game_type=%s players=%d cards=%d prize=%d house_free=%t",
		roundID, gameTypeID, len(result.Solvent), result.Round.CardsSold,
		result.Round.PrizeCents, result.HouseFree)
	a.notify(gameTypeID, EventRoundStarted, roundStartedPayload{
		RoundID:    roundID,
		PrizeCents: result.Round.PrizeCents,
		CardsSold:  result.Round.CardsSold,
		HouseFree:  result.HouseFree,
	})

	a.timers.schedule("draw:"+roundID, domain.FirstCallDelay, func() {
		a.drawNext(gameTypeID, roundID)
	})
}

// abortActivation returns the room to lobby state: players keep their held
// cards and no money has moved.
func (a *App) abortActivation(ctx context.Context, gameTypeID, roundID string) {
	_ = a.fast.Del(ctx,
		keyStartLock(gameTypeID),
		keyStartingLock(roundID),
		keyCountdown(roundID),
	)
	a.notify(gameTypeID, EventActivationAborted, map[string]string{
		"round_id": roundID,
		"code":     string(apperrors.CodeActivationAborted),
	})
}

// endWithoutWinner force-ends an activated round (draws exhausted or the
// room emptied), refunding stakes, and opens the next lobby.
func (a *App) endWithoutWinner(ctx context.Context, gameTypeID, roundID string) {
	a.timers.cancel("draw:" + roundID)

	live, err := a.fast.SMembers(ctx, keyLivePlayers(roundID))
	if err != nil {
		log.Printf("list live players round=%s err=%v", roundID, err)
	}

	nextLobby, err := domain.CreateRound(domain.CreateRoundInput{
		GameTypeID: gameTypeID,
		StakeCents: a.stakeCents,
	}, a.clock, a.newID)
	if err != nil {
		log.Printf("create next lobby round=%s err=%v", roundID, err)
		return
	}

	ended, err := a.stores.Rounds.EndRound(ctx, storage.EndInput{
		RoundID:   roundID,
		Refund:    true,
		NextLobby: nextLobby,
		Now:       a.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrRoundNotActive) {
			// Someone else ended it; their cleanup wins.
			return
		}
		log.Printf("end round=%s err=%v", roundID, err)
		return
	}

	for _, playerID := range live {
		if _, err := a.ReleaseCards(ctx, gameTypeID, playerID); err != nil {
			log.Printf("release cards round=%s player=%s err=%v", roundID, playerID, err)
		}
		a.refreshBalance(ctx, playerID)
	}
	a.cleanupRoundKeys(ctx, gameTypeID, roundID)

	log.Printf("round ended without winner round=%s game_type=%s", ended.ID, gameTypeID)
	a.notify(gameTypeID, EventRoundEnded, roundEndedPayload{RoundID: roundID, Refunded: true})
	a.notify(gameTypeID, EventLobbyOpened, lobbyOpenedPayload{
		RoundID:    nextLobby.ID,
		StakeCents: nextLobby.StakeCents,
	})
}

// cleanupRoundKeys drops every shared-store key scoped to an ended round.
func (a *App) cleanupRoundKeys(ctx context.Context, gameTypeID, roundID string) {
	_ = a.fast.Del(ctx,
		keyStartLock(gameTypeID),
		keyStartingLock(roundID),
		keyCountdown(roundID),
		keyDrawOrder(roundID),
		keyDrawCursor(roundID),
		keyDrawHistory(roundID),
		keyLivePlayers(roundID),
		keyRoundActive(roundID),
	)
}
