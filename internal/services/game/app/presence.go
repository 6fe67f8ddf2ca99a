package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/bingohall/internal/platform/errors"
	"github.com/louisbranch/bingohall/internal/platform/timeouts"
	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// JoinState is the room snapshot handed to a connecting client.
type JoinState struct {
	RoundID          string
	Phase            domain.Phase
	StakeCents       int64
	PrizeCents       int64
	CountdownSeconds int
	DrawHistory      []int
	HeldCards        []string
	LivePlayers      int64
}

// Connect registers a player connection and places the player in the room.
// A player reconnecting within the grace window resumes their round; a
// fresh player lands in the open lobby. Multiple simultaneous connections
// for one player are tracked individually.
func (a *App) Connect(ctx context.Context, gameTypeID, playerID, connID string) (JoinState, error) {
	gameTypeID = strings.TrimSpace(gameTypeID)
	playerID = strings.TrimSpace(playerID)
	if gameTypeID == "" {
		return JoinState{}, apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}
	if playerID == "" {
		return JoinState{}, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}

	if connID != "" {
		if err := a.fast.Set(ctx, keyPresenceConn(playerID, connID), "1", timeouts.PresenceMarker); err != nil {
			return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "track connection", err)
		}
	}

	// An armed grace timer means this is a reconnect; disarm it.
	active, activeErr := a.stores.Rounds.ActiveRound(ctx, gameTypeID)
	if activeErr == nil {
		a.timers.cancel("grace:" + active.ID + ":" + playerID)
		session, err := a.stores.Sessions.GetPlayerSession(ctx, active.ID, playerID)
		if err == nil {
			return a.rejoinActiveRound(ctx, active, session, playerID)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "load player session", err)
		}
		// Not a member of the running round; the player waits in the lobby.
	} else if !errors.Is(activeErr, storage.ErrNotFound) {
		return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "check active round", activeErr)
	}

	lobby, err := a.EnsureLobby(ctx, gameTypeID)
	if err != nil {
		return JoinState{}, err
	}
	a.timers.cancel("grace:" + lobby.ID + ":" + playerID)

	if err := a.fast.SAdd(ctx, keyLivePlayers(lobby.ID), playerID); err != nil {
		return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "join room", err)
	}
	if err := a.stores.Sessions.SetConnStatus(ctx, lobby.ID, playerID, domain.ConnConnected); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "mark player connected", err)
		}
		err = a.stores.Sessions.UpsertPlayerSession(ctx, domain.PlayerSession{
			RoundID:  lobby.ID,
			PlayerID: playerID,
			Status:   domain.ConnConnected,
		})
		if err != nil {
			return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "create player session", err)
		}
	}

	live, err := a.fast.SCard(ctx, keyLivePlayers(lobby.ID))
	if err != nil {
		log.Printf("count live players round=%s err=%v", lobby.ID, err)
	}
	a.notify(gameTypeID, EventPlayerCount, playerCountPayload{RoundID: lobby.ID, Players: live})

	held, err := a.fast.SMembers(ctx, keyPlayerCards(gameTypeID, playerID))
	if err != nil {
		log.Printf("load held cards player=%s err=%v", playerID, err)
	}

	state := JoinState{
		RoundID:     lobby.ID,
		Phase:       domain.PhaseLobby,
		StakeCents:  lobby.StakeCents,
		HeldCards:   held,
		LivePlayers: live,
	}
	if raw, found, err := a.fast.Get(ctx, keyCountdown(lobby.ID)); err == nil && found {
		if seconds, err := strconv.Atoi(raw); err == nil {
			state.CountdownSeconds = seconds
		}
	}
	return state, nil
}

// rejoinActiveRound restores a round member's in-round view after a
// reconnect inside the grace window.
func (a *App) rejoinActiveRound(ctx context.Context, round domain.Round, session domain.PlayerSession, playerID string) (JoinState, error) {
	if err := a.fast.SAdd(ctx, keyLivePlayers(round.ID), playerID); err != nil {
		return JoinState{}, apperrors.Wrap(apperrors.CodeInternal, "rejoin room", err)
	}
	if err := a.stores.Sessions.SetConnStatus(ctx, round.ID, playerID, domain.ConnConnected); err != nil {
		log.Printf("mark player connected round=%s player=%s err=%v", round.ID, playerID, err)
	}

	history, err := a.DrawHistory(ctx, round.ID)
	if err != nil {
		log.Printf("load draw history round=%s err=%v", round.ID, err)
	}
	live, err := a.fast.SCard(ctx, keyLivePlayers(round.ID))
	if err != nil {
		log.Printf("count live players round=%s err=%v", round.ID, err)
	}
	a.notify(round.GameTypeID, EventPlayerCount, playerCountPayload{RoundID: round.ID, Players: live})

	return JoinState{
		RoundID:     round.ID,
		Phase:       domain.PhaseInRound,
		StakeCents:  round.StakeCents,
		PrizeCents:  round.PrizeCents,
		DrawHistory: history,
		HeldCards:   session.CardIDs,
		LivePlayers: live,
	}, nil
}

// TouchPresence renews a connection's liveness marker. The gateway calls
// this on its keepalive cadence; a connection that stops being touched,
// including one whose process crashed without a Disconnect, expires on its
// own and stops counting against cleanup.
func (a *App) TouchPresence(ctx context.Context, playerID, connID string) error {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" || connID == "" {
		return nil
	}
	if err := a.fast.Set(ctx, keyPresenceConn(playerID, connID), "1", timeouts.PresenceMarker); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "refresh connection marker", err)
	}
	return nil
}

// Disconnect drops one connection. Only when a player's last connection
// closes does the phase-dependent grace period start; the actual seat
// cleanup is a durable job so it survives this instance dying.
func (a *App) Disconnect(ctx context.Context, gameTypeID, playerID, connID string) error {
	gameTypeID = strings.TrimSpace(gameTypeID)
	playerID = strings.TrimSpace(playerID)
	if gameTypeID == "" || playerID == "" {
		return nil
	}

	if connID != "" {
		if err := a.fast.Del(ctx, keyPresenceConn(playerID, connID)); err != nil {
			log.Printf("untrack connection player=%s err=%v", playerID, err)
		}
	}
	remaining, err := a.fast.CountPrefix(ctx, keyPresenceConnPrefix(playerID))
	if err != nil {
		log.Printf("count connections player=%s err=%v", playerID, err)
	}
	if remaining > 0 {
		return nil
	}

	round, phase, found := a.playerRound(ctx, gameTypeID, playerID)
	if !found {
		return nil
	}

	if err := a.stores.Sessions.SetConnStatus(ctx, round.ID, playerID, domain.ConnDisconnected); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("mark player disconnected round=%s player=%s err=%v", round.ID, playerID, err)
		}
	}

	grace := domain.GraceFor(phase, timeouts.LobbyGrace, timeouts.InRoundGrace)
	roundID := round.ID
	a.timers.schedule("grace:"+roundID+":"+playerID, grace, func() {
		a.graceExpired(gameTypeID, roundID, playerID, phase)
	})
	return nil
}

// Leave removes a player from their room on purpose: cards are freed, the
// roster is updated immediately with no grace period, and an active round
// whose last player walks out is ended with refunds.
func (a *App) Leave(ctx context.Context, gameTypeID, playerID string) ([]string, error) {
	gameTypeID = strings.TrimSpace(gameTypeID)
	playerID = strings.TrimSpace(playerID)
	if gameTypeID == "" {
		return nil, apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}
	if playerID == "" {
		return nil, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}

	released, err := a.ReleaseCards(ctx, gameTypeID, playerID)
	if err != nil {
		return nil, err
	}

	round, phase, found := a.playerRound(ctx, gameTypeID, playerID)
	if !found {
		return released, nil
	}
	a.timers.cancel("grace:" + round.ID + ":" + playerID)

	if err := a.fast.SRem(ctx, keyLivePlayers(round.ID), playerID); err != nil {
		log.Printf("drop live player round=%s player=%s err=%v", round.ID, playerID, err)
	}
	if phase == domain.PhaseLobby {
		if err := a.stores.Sessions.RemovePlayerSession(ctx, round.ID, playerID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return released, apperrors.Wrap(apperrors.CodeInternal, "remove player session", err)
		}
	} else {
		// The stake is already in the pot; the session row stays for
		// settlement and history.
		if err := a.stores.Sessions.SetConnStatus(ctx, round.ID, playerID, domain.ConnDisconnected); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("mark player disconnected round=%s player=%s err=%v", round.ID, playerID, err)
		}
	}

	live, err := a.fast.SCard(ctx, keyLivePlayers(round.ID))
	if err != nil {
		log.Printf("count live players round=%s err=%v", round.ID, err)
	}
	a.notify(gameTypeID, EventPlayerCount, playerCountPayload{RoundID: round.ID, Players: live})

	if phase == domain.PhaseInRound && live == 0 {
		a.endWithoutWinner(ctx, gameTypeID, round.ID)
	}
	return released, nil
}

// playerRound resolves which round a player currently belongs to.
func (a *App) playerRound(ctx context.Context, gameTypeID, playerID string) (domain.Round, domain.Phase, bool) {
	if active, err := a.stores.Rounds.ActiveRound(ctx, gameTypeID); err == nil {
		if _, err := a.stores.Sessions.GetPlayerSession(ctx, active.ID, playerID); err == nil {
			return active, domain.PhaseInRound, true
		}
	}
	if lobby, err := a.stores.Rounds.OpenLobby(ctx, gameTypeID); err == nil {
		if _, err := a.stores.Sessions.GetPlayerSession(ctx, lobby.ID, playerID); err == nil {
			return lobby, domain.PhaseLobby, true
		}
	}
	return domain.Round{}, domain.PhaseLobby, false
}

type cleanupPayload struct {
	GameTypeID string `json:"game_type_id"`
	RoundID    string `json:"round_id"`
	PlayerID   string `json:"player_id"`
	Phase      string `json:"phase"`
}

// graceExpired fires when a disconnected player's grace window runs out. A
// reconnect on another instance shows up as a live connection marker, in which
// case the expiry is stale and ignored.
func (a *App) graceExpired(gameTypeID, roundID, playerID string, phase domain.Phase) {
	ctx := context.Background()

	remaining, err := a.fast.CountPrefix(ctx, keyPresenceConnPrefix(playerID))
	if err != nil {
		log.Printf("count connections player=%s err=%v", playerID, err)
	}
	if remaining > 0 {
		return
	}

	jobID, err := a.newID()
	if err != nil {
		log.Printf("generate cleanup job id player=%s err=%v", playerID, err)
		return
	}
	payload, err := json.Marshal(cleanupPayload{
		GameTypeID: gameTypeID,
		RoundID:    roundID,
		PlayerID:   playerID,
		Phase:      string(phase),
	})
	if err != nil {
		return
	}
	job := storage.Job{
		ID:          jobID,
		Kind:        storage.JobKindCleanup,
		PayloadJSON: string(payload),
		DedupeKey:   "cleanup:" + roundID + ":" + playerID,
		CreatedAt:   a.now(),
	}
	if err := a.stores.Jobs.EnqueueJob(ctx, job); err != nil {
		log.Printf("enqueue cleanup job round=%s player=%s err=%v", roundID, playerID, err)
		return
	}
	log.Printf("grace expired round=%s player=%s cleanup queued", roundID, playerID)
}
