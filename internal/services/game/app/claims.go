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

// ClaimInput is a bingo claim: a player asserting that one of their cards
// has a winning pattern. The engine decides which pattern, if any, won.
type ClaimInput struct {
	RoundID  string
	PlayerID string
	CardID   string
	Selected []int // values the player has daubed
	Token    string
}

// ClaimResult reports the outcome of a claim. Settled is false when another
// claim already holds the winner lock; the loser gets no error, only the
// round-ended broadcast everyone else sees.
type ClaimResult struct {
	Settled     bool
	PrizeCents  int64
	Pattern     string
	NextLobbyID string
}

// ClaimBingo validates a claim against the draw history, races for the
// winner lock, and settles the round. Validation happens before the lock so
// a bogus claim never blocks a legitimate one; settlement is a single
// durable transaction so the prize is paid exactly once.
func (a *App) ClaimBingo(ctx context.Context, input ClaimInput) (ClaimResult, error) {
	input.RoundID = strings.TrimSpace(input.RoundID)
	input.PlayerID = strings.TrimSpace(input.PlayerID)
	if input.RoundID == "" {
		return ClaimResult{}, apperrors.New(apperrors.CodeRoundIDRequired, "round id is required")
	}
	if input.PlayerID == "" {
		return ClaimResult{}, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}
	cardID, err := domain.ParseCardID(input.CardID)
	if err != nil {
		return ClaimResult{}, apperrors.WithMetadata(apperrors.CodeCardIDInvalid,
			"card id is invalid", map[string]string{"card_id": input.CardID})
	}
	round, err := a.stores.Rounds.GetRound(ctx, input.RoundID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ClaimResult{}, apperrors.New(apperrors.CodeNotFound, "round not found")
		}
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "load round", err)
	}
	if !round.Active || round.EndedAt != nil {
		return ClaimResult{}, apperrors.New(apperrors.CodeSessionNotActive, "round is not active")
	}

	session, err := a.stores.Sessions.GetPlayerSession(ctx, round.ID, input.PlayerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ClaimResult{}, apperrors.New(apperrors.CodeNotRoundMember, "player is not in the round")
		}
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "load player session", err)
	}
	if !containsString(session.CardIDs, cardID) {
		return ClaimResult{}, apperrors.WithMetadata(apperrors.CodeNotCardOwner,
			"card is not held by player", map[string]string{"card_id": cardID})
	}

	card, err := domain.CardForID(cardID)
	if err != nil {
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "derive card", err)
	}
	history, err := a.DrawHistory(ctx, round.ID)
	if err != nil {
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "load draw history", err)
	}

	marks := domain.Marks(card, history, input.Selected)
	complete := domain.CompletePatterns(card, marks)
	if len(complete) == 0 {
		return ClaimResult{}, apperrors.WithMetadata(apperrors.CodePatternIncomplete,
			"no pattern is complete", map[string]string{"card_id": cardID})
	}
	recent := domain.LastDraws(history, domain.RecentWindow)
	pattern, closed := recentPattern(card, complete, recent)
	if !closed {
		return ClaimResult{}, apperrors.WithMetadata(apperrors.CodePatternStale,
			"pattern was not closed by a recent call", map[string]string{
				"pattern":      complete[0].Name,
				"card_id":      cardID,
				"recent_draws": joinInts(recent),
			})
	}

	if err := a.checkIdempotency(ctx, input.Token); err != nil {
		return ClaimResult{}, err
	}

	won, err := a.fast.SetNX(ctx, keyWinnerLock(round.ID), input.PlayerID, timeouts.WinnerLock)
	if err != nil {
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "acquire winner lock", err)
	}
	if !won {
		holder, _, _ := a.fast.Get(ctx, keyWinnerLock(round.ID))
		if holder == input.PlayerID {
			return ClaimResult{}, apperrors.New(apperrors.CodeDuplicateRequest, "claim already in flight")
		}
		log.Printf("claim lost winner race round=%s player=%s holder=%s", round.ID, input.PlayerID, holder)
		return ClaimResult{}, nil
	}

	// Snapshot the roster before settlement deletes the sessions; their
	// shared-store card holdings are released afterwards.
	roster, err := a.stores.Sessions.ListPlayerSessions(ctx, round.ID)
	if err != nil {
		log.Printf("list round sessions round=%s err=%v", round.ID, err)
	}

	nextLobby, err := domain.CreateRound(domain.CreateRoundInput{
		GameTypeID: round.GameTypeID,
		StakeCents: a.stakeCents,
	}, a.clock, a.newID)
	if err != nil {
		a.releaseWinnerLock(ctx, round.ID, input.PlayerID)
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "create next lobby", err)
	}

	result, err := a.stores.Rounds.SettleRound(ctx, storage.SettleInput{
		RoundID:   round.ID,
		WinnerID:  input.PlayerID,
		NextLobby: nextLobby,
		Now:       a.now(),
	})
	if err != nil {
		a.releaseWinnerLock(ctx, round.ID, input.PlayerID)
		if errors.Is(err, storage.ErrRoundNotActive) {
			return ClaimResult{}, apperrors.New(apperrors.CodeSessionNotActive, "round already settled")
		}
		return ClaimResult{}, apperrors.Wrap(apperrors.CodeInternal, "settle round", err)
	}

	a.recordIdempotency(ctx, input.Token)
	a.timers.cancel("draw:" + round.ID)
	a.refreshBalance(ctx, input.PlayerID)
	for _, member := range roster {
		if _, err := a.ReleaseCards(ctx, round.GameTypeID, member.PlayerID); err != nil {
			log.Printf("release cards round=%s player=%s err=%v", round.ID, member.PlayerID, err)
		}
	}
	a.cleanupRoundKeys(ctx, round.GameTypeID, round.ID)
	a.enqueueRoundHistory(ctx, round.ID)

	log.Printf("bingo round=%s game_type=%s winner=%s pattern=%s prize=%d",
		round.ID, round.GameTypeID, input.PlayerID, pattern.Name, result.PrizeCents)
	a.notify(round.GameTypeID, EventBingo, bingoPayload{
		RoundID:    round.ID,
		PlayerID:   input.PlayerID,
		CardID:     cardID,
		Pattern:    pattern.Name,
		PrizeCents: result.PrizeCents,
	})
	a.notify(round.GameTypeID, EventRoundEnded, roundEndedPayload{
		RoundID:  round.ID,
		WinnerID: input.PlayerID,
	})
	a.notify(round.GameTypeID, EventLobbyOpened, lobbyOpenedPayload{
		RoundID:    result.NextLobby.ID,
		StakeCents: result.NextLobby.StakeCents,
	})

	return ClaimResult{
		Settled:     true,
		PrizeCents:  result.PrizeCents,
		Pattern:     pattern.Name,
		NextLobbyID: result.NextLobby.ID,
	}, nil
}

// recentPattern picks the first complete pattern closed by a recent call.
func recentPattern(card domain.Card, complete []domain.Pattern, recent []int) (domain.Pattern, bool) {
	for _, pattern := range complete {
		if domain.ClosedByRecent(card, pattern, recent) {
			return pattern, true
		}
	}
	return domain.Pattern{}, false
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = strconv.Itoa(value)
	}
	return strings.Join(parts, ",")
}

// releaseWinnerLock frees the winner lock after a failed settlement so a
// later claim can still end the round.
func (a *App) releaseWinnerLock(ctx context.Context, roundID, playerID string) {
	if _, err := a.fast.CompareAndDelete(ctx, keyWinnerLock(roundID), playerID); err != nil {
		log.Printf("release winner lock round=%s err=%v", roundID, err)
	}
}

type historyPayload struct {
	RoundID string `json:"round_id"`
}

// enqueueRoundHistory schedules the worker derivation of per-player
// outcomes from the round's ledger.
func (a *App) enqueueRoundHistory(ctx context.Context, roundID string) {
	jobID, err := a.newID()
	if err != nil {
		return
	}
	payload, err := json.Marshal(historyPayload{RoundID: roundID})
	if err != nil {
		return
	}
	job := storage.Job{
		ID:          jobID,
		Kind:        storage.JobKindHistory,
		PayloadJSON: string(payload),
		DedupeKey:   "history:" + roundID,
		CreatedAt:   a.now(),
	}
	if err := a.stores.Jobs.EnqueueJob(ctx, job); err != nil {
		log.Printf("enqueue history job round=%s err=%v", roundID, err)
	}
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
