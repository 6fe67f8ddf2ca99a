package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	apperrors "github.com/louisbranch/bingohall/internal/platform/errors"
	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// HandleJob processes one durable job. Handlers are idempotent: the queue
// delivers at least once, and a job re-run after a partial failure must
// converge on the same end state.
func (a *App) HandleJob(ctx context.Context, job storage.Job) error {
	switch job.Kind {
	case storage.JobKindCleanup:
		return a.handleCleanupJob(ctx, job)
	case storage.JobKindHistory:
		return a.handleHistoryJob(ctx, job)
	case storage.JobKindReconcile:
		return a.handleReconcileJob(ctx, job)
	default:
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

// handleCleanupJob finishes a disconnect whose grace window expired:
// release held cards, drop the player from the live set, and free the
// lobby seat. A player who reconnected since the job was queued shows up
// as a live connection marker and the job is a stale no-op.
func (a *App) handleCleanupJob(ctx context.Context, job storage.Job) error {
	var payload cleanupPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "decode cleanup payload", err)
	}
	if strings.TrimSpace(payload.GameTypeID) == "" || strings.TrimSpace(payload.PlayerID) == "" {
		return apperrors.New(apperrors.CodeInternal, "cleanup payload missing ids")
	}

	remaining, err := a.fast.CountPrefix(ctx, keyPresenceConnPrefix(payload.PlayerID))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "count connections", err)
	}
	if remaining > 0 {
		log.Printf("cleanup skipped round=%s player=%s reconnected", payload.RoundID, payload.PlayerID)
		return nil
	}

	if _, err := a.ReleaseCards(ctx, payload.GameTypeID, payload.PlayerID); err != nil {
		return fmt.Errorf("release cards: %w", err)
	}
	if err := a.fast.SRem(ctx, keyLivePlayers(payload.RoundID), payload.PlayerID); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "remove live player", err)
	}

	// The lobby seat is freed; an in-round session stays for settlement
	// and history, already marked disconnected.
	round, err := a.stores.Rounds.GetRound(ctx, payload.RoundID)
	switch {
	case err == nil && !round.Active && round.EndedAt == nil:
		if err := a.stores.Sessions.RemovePlayerSession(ctx, payload.RoundID, payload.PlayerID); err != nil && err != storage.ErrNotFound {
			return fmt.Errorf("remove player session: %w", err)
		}
	case err != nil && err != storage.ErrNotFound:
		return fmt.Errorf("load round: %w", err)
	}

	live, err := a.fast.SCard(ctx, keyLivePlayers(payload.RoundID))
	if err == nil {
		a.notify(payload.GameTypeID, EventPlayerCount, playerCountPayload{
			RoundID: payload.RoundID,
			Players: live,
		})
	}
	log.Printf("cleanup done round=%s player=%s phase=%s", payload.RoundID, payload.PlayerID, payload.Phase)
	return nil
}

// handleHistoryJob derives each roster member's outcome from the round's
// ledger and appends history records. The unique (player, round) constraint
// makes a re-run a no-op.
func (a *App) handleHistoryJob(ctx context.Context, job storage.Job) error {
	var payload historyPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "decode history payload", err)
	}
	round, err := a.stores.Rounds.GetRound(ctx, payload.RoundID)
	if err != nil {
		return fmt.Errorf("load round: %w", err)
	}
	entries, err := a.stores.Ledger.ListLedger(ctx, payload.RoundID)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}

	stakes := make(map[string]int64)
	prizes := make(map[string]int64)
	for _, entry := range entries {
		if entry.PlayerID == "" {
			continue
		}
		switch entry.Kind {
		case domain.EntryStake:
			stakes[entry.PlayerID] += -entry.AmountCents
		case domain.EntryWinnings:
			prizes[entry.PlayerID] += entry.AmountCents
		case domain.EntryRefund:
			stakes[entry.PlayerID] -= entry.AmountCents
		}
	}

	recordedAt := round.CreatedAt
	if round.EndedAt != nil {
		recordedAt = *round.EndedAt
	}
	records := make([]storage.HistoryRecord, 0, len(stakes))
	for playerID, stake := range stakes {
		outcome := storage.OutcomeLose
		if prizes[playerID] > 0 {
			outcome = storage.OutcomeWin
		}
		records = append(records, storage.HistoryRecord{
			PlayerID:   playerID,
			RoundID:    payload.RoundID,
			Outcome:    outcome,
			StakeCents: stake,
			PrizeCents: prizes[playerID],
			CreatedAt:  recordedAt,
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := a.stores.History.AppendHistory(ctx, records); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	log.Printf("history recorded round=%s players=%d", payload.RoundID, len(records))
	return nil
}

// handleReconcileJob mirrors a player's shared-store card holdings into the
// durable ownership table. The shared store is authoritative; this write is
// the recovery copy.
func (a *App) handleReconcileJob(ctx context.Context, job storage.Job) error {
	var payload reconcilePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "decode reconcile payload", err)
	}

	held, err := a.fast.SMembers(ctx, keyPlayerCards(payload.GameTypeID, payload.PlayerID))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "read held cards", err)
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, cardID := range held {
		heldSet[cardID] = struct{}{}
	}

	claimed, err := a.stores.Cards.ListClaimedCards(ctx, payload.GameTypeID)
	if err != nil {
		return fmt.Errorf("list claimed cards: %w", err)
	}
	for cardID, ownerID := range claimed {
		if ownerID != payload.PlayerID {
			continue
		}
		if _, stillHeld := heldSet[cardID]; stillHeld {
			continue
		}
		if err := a.stores.Cards.ReconcileCard(ctx, payload.GameTypeID, cardID, "", "", false); err != nil {
			return fmt.Errorf("release card %s: %w", cardID, err)
		}
	}

	roundID := ""
	if lobby, err := a.stores.Rounds.OpenLobby(ctx, payload.GameTypeID); err == nil {
		roundID = lobby.ID
	}
	for _, cardID := range held {
		if err := a.stores.Cards.ReconcileCard(ctx, payload.GameTypeID, cardID, payload.PlayerID, roundID, true); err != nil {
			return fmt.Errorf("claim card %s: %w", cardID, err)
		}
	}
	return nil
}
