package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ReconcileCard mirrors one card's shared-store ownership into the durable
// store. Called from the deferred reconciliation job, so it must stay
// idempotent.
func (s *Store) ReconcileCard(ctx context.Context, gameTypeID, cardID, ownerID, roundID string, claimed bool) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(gameTypeID) == "" {
		return fmt.Errorf("game type id is required")
	}
	if strings.TrimSpace(cardID) == "" {
		return fmt.Errorf("card id is required")
	}

	claimedInt := 0
	if claimed {
		claimedInt = 1
	} else {
		ownerID = ""
		roundID = ""
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO cards (game_type_id, card_id, claimed, owner_id, round_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (game_type_id, card_id) DO UPDATE SET
    claimed = excluded.claimed, owner_id = excluded.owner_id,
    round_id = excluded.round_id, updated_at = excluded.updated_at`,
		gameTypeID, cardID, claimedInt, ownerID, roundID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("reconcile card: %w", err)
	}
	return nil
}

// ListClaimedCards returns card id to owner id for a game type. Used to
// rebuild the shared store after a cold start.
func (s *Store) ListClaimedCards(ctx context.Context, gameTypeID string) (map[string]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT card_id, owner_id FROM cards WHERE game_type_id = ? AND claimed = 1", gameTypeID)
	if err != nil {
		return nil, fmt.Errorf("list claimed cards: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]string)
	for rows.Next() {
		var cardID, ownerID string
		if err := rows.Scan(&cardID, &ownerID); err != nil {
			return nil, fmt.Errorf("scan claimed card: %w", err)
		}
		owners[cardID] = ownerID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read claimed cards: %w", err)
	}
	return owners, nil
}
