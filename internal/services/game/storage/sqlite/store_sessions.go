package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// UpsertPlayerSession records or refreshes a player's round membership.
func (s *Store) UpsertPlayerSession(ctx context.Context, session domain.PlayerSession) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(session.RoundID) == "" {
		return fmt.Errorf("round id is required")
	}
	if strings.TrimSpace(session.PlayerID) == "" {
		return fmt.Errorf("player id is required")
	}
	if session.Status == "" {
		session.Status = domain.ConnConnected
	}

	cardsJSON, err := json.Marshal(session.CardIDs)
	if err != nil {
		return fmt.Errorf("encode card ids: %w", err)
	}
	if session.CardIDs == nil {
		cardsJSON = []byte("[]")
	}

	nowMillis := toMillis(time.Now())
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO player_sessions (round_id, player_id, status, cards_json, joined_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (round_id, player_id) DO UPDATE SET
    status = excluded.status, cards_json = excluded.cards_json, updated_at = excluded.updated_at`,
		session.RoundID, session.PlayerID, string(session.Status), string(cardsJSON), nowMillis, nowMillis)
	if err != nil {
		return fmt.Errorf("upsert player session: %w", err)
	}
	return nil
}

// GetPlayerSession loads one player's membership in a round.
func (s *Store) GetPlayerSession(ctx context.Context, roundID, playerID string) (domain.PlayerSession, error) {
	if s == nil || s.sqlDB == nil {
		return domain.PlayerSession{}, fmt.Errorf("store is not initialized")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT round_id, player_id, status, cards_json FROM player_sessions
WHERE round_id = ? AND player_id = ?`, roundID, playerID)
	return scanPlayerSession(row)
}

// SetConnStatus flips a player's connection status within a round.
func (s *Store) SetConnStatus(ctx context.Context, roundID, playerID string, status domain.ConnStatus) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE player_sessions SET status = ?, updated_at = ? WHERE round_id = ? AND player_id = ?`,
		string(status), toMillis(time.Now()), roundID, playerID)
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set connection status result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPlayerSessions loads every membership of a round.
func (s *Store) ListPlayerSessions(ctx context.Context, roundID string) ([]domain.PlayerSession, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT round_id, player_id, status, cards_json FROM player_sessions
WHERE round_id = ? ORDER BY player_id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("list player sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.PlayerSession
	for rows.Next() {
		session, err := scanPlayerSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read player sessions: %w", err)
	}
	return sessions, nil
}

// CountConnected counts members currently marked connected.
func (s *Store) CountConnected(ctx context.Context, roundID string) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store is not initialized")
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM player_sessions WHERE round_id = ? AND status = ?`,
		roundID, string(domain.ConnConnected)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count connected players: %w", err)
	}
	return count, nil
}

// RemovePlayerSession deletes one player's membership.
func (s *Store) RemovePlayerSession(ctx context.Context, roundID, playerID string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM player_sessions WHERE round_id = ? AND player_id = ?",
		roundID, playerID); err != nil {
		return fmt.Errorf("remove player session: %w", err)
	}
	return nil
}

func scanPlayerSession(row rowScanner) (domain.PlayerSession, error) {
	var session domain.PlayerSession
	var status string
	var cardsJSON string
	err := row.Scan(&session.RoundID, &session.PlayerID, &status, &cardsJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.PlayerSession{}, storage.ErrNotFound
		}
		return domain.PlayerSession{}, fmt.Errorf("scan player session: %w", err)
	}
	session.Status = domain.ConnStatus(status)
	if strings.TrimSpace(cardsJSON) != "" {
		if err := json.Unmarshal([]byte(cardsJSON), &session.CardIDs); err != nil {
			return domain.PlayerSession{}, fmt.Errorf("decode card ids: %w", err)
		}
	}
	return session, nil
}
