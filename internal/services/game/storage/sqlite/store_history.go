package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// AppendHistory records per-player round outcomes. The (player, round)
// unique constraint makes replayed history jobs harmless.
func (s *Store) AppendHistory(ctx context.Context, records []storage.HistoryRecord) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if len(records) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, record := range records {
			if record.CreatedAt.IsZero() {
				record.CreatedAt = time.Now()
			}
			_, err := tx.ExecContext(ctx, `
INSERT INTO player_history (player_id, round_id, outcome, stake_cents, prize_cents, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (player_id, round_id) DO NOTHING`,
				record.PlayerID, record.RoundID, record.Outcome,
				record.StakeCents, record.PrizeCents, toMillis(record.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert history record: %w", err)
			}
		}
		return nil
	})
}

// ListHistory loads a player's most recent round outcomes.
func (s *Store) ListHistory(ctx context.Context, playerID string, limit int) ([]storage.HistoryRecord, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT player_id, round_id, outcome, stake_cents, prize_cents, created_at
FROM player_history WHERE player_id = ?
ORDER BY created_at DESC, id DESC LIMIT ?`, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []storage.HistoryRecord
	for rows.Next() {
		var record storage.HistoryRecord
		var createdAt int64
		if err := rows.Scan(&record.PlayerID, &record.RoundID, &record.Outcome,
			&record.StakeCents, &record.PrizeCents, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return records, nil
}
