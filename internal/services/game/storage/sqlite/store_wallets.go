package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// GetWallet loads a player's balances.
func (s *Store) GetWallet(ctx context.Context, playerID string) (storage.Wallet, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Wallet{}, fmt.Errorf("store is not initialized")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT player_id, main_cents, bonus_cents FROM wallets WHERE player_id = ?", playerID)
	return scanWallet(row)
}

// Credit adds funds to a player's balances, creating the wallet on first use.
func (s *Store) Credit(ctx context.Context, playerID string, mainCents, bonusCents int64) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(playerID) == "" {
		return fmt.Errorf("player id is required")
	}
	if mainCents < 0 || bonusCents < 0 {
		return fmt.Errorf("credit amounts must be non-negative")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO wallets (player_id, main_cents, bonus_cents, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (player_id) DO UPDATE SET
    main_cents = main_cents + excluded.main_cents,
    bonus_cents = bonus_cents + excluded.bonus_cents,
    updated_at = excluded.updated_at`,
		playerID, mainCents, bonusCents, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

// ListLedger loads a round's ledger entries in append order.
func (s *Store) ListLedger(ctx context.Context, roundID string) ([]domain.LedgerEntry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, round_id, player_id, kind, amount_cents, created_at
FROM ledger WHERE round_id = ? ORDER BY id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		var kind string
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.RoundID, &entry.PlayerID, &kind,
			&entry.AmountCents, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Kind = domain.EntryKind(kind)
		entry.CreatedAt = fromMillis(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger entries: %w", err)
	}
	return entries, nil
}

func getWalletTx(ctx context.Context, tx *sql.Tx, playerID string) (storage.Wallet, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT player_id, main_cents, bonus_cents FROM wallets WHERE player_id = ?", playerID)
	return scanWallet(row)
}

func scanWallet(row rowScanner) (storage.Wallet, error) {
	var wallet storage.Wallet
	err := row.Scan(&wallet.PlayerID, &wallet.MainCents, &wallet.BonusCents)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Wallet{}, storage.ErrNotFound
		}
		return storage.Wallet{}, fmt.Errorf("scan wallet: %w", err)
	}
	return wallet, nil
}
