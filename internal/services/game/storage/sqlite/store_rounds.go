package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// CreateLobby inserts a fresh lobby round. The partial unique index on open
// lobbies turns a creation race into storage.ErrOpenLobbyExists.
func (s *Store) CreateLobby(ctx context.Context, round domain.Round) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not initialized")
	}
	if strings.TrimSpace(round.ID) == "" {
		return fmt.Errorf("round id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO rounds (id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at)
VALUES (?, ?, 0, ?, 0, 0, 0, ?, NULL)`,
		round.ID, round.GameTypeID, round.StakeCents, toMillis(round.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrOpenLobbyExists
		}
		return fmt.Errorf("insert lobby round: %w", err)
	}
	return nil
}

// GetRound loads a round by id.
func (s *Store) GetRound(ctx context.Context, roundID string) (domain.Round, error) {
	if s == nil || s.sqlDB == nil {
		return domain.Round{}, fmt.Errorf("store is not initialized")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at
FROM rounds WHERE id = ?`, roundID)
	return scanRound(row)
}

// OpenLobby loads the single open lobby for a game type.
func (s *Store) OpenLobby(ctx context.Context, gameTypeID string) (domain.Round, error) {
	if s == nil || s.sqlDB == nil {
		return domain.Round{}, fmt.Errorf("store is not initialized")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at
FROM rounds WHERE game_type_id = ? AND active = 0 AND ended_at IS NULL`, gameTypeID)
	return scanRound(row)
}

// ActiveRound loads the running round for a game type, if any.
func (s *Store) ActiveRound(ctx context.Context, gameTypeID string) (domain.Round, error) {
	if s == nil || s.sqlDB == nil {
		return domain.Round{}, fmt.Errorf("store is not initialized")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at
FROM rounds WHERE game_type_id = ? AND active = 1 AND ended_at IS NULL
ORDER BY created_at DESC LIMIT 1`, gameTypeID)
	return scanRound(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (domain.Round, error) {
	var round domain.Round
	var active int
	var createdAt int64
	var endedAt sql.NullInt64
	err := row.Scan(&round.ID, &round.GameTypeID, &active, &round.StakeCents,
		&round.CardsSold, &round.PrizeCents, &round.HouseCents, &createdAt, &endedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Round{}, storage.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("scan round: %w", err)
	}
	round.Active = active != 0
	round.CreatedAt = fromMillis(createdAt)
	round.EndedAt = fromNullMillis(endedAt)
	return round, nil
}

// ActivateRound runs the activation transaction: validate the roster against
// wallet balances, deduct stakes bonus-first, write stake ledger rows,
// decide the house-free counter, split the pot, and flip the round active.
// Players who cannot cover their held cards are dropped; if fewer than
// domain.MinPlayers remain the whole transaction rolls back with
// storage.ErrNotEnoughPlayers.
func (s *Store) ActivateRound(ctx context.Context, input storage.ActivateInput) (storage.ActivateResult, error) {
	var result storage.ActivateResult

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		round, err := getRoundTx(ctx, tx, input.RoundID)
		if err != nil {
			return err
		}
		if round.Active || round.EndedAt != nil {
			return storage.ErrRoundNotActive
		}

		nowMillis := toMillis(input.Now)
		var totalCards int64

		for _, entry := range input.Roster {
			if len(entry.CardIDs) == 0 {
				continue
			}
			cost := round.StakeCents * int64(len(entry.CardIDs))

			wallet, err := getWalletTx(ctx, tx, entry.PlayerID)
			if err != nil && err != storage.ErrNotFound {
				return err
			}
			if wallet.MainCents+wallet.BonusCents < cost {
				result.Insolvent = append(result.Insolvent, entry.PlayerID)
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM player_sessions WHERE round_id = ? AND player_id = ?",
					round.ID, entry.PlayerID); err != nil {
					return fmt.Errorf("drop insolvent session: %w", err)
				}
				continue
			}

			fromBonus := min64(wallet.BonusCents, cost)
			fromMain := cost - fromBonus
			if _, err := tx.ExecContext(ctx, `
UPDATE wallets SET bonus_cents = bonus_cents - ?, main_cents = main_cents - ?, updated_at = ?
WHERE player_id = ?`,
				fromBonus, fromMain, nowMillis, entry.PlayerID); err != nil {
				return fmt.Errorf("deduct stake: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger (round_id, player_id, kind, amount_cents, created_at)
VALUES (?, ?, ?, ?, ?)`,
				round.ID, entry.PlayerID, string(domain.EntryStake), -cost, nowMillis); err != nil {
				return fmt.Errorf("insert stake entry: %w", err)
			}

			cardsJSON, err := json.Marshal(entry.CardIDs)
			if err != nil {
				return fmt.Errorf("encode card ids: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE player_sessions SET cards_json = ?, updated_at = ? WHERE round_id = ? AND player_id = ?`,
				string(cardsJSON), nowMillis, round.ID, entry.PlayerID); err != nil {
				return fmt.Errorf("record session cards: %w", err)
			}

			for _, cardID := range entry.CardIDs {
				if _, err := tx.ExecContext(ctx, `
INSERT INTO cards (game_type_id, card_id, claimed, owner_id, round_id, updated_at)
VALUES (?, ?, 1, ?, ?, ?)
ON CONFLICT (game_type_id, card_id) DO UPDATE SET
    claimed = 1, owner_id = excluded.owner_id, round_id = excluded.round_id, updated_at = excluded.updated_at`,
					round.GameTypeID, cardID, entry.PlayerID, round.ID, nowMillis); err != nil {
					return fmt.Errorf("record card ownership: %w", err)
				}
			}

			totalCards += int64(len(entry.CardIDs))
			result.Solvent = append(result.Solvent, entry)
		}

		if len(result.Solvent) < domain.MinPlayers {
			return storage.ErrNotEnoughPlayers
		}

		day := input.Now.UTC().Format("2006-01-02")
		if _, err := tx.ExecContext(ctx, `
INSERT INTO round_counters (game_type_id, day, started) VALUES (?, ?, 1)
ON CONFLICT (game_type_id, day) DO UPDATE SET started = started + 1`,
			round.GameTypeID, day); err != nil {
			return fmt.Errorf("bump round counter: %w", err)
		}
		var nthToday int64
		if err := tx.QueryRowContext(ctx,
			"SELECT started FROM round_counters WHERE game_type_id = ? AND day = ?",
			round.GameTypeID, day).Scan(&nthToday); err != nil {
			return fmt.Errorf("read round counter: %w", err)
		}

		pot := round.StakeCents * totalCards
		houseFree := domain.IsHouseFree(nthToday)
		prize, house := domain.SplitPot(pot, houseFree)

		res, err := tx.ExecContext(ctx, `
UPDATE rounds SET active = 1, cards_sold = ?, prize_cents = ?, house_cents = ?
WHERE id = ? AND active = 0 AND ended_at IS NULL`,
			totalCards, prize, house, round.ID)
		if err != nil {
			return fmt.Errorf("activate round: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("activate round result: %w", err)
		}
		if affected != 1 {
			return storage.ErrRoundNotActive
		}

		round.Active = true
		round.CardsSold = int(totalCards)
		round.PrizeCents = prize
		round.HouseCents = house

		result.Round = round
		result.PotCents = pot
		result.HouseFree = houseFree
		result.NthToday = nthToday
		return nil
	})
	if err != nil {
		return storage.ActivateResult{}, err
	}
	return result, nil
}

// SettleRound runs the settlement transaction: credit the winner, write the
// winnings and house ledger rows, mark the round ended, open the next
// lobby, and release the round's cards and sessions. Marking ended guards
// on the round still being active so a racing settlement loses cleanly.
func (s *Store) SettleRound(ctx context.Context, input storage.SettleInput) (storage.SettleResult, error) {
	var result storage.SettleResult

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		round, err := getRoundTx(ctx, tx, input.RoundID)
		if err != nil {
			return err
		}
		if !round.Active || round.EndedAt != nil {
			return storage.ErrRoundNotActive
		}

		nowMillis := toMillis(input.Now)

		res, err := tx.ExecContext(ctx, `
UPDATE rounds SET active = 0, ended_at = ? WHERE id = ? AND active = 1 AND ended_at IS NULL`,
			nowMillis, round.ID)
		if err != nil {
			return fmt.Errorf("end round: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("end round result: %w", err)
		}
		if affected != 1 {
			return storage.ErrRoundNotActive
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO wallets (player_id, main_cents, bonus_cents, updated_at) VALUES (?, ?, 0, ?)
ON CONFLICT (player_id) DO UPDATE SET main_cents = main_cents + excluded.main_cents, updated_at = excluded.updated_at`,
			input.WinnerID, round.PrizeCents, nowMillis); err != nil {
			return fmt.Errorf("credit winner: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger (round_id, player_id, kind, amount_cents, created_at)
VALUES (?, ?, ?, ?, ?)`,
			round.ID, input.WinnerID, string(domain.EntryWinnings), round.PrizeCents, nowMillis); err != nil {
			return fmt.Errorf("insert winnings entry: %w", err)
		}
		if round.HouseCents > 0 {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger (round_id, player_id, kind, amount_cents, created_at)
VALUES (?, '', ?, ?, ?)`,
				round.ID, string(domain.EntryHouse), round.HouseCents, nowMillis); err != nil {
				return fmt.Errorf("insert house entry: %w", err)
			}
		}

		nextLobby, err := insertNextLobbyTx(ctx, tx, input.NextLobby)
		if err != nil {
			return err
		}

		if err := releaseRoundTx(ctx, tx, round.ID, nowMillis); err != nil {
			return err
		}

		wallet, err := getWalletTx(ctx, tx, input.WinnerID)
		if err != nil {
			return err
		}

		endedAt := fromMillis(nowMillis)
		round.Active = false
		round.EndedAt = &endedAt

		result.Round = round
		result.NextLobby = nextLobby
		result.PrizeCents = round.PrizeCents
		result.WinnerBalance = wallet
		return nil
	})
	if err != nil {
		return storage.SettleResult{}, err
	}
	return result, nil
}

// EndRound ends a round without a winner. With Refund set each stake entry
// is reversed into the player's main balance.
func (s *Store) EndRound(ctx context.Context, input storage.EndInput) (domain.Round, error) {
	var ended domain.Round

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		round, err := getRoundTx(ctx, tx, input.RoundID)
		if err != nil {
			return err
		}
		if round.EndedAt != nil {
			return storage.ErrRoundNotActive
		}

		nowMillis := toMillis(input.Now)

		res, err := tx.ExecContext(ctx, `
UPDATE rounds SET active = 0, ended_at = ? WHERE id = ? AND ended_at IS NULL`,
			nowMillis, round.ID)
		if err != nil {
			return fmt.Errorf("end round: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("end round result: %w", err)
		}
		if affected != 1 {
			return storage.ErrRoundNotActive
		}

		if input.Refund {
			if err := refundStakesTx(ctx, tx, round.ID, nowMillis); err != nil {
				return err
			}
		}

		if strings.TrimSpace(input.NextLobby.ID) != "" {
			if _, err := insertNextLobbyTx(ctx, tx, input.NextLobby); err != nil {
				return err
			}
		}

		if err := releaseRoundTx(ctx, tx, round.ID, nowMillis); err != nil {
			return err
		}

		endedAt := fromMillis(nowMillis)
		round.Active = false
		round.EndedAt = &endedAt
		ended = round
		return nil
	})
	if err != nil {
		return domain.Round{}, err
	}
	return ended, nil
}

func getRoundTx(ctx context.Context, tx *sql.Tx, roundID string) (domain.Round, error) {
	row := tx.QueryRowContext(ctx, `
SELECT id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at
FROM rounds WHERE id = ?`, roundID)
	return scanRound(row)
}

// insertNextLobbyTx opens the next lobby, tolerating a concurrent creation:
// losing the unique-index race means another settlement already opened it.
func insertNextLobbyTx(ctx context.Context, tx *sql.Tx, lobby domain.Round) (domain.Round, error) {
	_, err := tx.ExecContext(ctx, `
INSERT INTO rounds (id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at)
VALUES (?, ?, 0, ?, 0, 0, 0, ?, NULL)`,
		lobby.ID, lobby.GameTypeID, lobby.StakeCents, toMillis(lobby.CreatedAt))
	if err == nil {
		return lobby, nil
	}
	if !isUniqueViolation(err) {
		return domain.Round{}, fmt.Errorf("insert next lobby: %w", err)
	}
	row := tx.QueryRowContext(ctx, `
SELECT id, game_type_id, active, stake_cents, cards_sold, prize_cents, house_cents, created_at, ended_at
FROM rounds WHERE game_type_id = ? AND active = 0 AND ended_at IS NULL`, lobby.GameTypeID)
	return scanRound(row)
}

// releaseRoundTx frees the round's cards and removes its player sessions.
func releaseRoundTx(ctx context.Context, tx *sql.Tx, roundID string, nowMillis int64) error {
	if _, err := tx.ExecContext(ctx, `
UPDATE cards SET claimed = 0, owner_id = '', round_id = '', updated_at = ? WHERE round_id = ?`,
		nowMillis, roundID); err != nil {
		return fmt.Errorf("release cards: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM player_sessions WHERE round_id = ?", roundID); err != nil {
		return fmt.Errorf("clear player sessions: %w", err)
	}
	return nil
}

// refundStakesTx reverses every stake entry of the round into main balance.
func refundStakesTx(ctx context.Context, tx *sql.Tx, roundID string, nowMillis int64) error {
	rows, err := tx.QueryContext(ctx, `
SELECT player_id, amount_cents FROM ledger WHERE round_id = ? AND kind = ?`,
		roundID, string(domain.EntryStake))
	if err != nil {
		return fmt.Errorf("list stake entries: %w", err)
	}
	defer rows.Close()

	type stake struct {
		playerID string
		amount   int64
	}
	var stakes []stake
	for rows.Next() {
		var entry stake
		if err := rows.Scan(&entry.playerID, &entry.amount); err != nil {
			return fmt.Errorf("scan stake entry: %w", err)
		}
		stakes = append(stakes, entry)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read stake entries: %w", err)
	}

	for _, entry := range stakes {
		refund := -entry.amount
		if refund <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE wallets SET main_cents = main_cents + ?, updated_at = ? WHERE player_id = ?`,
			refund, nowMillis, entry.playerID); err != nil {
			return fmt.Errorf("refund stake: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger (round_id, player_id, kind, amount_cents, created_at)
VALUES (?, ?, ?, ?, ?)`,
			roundID, entry.playerID, string(domain.EntryRefund), refund, nowMillis); err != nil {
			return fmt.Errorf("insert refund entry: %w", err)
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
