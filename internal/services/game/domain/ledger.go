package domain

import "time"

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	// EntryStake is a per-player stake deduction (negative amount).
	EntryStake EntryKind = "stake"
	// EntryWinnings is the winner's prize credit (positive amount).
	EntryWinnings EntryKind = "winnings"
	// EntryHouse is the house share of the pot (positive amount).
	EntryHouse EntryKind = "house"
	// EntryRefund is a stake returned after an aborted round (positive amount).
	EntryRefund EntryKind = "refund"
)

// LedgerEntry is one append-only financial fact about a round.
type LedgerEntry struct {
	ID          int64
	RoundID     string
	PlayerID    string // empty for house entries
	Kind        EntryKind
	AmountCents int64
	CreatedAt   time.Time
}

// NetCents sums entry amounts. A fully settled round nets to zero once the
// house entry is included.
func NetCents(entries []LedgerEntry) int64 {
	var total int64
	for _, entry := range entries {
		total += entry.AmountCents
	}
	return total
}
