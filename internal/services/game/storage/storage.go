// Package storage defines the durable-store contracts of the game service.
// The durable store is the arbiter of financial truth: activation and
// settlement are single multi-table transactions and the ledger is
// append-only.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/bingohall/internal/services/game/domain"
)

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrOpenLobbyExists indicates the per-game-type open-lobby slot is taken.
	ErrOpenLobbyExists = errors.New("open lobby already exists")
	// ErrRoundNotActive indicates a write raced an already-ended round.
	ErrRoundNotActive = errors.New("round is not active")
	// ErrNotEnoughPlayers indicates activation found too few solvent players.
	ErrNotEnoughPlayers = errors.New("not enough solvent players")
)

// Wallet is a player's balance pair. Bonus funds are consumed before main
// funds when stakes are deducted.
type Wallet struct {
	PlayerID   string
	MainCents  int64
	BonusCents int64
}

// RosterEntry is one player's committed card holding at activation time.
type RosterEntry struct {
	PlayerID string
	CardIDs  []string
}

// ActivateInput carries everything the activation transaction needs. The
// roster is the card-holding snapshot taken from the shared store at
// countdown expiry.
type ActivateInput struct {
	RoundID string
	Roster  []RosterEntry
	Now     time.Time
}

// ActivateResult reports the committed activation.
type ActivateResult struct {
	Round     domain.Round
	Solvent   []RosterEntry
	Insolvent []string
	PotCents  int64
	HouseFree bool
	NthToday  int64
}

// SettleInput carries everything the settlement transaction needs.
type SettleInput struct {
	RoundID   string
	WinnerID  string
	NextLobby domain.Round
	Now       time.Time
}

// SettleResult reports the committed settlement.
type SettleResult struct {
	Round         domain.Round
	NextLobby     domain.Round
	PrizeCents    int64
	WinnerBalance Wallet
}

// EndInput ends a round without a winner (draws exhausted, room emptied).
type EndInput struct {
	RoundID   string
	Refund    bool
	NextLobby domain.Round
	Now       time.Time
}

// Job is one durable background work item with at-least-once delivery.
type Job struct {
	ID            string
	Kind          string
	PayloadJSON   string
	DedupeKey     string
	Status        string
	AttemptCount  int32
	NextAttemptAt time.Time
	LeaseOwner    string
	LeaseExpires  time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job kinds processed by the worker runtime.
const (
	JobKindCleanup   = "presence.cleanup"
	JobKindHistory   = "round.history"
	JobKindReconcile = "cards.reconcile"
)

// Job statuses.
const (
	JobStatusPending = "pending"
	JobStatusDone    = "done"
	JobStatusDead    = "dead"
)

// HistoryRecord is one player's per-round outcome derived from the ledger.
type HistoryRecord struct {
	PlayerID   string
	RoundID    string
	Outcome    string
	StakeCents int64
	PrizeCents int64
	CreatedAt  time.Time
}

// History outcomes.
const (
	OutcomeWin  = "win"
	OutcomeLose = "lose"
)

// RoundStore persists round lifecycle state.
type RoundStore interface {
	CreateLobby(ctx context.Context, round domain.Round) error
	GetRound(ctx context.Context, roundID string) (domain.Round, error)
	OpenLobby(ctx context.Context, gameTypeID string) (domain.Round, error)
	ActiveRound(ctx context.Context, gameTypeID string) (domain.Round, error)
	ActivateRound(ctx context.Context, input ActivateInput) (ActivateResult, error)
	SettleRound(ctx context.Context, input SettleInput) (SettleResult, error)
	EndRound(ctx context.Context, input EndInput) (domain.Round, error)
}

// SessionStore persists per-round player membership.
type SessionStore interface {
	UpsertPlayerSession(ctx context.Context, session domain.PlayerSession) error
	GetPlayerSession(ctx context.Context, roundID, playerID string) (domain.PlayerSession, error)
	SetConnStatus(ctx context.Context, roundID, playerID string, status domain.ConnStatus) error
	ListPlayerSessions(ctx context.Context, roundID string) ([]domain.PlayerSession, error)
	CountConnected(ctx context.Context, roundID string) (int, error)
	RemovePlayerSession(ctx context.Context, roundID, playerID string) error
}

// WalletStore persists balances. Registration and top-up flows live outside
// this system; Credit exists for the payment boundary and tests.
type WalletStore interface {
	GetWallet(ctx context.Context, playerID string) (Wallet, error)
	Credit(ctx context.Context, playerID string, mainCents, bonusCents int64) error
}

// LedgerStore reads the append-only financial record.
type LedgerStore interface {
	ListLedger(ctx context.Context, roundID string) ([]domain.LedgerEntry, error)
}

// CardStore mirrors card ownership durably. The shared store is
// authoritative during gameplay; these writes are the deferred durable
// reflection used for recovery.
type CardStore interface {
	ReconcileCard(ctx context.Context, gameTypeID, cardID, ownerID, roundID string, claimed bool) error
	ListClaimedCards(ctx context.Context, gameTypeID string) (map[string]string, error)
}

// JobStore is the durable work queue feeding the worker runtime.
type JobStore interface {
	EnqueueJob(ctx context.Context, job Job) error
	LeaseJobs(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]Job, error)
	MarkJobDone(ctx context.Context, jobID, consumer string, now time.Time) error
	MarkJobFailed(ctx context.Context, jobID, consumer, lastError string, dead bool, nextAttempt, now time.Time) error
}

// HistoryStore persists per-player round outcomes.
type HistoryStore interface {
	AppendHistory(ctx context.Context, records []HistoryRecord) error
	ListHistory(ctx context.Context, playerID string, limit int) ([]HistoryRecord, error)
}
