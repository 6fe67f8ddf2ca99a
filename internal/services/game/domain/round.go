package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/bingohall/internal/platform/id"
)

// MinPlayers is the connected-player threshold a lobby must meet before a
// countdown may start.
const MinPlayers = 2

// CountdownSeconds is the lobby countdown duration.
const CountdownSeconds = 30

// HouseCutPercent is the house share of the pot on a regular round.
const HouseCutPercent = 10

// HouseFreeInterval waives the house cut every Nth round of the day.
const HouseFreeInterval = 7

// FirstCallDelay is the pause between activation and the first call.
const FirstCallDelay = 10 * time.Second

// CallInterval is the pause between subsequent calls.
const CallInterval = 5 * time.Second

var (
	// ErrEmptyGameTypeID indicates a missing game-type id.
	ErrEmptyGameTypeID = errors.New("game type id is required")
	// ErrInvalidStake indicates a non-positive stake.
	ErrInvalidStake = errors.New("stake must be positive")
	// ErrRoundEnded indicates a transition on an already-ended round.
	ErrRoundEnded = errors.New("round already ended")
)

// ConnStatus is a player's connection state within a round.
type ConnStatus string

const (
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
)

// Round is one playable instance of a game type. A round with Active false
// and no EndedAt is the open lobby for its game type; there is at most one
// such round per game type at any time.
type Round struct {
	ID         string
	GameTypeID string
	Active     bool
	StakeCents int64
	CardsSold  int
	PrizeCents int64
	HouseCents int64
	CreatedAt  time.Time
	EndedAt    *time.Time // nil until the round ends
}

// PlayerSession is one player's membership in one round.
type PlayerSession struct {
	RoundID  string
	PlayerID string
	Status   ConnStatus
	CardIDs  []string
}

// CreateRoundInput carries the metadata needed to open a lobby.
type CreateRoundInput struct {
	GameTypeID string
	StakeCents int64
}

// CreateRound opens a fresh lobby round with a generated id.
func CreateRound(input CreateRoundInput, now func() time.Time, idGenerator func() (string, error)) (Round, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.GameTypeID = strings.TrimSpace(input.GameTypeID)
	if input.GameTypeID == "" {
		return Round{}, ErrEmptyGameTypeID
	}
	if input.StakeCents <= 0 {
		return Round{}, ErrInvalidStake
	}

	roundID, err := idGenerator()
	if err != nil {
		return Round{}, fmt.Errorf("generate round id: %w", err)
	}

	return Round{
		ID:         roundID,
		GameTypeID: input.GameTypeID,
		Active:     false,
		StakeCents: input.StakeCents,
		CreatedAt:  now().UTC(),
	}, nil
}

// SplitPot divides the pot into prize and house shares. On a house-free
// round the full pot becomes the prize.
func SplitPot(potCents int64, houseFree bool) (prizeCents, houseCents int64) {
	if houseFree {
		return potCents, 0
	}
	houseCents = potCents * HouseCutPercent / 100
	return potCents - houseCents, houseCents
}

// IsHouseFree reports whether the nth round started today waives the cut.
func IsHouseFree(nthToday int64) bool {
	return nthToday > 0 && nthToday%HouseFreeInterval == 0
}

// End marks the round ended. Ending twice is an error; callers treat it as
// an expected race, not a fault.
func (r *Round) End(now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if r.EndedAt != nil {
		return ErrRoundEnded
	}
	endedAt := now().UTC()
	r.Active = false
	r.EndedAt = &endedAt
	return nil
}
