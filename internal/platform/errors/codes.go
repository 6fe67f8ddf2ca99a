// Package errors provides structured error handling for the coordination engine.
package errors

// Code is a machine-readable error code.
type Code string

// Kind groups codes by how handlers are expected to treat them.
type Kind int

const (
	// KindInternal marks unexpected failures surfaced as a generic error.
	KindInternal Kind = iota
	// KindValidation marks bad input rejected before any state change.
	KindValidation
	// KindContention marks losses of expected concurrency races.
	KindContention
	// KindConsistency marks aborted transactions and missing records.
	KindConsistency
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"
	// CodeInternal represents an unexpected internal failure.
	CodeInternal Code = "INTERNAL"

	// Validation errors
	CodePlayerIDRequired    Code = "PLAYER_ID_REQUIRED"
	CodeGameTypeIDRequired  Code = "GAME_TYPE_ID_REQUIRED"
	CodeRoundIDRequired     Code = "ROUND_ID_REQUIRED"
	CodeCardIDRequired      Code = "CARD_ID_REQUIRED"
	CodeCardIDInvalid       Code = "CARD_ID_INVALID"
	CodeTokenRequired       Code = "IDEMPOTENCY_TOKEN_REQUIRED"
	CodeNotRoundMember      Code = "NOT_ROUND_MEMBER"
	CodePatternIncomplete   Code = "PATTERN_INCOMPLETE"
	CodePatternStale        Code = "PATTERN_NOT_RECENT"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// Contention errors
	CodeCardTaken        Code = "CARD_TAKEN"
	CodeNotCardOwner     Code = "NOT_CARD_OWNER"
	CodeLockHeld         Code = "LOCK_HELD"
	CodePlayerBusy       Code = "PLAYER_BUSY"
	CodeSessionNotActive Code = "SESSION_NOT_ACTIVE"
	CodeDuplicateRequest Code = "DUPLICATE_REQUEST"

	// Consistency errors
	CodeNotFound          Code = "NOT_FOUND"
	CodeNotEnoughPlayers  Code = "NOT_ENOUGH_PLAYERS"
	CodeActivationAborted Code = "ACTIVATION_ABORTED"
	CodeOpenLobbyExists   Code = "OPEN_LOBBY_EXISTS"
)

// kinds maps every known code to its handling class. Codes missing from the
// map are treated as internal.
var kinds = map[Code]Kind{
	CodePlayerIDRequired:    KindValidation,
	CodeGameTypeIDRequired:  KindValidation,
	CodeRoundIDRequired:     KindValidation,
	CodeCardIDRequired:      KindValidation,
	CodeCardIDInvalid:       KindValidation,
	CodeTokenRequired:       KindValidation,
	CodeNotRoundMember:      KindValidation,
	CodePatternIncomplete:   KindValidation,
	CodePatternStale:        KindValidation,
	CodeInsufficientBalance: KindValidation,

	CodeCardTaken:        KindContention,
	CodeNotCardOwner:     KindContention,
	CodeLockHeld:         KindContention,
	CodePlayerBusy:       KindContention,
	CodeSessionNotActive: KindContention,
	CodeDuplicateRequest: KindContention,

	CodeNotFound:          KindConsistency,
	CodeNotEnoughPlayers:  KindConsistency,
	CodeActivationAborted: KindConsistency,
	CodeOpenLobbyExists:   KindConsistency,
}

// KindOf returns the handling class for a code.
func (c Code) KindOf() Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindInternal
}
