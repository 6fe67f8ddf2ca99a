package domain

import "time"

// Phase is the part of the lifecycle a player was last seen in. It decides
// how long a disconnect may last before cleanup runs.
type Phase string

const (
	// PhaseLobby covers card selection before a round activates.
	PhaseLobby Phase = "lobby"
	// PhaseInRound covers an activated round.
	PhaseInRound Phase = "joinGame"
)

// GraceFor returns the reconnect window for a phase. A page reload during a
// live round gets a longer window than lobby browsing.
func GraceFor(phase Phase, lobbyGrace, inRoundGrace time.Duration) time.Duration {
	if phase == PhaseInRound {
		return inRoundGrace
	}
	return lobbyGrace
}
