package app

import "log"

// Room event names carried in the broadcast envelope's t field.
const (
	EventPlayerCount       = "playerCount"
	EventCardsUpdate       = "cardsUpdate"
	EventCountdown         = "countdown"
	EventRoundStarted      = "roundStarted"
	EventActivationAborted = "activationAborted"
	EventPlayerDropped     = "playerDropped"
	EventCall              = "call"
	EventBingo             = "bingo"
	EventRoundEnded        = "roundEnded"
	EventLobbyOpened       = "lobbyOpened"
)

// notify publishes a room event, logging instead of failing: a dropped
// broadcast degrades the clients' view, not the round's state.
func (a *App) notify(gameTypeID, event string, payload any) {
	if err := a.broadcast.Publish(gameTypeID, event, payload); err != nil {
		log.Printf("broadcast event=%s game_type=%s err=%v", event, gameTypeID, err)
	}
}

type playerCountPayload struct {
	RoundID string `json:"round_id"`
	Players int64  `json:"players"`
}

type cardsUpdatePayload struct {
	PlayerID string   `json:"player_id"`
	Held     []string `json:"held"`
	Added    []string `json:"added,omitempty"`
	Released []string `json:"released,omitempty"`
}

type countdownPayload struct {
	RoundID string `json:"round_id"`
	Seconds int    `json:"seconds"`
}

type roundStartedPayload struct {
	RoundID    string `json:"round_id"`
	PrizeCents int64  `json:"prize_cents"`
	CardsSold  int    `json:"cards_sold"`
	HouseFree  bool   `json:"house_free"`
}

type callPayload struct {
	RoundID string `json:"round_id"`
	Letter  string `json:"letter"`
	Value   int    `json:"value"`
	Index   int    `json:"index"`
}

type bingoPayload struct {
	RoundID    string `json:"round_id"`
	PlayerID   string `json:"player_id"`
	CardID     string `json:"card_id"`
	Pattern    string `json:"pattern"`
	PrizeCents int64  `json:"prize_cents"`
}

type roundEndedPayload struct {
	RoundID  string `json:"round_id"`
	WinnerID string `json:"winner_id,omitempty"`
	Refunded bool   `json:"refunded,omitempty"`
}

type lobbyOpenedPayload struct {
	RoundID    string `json:"round_id"`
	StakeCents int64  `json:"stake_cents"`
}
