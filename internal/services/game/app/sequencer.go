package app

import (
	"context"
	"log"
	"strconv"

	"github.com/louisbranch/bingohall/internal/platform/timeouts"
	"github.com/louisbranch/bingohall/internal/services/game/domain"
)

// drawNext advances the round's draw sequence by one call. The cursor lives
// in the shared store, so a second instance taking over after a crash
// resumes from the next undrawn value rather than repeating calls.
func (a *App) drawNext(gameTypeID, roundID string) {
	ctx := context.Background()

	live, err := a.fast.SCard(ctx, keyLivePlayers(roundID))
	if err != nil {
		log.Printf("count live players round=%s err=%v", roundID, err)
		a.scheduleNextDraw(gameTypeID, roundID)
		return
	}
	if live == 0 {
		log.Printf("room emptied round=%s game_type=%s", roundID, gameTypeID)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}

	cursor, err := a.fast.Incr(ctx, keyDrawCursor(roundID))
	if err != nil {
		log.Printf("advance draw cursor round=%s err=%v", roundID, err)
		a.scheduleNextDraw(gameTypeID, roundID)
		return
	}
	if cursor > domain.CallDomain {
		log.Printf("draw sequence exhausted round=%s", roundID)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}

	encoded, found, err := a.fast.Get(ctx, keyDrawOrder(roundID))
	if err != nil || !found {
		log.Printf("load draw order round=%s found=%t err=%v", roundID, found, err)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}
	order, err := domain.DecodeDrawOrder(encoded)
	if err != nil {
		log.Printf("decode draw order round=%s err=%v", roundID, err)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}

	value := order[cursor-1]
	letter, err := domain.Letter(value)
	if err != nil {
		log.Printf("letter for value=%d round=%s err=%v", value, roundID, err)
		a.endWithoutWinner(ctx, gameTypeID, roundID)
		return
	}

	if _, err := a.fast.RPush(ctx, keyDrawHistory(roundID), strconv.Itoa(value)); err != nil {
		log.Printf("append draw history round=%s err=%v", roundID, err)
	}
	// The active flag is a heartbeat: it outlives a crashed sequencer by at
	// most its TTL.
	if err := a.fast.Set(ctx, keyRoundActive(roundID), "1", timeouts.ActiveFlagTTL); err != nil {
		log.Printf("refresh active flag round=%s err=%v", roundID, err)
	}

	a.notify(gameTypeID, EventCall, callPayload{
		RoundID: roundID,
		Letter:  letter,
		Value:   value,
		Index:   int(cursor),
	})
	a.scheduleNextDraw(gameTypeID, roundID)
}

func (a *App) scheduleNextDraw(gameTypeID, roundID string) {
	a.timers.schedule("draw:"+roundID, domain.CallInterval, func() {
		a.drawNext(gameTypeID, roundID)
	})
}

// DrawHistory returns the values called so far in a round, oldest first.
func (a *App) DrawHistory(ctx context.Context, roundID string) ([]int, error) {
	raw, err := a.fast.LRange(ctx, keyDrawHistory(roundID))
	if err != nil {
		return nil, err
	}
	history := make([]int, 0, len(raw))
	for _, item := range raw {
		value, err := strconv.Atoi(item)
		if err != nil {
			continue
		}
		history = append(history, value)
	}
	return history, nil
}
