package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/bingohall/internal/platform/broker"
	"github.com/louisbranch/bingohall/internal/platform/fastkv"
	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage/sqlite"
)

const testGameType = "bingo-75"

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// eventLog captures broadcast envelopes so tests can assert on the room
// events an operation produced.
type eventLog struct {
	mu     sync.Mutex
	events []broker.Envelope
}

func (l *eventLog) deliver(gameTypeID string, envelope broker.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, envelope)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]string, 0, len(l.events))
	for _, e := range l.events {
		types = append(types, e.T)
	}
	return types
}

func (l *eventLog) has(eventType string) bool {
	for _, t := range l.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func newTestApp(t *testing.T, opts ...Option) (*App, *sqlite.Store, *fastkv.Store, *eventLog) {
	t.Helper()

	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "game.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fast, err := fastkv.Open(filepath.Join(dir, "fast.db"))
	if err != nil {
		t.Fatalf("open fast store: %v", err)
	}
	t.Cleanup(func() { fast.Close() })

	events := &eventLog{}
	var mu sync.Mutex
	var seq int
	options := append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq), nil
		}),
	}, opts...)
	engine, err := New(Stores{
		Rounds:   store,
		Sessions: store,
		Wallets:  store,
		Ledger:   store,
		Cards:    store,
		Jobs:     store,
		History:  store,
	}, fast, broker.NewLocalBroadcaster(events.deliver), options...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, fast, events
}

// join funds a player, connects them, and optionally selects cards.
// Returns the lobby round id.
func join(t *testing.T, engine *App, store *sqlite.Store, playerID string, cents int64, cards ...string) string {
	t.Helper()
	ctx := context.Background()

	if cents > 0 {
		if err := store.Credit(ctx, playerID, cents, 0); err != nil {
			t.Fatalf("credit %s: %v", playerID, err)
		}
	}
	state, err := engine.Connect(ctx, testGameType, playerID, "conn-"+playerID)
	if err != nil {
		t.Fatalf("connect %s: %v", playerID, err)
	}
	if len(cards) > 0 {
		if _, err := engine.SelectCards(ctx, SelectCardsInput{
			GameTypeID: testGameType,
			PlayerID:   playerID,
			CardIDs:    cards,
		}); err != nil {
			t.Fatalf("select cards %s: %v", playerID, err)
		}
	}
	return state.RoundID
}

// startActiveRound builds a two-player room and activates it directly,
// skipping the countdown timers.
func startActiveRound(t *testing.T, engine *App, store *sqlite.Store) string {
	t.Helper()
	ctx := context.Background()

	roundID := join(t, engine, store, "alice", 2000, "11")
	join(t, engine, store, "bob", 2000, "22")

	engine.activateRound(ctx, testGameType, roundID)

	round, err := store.GetRound(ctx, roundID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if !round.Active {
		t.Fatalf("round %s did not activate", roundID)
	}
	return roundID
}

// rowValues returns the five values of one card row, top row is 1.
func rowValues(t *testing.T, cardID string, row int) []int {
	t.Helper()
	card, err := domain.CardForID(cardID)
	if err != nil {
		t.Fatalf("card for id %s: %v", cardID, err)
	}
	values := make([]int, 0, 5)
	for col := 0; col < 5; col++ {
		v := card.Grid[col][row-1]
		if v == 0 {
			continue
		}
		values = append(values, v)
	}
	return values
}

func pushDraws(t *testing.T, fast *fastkv.Store, roundID string, values ...int) {
	t.Helper()
	ctx := context.Background()
	for _, v := range values {
		if _, err := fast.RPush(ctx, keyDrawHistory(roundID), strconv.Itoa(v)); err != nil {
			t.Fatalf("push draw %d: %v", v, err)
		}
	}
}

func walletMain(t *testing.T, store *sqlite.Store, playerID string) int64 {
	t.Helper()
	wallet, err := store.GetWallet(context.Background(), playerID)
	if err != nil {
		t.Fatalf("get wallet %s: %v", playerID, err)
	}
	return wallet.MainCents
}
