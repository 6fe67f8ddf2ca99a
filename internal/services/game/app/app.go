// Package app coordinates the round lifecycle of a bingo hall: card
// arbitration, countdown and activation, draw sequencing, winner
// resolution, and presence. Contention is resolved through the shared
// fast store; money only moves inside durable-store transactions.
package app

import (
	"fmt"
	"time"

	"github.com/louisbranch/bingohall/internal/platform/broker"
	"github.com/louisbranch/bingohall/internal/platform/fastkv"
	"github.com/louisbranch/bingohall/internal/platform/id"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// DefaultStakeCents is the per-card stake used when a game type has no
// configured price.
const DefaultStakeCents = 500

// Stores groups the durable persistence dependencies of the app.
type Stores struct {
	Rounds   storage.RoundStore
	Sessions storage.SessionStore
	Wallets  storage.WalletStore
	Ledger   storage.LedgerStore
	Cards    storage.CardStore
	Jobs     storage.JobStore
	History  storage.HistoryStore
}

// App is the room coordination engine. One App instance serves every game
// type; per-room state lives in the shared fast store and the durable store,
// so multiple instances can serve the same rooms.
type App struct {
	stores     Stores
	fast       *fastkv.Store
	broadcast  *broker.Broadcaster
	clock      func() time.Time
	newID      func() (string, error)
	timers     *timerRegistry
	stakeCents int64
}

// Option adjusts app construction.
type Option func(*App)

// WithClock injects a deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(a *App) {
		a.clock = clock
	}
}

// WithIDGenerator injects a deterministic id source.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(a *App) {
		a.newID = generator
	}
}

// WithStakeCents overrides the per-card stake for new lobbies. Non-positive
// values keep the default.
func WithStakeCents(stakeCents int64) Option {
	return func(a *App) {
		if stakeCents > 0 {
			a.stakeCents = stakeCents
		}
	}
}

// New wires a room coordination engine.
func New(stores Stores, fast *fastkv.Store, broadcast *broker.Broadcaster, opts ...Option) (*App, error) {
	if stores.Rounds == nil || stores.Sessions == nil || stores.Wallets == nil || stores.Jobs == nil {
		return nil, fmt.Errorf("round, session, wallet, and job stores are required")
	}
	if fast == nil {
		return nil, fmt.Errorf("fast store is required")
	}

	app := &App{
		stores:     stores,
		fast:       fast,
		broadcast:  broadcast,
		clock:      time.Now,
		newID:      id.NewID,
		timers:     newTimerRegistry(),
		stakeCents: DefaultStakeCents,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app, nil
}

// Close stops every in-process timer. Pending countdowns and draw loops on
// other instances are unaffected.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.timers.stopAll()
}

func (a *App) now() time.Time {
	return a.clock().UTC()
}
