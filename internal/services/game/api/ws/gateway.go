// Package ws exposes the game engine over websockets. The gateway owns
// connection lifecycles and room fanout; every gameplay decision lives in
// the app layer.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"nhooyr.io/websocket"

	"github.com/louisbranch/bingohall/internal/platform/broker"
	"github.com/louisbranch/bingohall/internal/platform/timeouts"
	"github.com/louisbranch/bingohall/internal/services/game/app"
)

// Engine is the slice of the app layer the gateway drives.
type Engine interface {
	Connect(ctx context.Context, gameTypeID, playerID, connID string) (app.JoinState, error)
	Disconnect(ctx context.Context, gameTypeID, playerID, connID string) error
	TouchPresence(ctx context.Context, playerID, connID string) error
	Dispatch(ctx context.Context, client app.Client, raw []byte) broker.Envelope
}

type client struct {
	connID   string
	playerID string
	send     chan []byte
}

// Gateway accepts player websockets and fans room notifications out to them.
type Gateway struct {
	engine Engine
	relay  *broker.Broadcaster

	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
	subs  map[string]*nats.Subscription
}

func NewGateway() *Gateway {
	return &Gateway{
		rooms: make(map[string]map[*client]struct{}),
		subs:  make(map[string]*nats.Subscription),
	}
}

// Attach binds the engine after construction. The engine's broadcaster and
// the gateway reference each other, so wiring happens in two steps.
func (g *Gateway) Attach(engine Engine) {
	g.engine = engine
}

// RelayFrom subscribes the gateway to broker rooms so notifications
// published by other instances reach clients connected here.
func (g *Gateway) RelayFrom(relay *broker.Broadcaster) {
	g.relay = relay
}

// Deliver fans one envelope out to every client in a game-type room. Slow
// clients are skipped; state snapshots on reconnect cover any gap.
func (g *Gateway) Deliver(gameTypeID string, envelope broker.Envelope) {
	body, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("marshal %s envelope: %v", envelope.T, err)
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.rooms[gameTypeID] {
		select {
		case c.send <- body:
		default:
		}
	}
}

func (g *Gateway) join(gameTypeID string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[gameTypeID]
	if !ok {
		room = make(map[*client]struct{})
		g.rooms[gameTypeID] = room
		if g.relay != nil {
			sub, err := g.relay.Subscribe(gameTypeID, func(envelope broker.Envelope) {
				g.Deliver(gameTypeID, envelope)
			})
			if err != nil {
				log.Printf("subscribe room %s: %v", gameTypeID, err)
			} else if sub != nil {
				g.subs[gameTypeID] = sub
			}
		}
	}
	room[c] = struct{}{}
}

func (g *Gateway) leave(gameTypeID string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[gameTypeID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) > 0 {
		return
	}
	delete(g.rooms, gameTypeID)
	if sub, ok := g.subs[gameTypeID]; ok {
		delete(g.subs, gameTypeID)
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("unsubscribe room %s: %v", gameTypeID, err)
		}
	}
}

type joinedPayload struct {
	RoundID          string   `json:"round_id"`
	Phase            string   `json:"phase"`
	StakeCents       int64    `json:"stake_cents"`
	PrizeCents       int64    `json:"prize_cents,omitempty"`
	CountdownSeconds int      `json:"countdown_seconds,omitempty"`
	DrawHistory      []int    `json:"draw_history,omitempty"`
	HeldCards        []string `json:"held_cards,omitempty"`
	LivePlayers      int64    `json:"live_players"`
}

func joinedEnvelope(state app.JoinState) ([]byte, error) {
	payload, err := json.Marshal(joinedPayload{
		RoundID:          state.RoundID,
		Phase:            string(state.Phase),
		StakeCents:       state.StakeCents,
		PrizeCents:       state.PrizeCents,
		CountdownSeconds: state.CountdownSeconds,
		DrawHistory:      state.DrawHistory,
		HeldCards:        state.HeldCards,
		LivePlayers:      state.LivePlayers,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal joined payload: %w", err)
	}
	return json.Marshal(broker.Envelope{T: "joined", M: payload})
}

// ServeWS upgrades one player connection and pumps messages until it drops.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if g == nil || g.engine == nil {
		http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
		return
	}
	gameTypeID := strings.TrimSpace(r.URL.Query().Get("game_type"))
	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	if gameTypeID == "" || playerID == "" {
		http.Error(w, "game_type and player_id are required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	c := &client{
		connID:   uuid.NewString(),
		playerID: playerID,
		send:     make(chan []byte, 64),
	}
	g.join(gameTypeID, c)
	log.Printf("ws connect room=%s player=%s conn=%s", gameTypeID, playerID, c.connID)

	// writer
	go func() {
		ping := time.NewTicker(15 * time.Second)
		defer func() {
			ping.Stop()
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
		}()
		for {
			select {
			case msg, ok := <-c.send:
				if !ok {
					return
				}
				_ = conn.Write(r.Context(), websocket.MessageText, msg)
			case <-ping.C:
				if err := conn.Ping(r.Context()); err != nil {
					continue
				}
				if err := g.engine.TouchPresence(r.Context(), playerID, c.connID); err != nil {
					log.Printf("ws touch room=%s player=%s: %v", gameTypeID, playerID, err)
				}
			}
		}
	}()

	state, err := g.engine.Connect(r.Context(), gameTypeID, playerID, c.connID)
	if err != nil {
		log.Printf("ws join room=%s player=%s: %v", gameTypeID, playerID, err)
		g.leave(gameTypeID, c)
		close(c.send)
		return
	}
	if body, err := joinedEnvelope(state); err != nil {
		log.Printf("ws joined room=%s player=%s: %v", gameTypeID, playerID, err)
	} else {
		c.send <- body
	}

	engineClient := app.Client{GameTypeID: gameTypeID, PlayerID: playerID, ConnID: c.connID}
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			break
		}
		reply := g.engine.Dispatch(r.Context(), engineClient, data)
		body, err := json.Marshal(reply)
		if err != nil {
			log.Printf("marshal %s reply: %v", reply.T, err)
			continue
		}
		select {
		case c.send <- body:
		default:
		}
	}

	g.leave(gameTypeID, c)
	close(c.send)
	if err := g.engine.Disconnect(context.Background(), gameTypeID, playerID, c.connID); err != nil {
		log.Printf("ws disconnect room=%s player=%s: %v", gameTypeID, playerID, err)
	}
	log.Printf("ws disconnect room=%s player=%s conn=%s", gameTypeID, playerID, c.connID)
}

// Serve runs the websocket endpoint until the context ends.
func (g *Gateway) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.ServeWS)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve websocket gateway: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shut down websocket gateway: %w", err)
	}
	<-serveErr
	return nil
}
