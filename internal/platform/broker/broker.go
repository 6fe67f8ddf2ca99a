// Package broker wraps the NATS connection used to fan notifications out to
// every connected gateway, room-scoped by game-type id. Gameplay correctness
// never depends on a broadcast arriving; the shared and durable stores stay
// the source of truth.
package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "bingohall.room."

// Envelope is the wire form of every notification: a type tag and a payload.
type Envelope struct {
	T string          `json:"t"`
	M json.RawMessage `json:"m,omitempty"`
}

// Connect dials the NATS server with the shared client options.
func Connect(url, name string) (*nats.Conn, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Broadcaster publishes room-scoped notification envelopes.
type Broadcaster struct {
	nc    *nats.Conn
	local func(gameTypeID string, envelope Envelope)
}

// NewBroadcaster wraps a NATS connection. A nil connection yields a no-op
// broadcaster, which keeps unit tests free of a running server.
func NewBroadcaster(nc *nats.Conn) *Broadcaster {
	return &Broadcaster{nc: nc}
}

// NewLocalBroadcaster delivers envelopes in-process instead of over NATS.
// Used when a single instance serves every room.
func NewLocalBroadcaster(deliver func(gameTypeID string, envelope Envelope)) *Broadcaster {
	return &Broadcaster{local: deliver}
}

// Publish sends one notification to every subscriber of a game-type room.
func (b *Broadcaster) Publish(gameTypeID, event string, payload any) error {
	if b == nil || (b.nc == nil && b.local == nil) {
		return nil
	}
	gameTypeID = strings.TrimSpace(gameTypeID)
	if gameTypeID == "" {
		return fmt.Errorf("game type id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	if b.nc == nil {
		b.local(gameTypeID, Envelope{T: event, M: body})
		return nil
	}
	envelope, err := json.Marshal(Envelope{T: event, M: body})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	if err := b.nc.Publish(subjectPrefix+gameTypeID, envelope); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// Subscribe delivers every envelope published to a game-type room.
func (b *Broadcaster) Subscribe(gameTypeID string, handler func(Envelope)) (*nats.Subscription, error) {
	if b == nil || b.nc == nil {
		return nil, nil
	}
	gameTypeID = strings.TrimSpace(gameTypeID)
	if gameTypeID == "" {
		return nil, fmt.Errorf("game type id is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	sub, err := b.nc.Subscribe(subjectPrefix+gameTypeID, func(m *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(m.Data, &envelope); err != nil {
			return
		}
		handler(envelope)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe room %s: %w", gameTypeID, err)
	}
	return sub, nil
}
