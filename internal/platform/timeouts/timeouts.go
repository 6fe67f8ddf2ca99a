// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// RoundLock caps how long a process may hold the per-game round-start lock
// before the shared store expires it.
const RoundLock = 30 * time.Second

// StartingLock caps the countdown-expiry activation race window.
const StartingLock = 10 * time.Second

// WinnerLock caps how long a winning claim may hold the per-round winner
// lock while settlement runs.
const WinnerLock = 15 * time.Second

// ActionLock rejects overlapping card requests from one player for this long.
const ActionLock = 3 * time.Second

// IdempotencyWindow is how long a processed request token stays recorded.
const IdempotencyWindow = 24 * time.Hour

// PresenceMarker bounds a connection liveness marker in the shared store.
const PresenceMarker = 90 * time.Second

// LobbyGrace is the reconnect window after a disconnect during card selection.
const LobbyGrace = 30 * time.Second

// InRoundGrace is the reconnect window after a disconnect during an active round.
const InRoundGrace = 60 * time.Second

// ActiveFlagTTL bounds the fast-store "round is active" cache entry.
const ActiveFlagTTL = 60 * time.Second

// Shutdown limits how long a runtime waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
