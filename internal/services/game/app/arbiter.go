package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/bingohall/internal/platform/errors"
	"github.com/louisbranch/bingohall/internal/platform/fastkv"
	"github.com/louisbranch/bingohall/internal/platform/timeouts"
	"github.com/louisbranch/bingohall/internal/services/game/domain"
	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// selectScript reconciles a player's held cards with the desired set in one
// atomic step. Cards the player no longer wants are released first, then
// each new card is claimed; any collision aborts the whole script, so a
// batch either applies fully or not at all.
const selectScript = `
local claimed = KEYS[1]
local owners = KEYS[2]
local held = KEYS[3]
local player = ARGV[1]

local desired = {}
for i = 2, #ARGV do
  desired[ARGV[i]] = true
end

local current = store.smembers(held)
local currentSet = {}
for _, card in ipairs(current) do
  currentSet[card] = true
end

local released = {}
for _, card in ipairs(current) do
  if not desired[card] then
    store.srem(claimed, card)
    store.hdel(owners, card)
    store.srem(held, card)
    released[#released + 1] = card
  end
end

local added = {}
for i = 2, #ARGV do
  local card = ARGV[i]
  if not currentSet[card] then
    local owner = store.hget(owners, card)
    if owner and owner ~= player then
      error("CARD_TAKEN:" .. card)
    end
    store.sadd(claimed, card)
    store.hset(owners, card, player)
    store.sadd(held, card)
    added[#added + 1] = card
  end
end

local out = {}
out[#out + 1] = tostring(#added)
for _, card in ipairs(added) do
  out[#out + 1] = card
end
out[#out + 1] = tostring(#released)
for _, card in ipairs(released) do
  out[#out + 1] = card
end
for _, card in ipairs(store.smembers(held)) do
  out[#out + 1] = card
end
return out
`

// deselectScript releases one card after proving ownership.
const deselectScript = `
local owner = store.hget(KEYS[2], ARGV[2])
if not owner or owner ~= ARGV[1] then
  error("NOT_OWNER:" .. ARGV[2])
end
store.srem(KEYS[1], ARGV[2])
store.hdel(KEYS[2], ARGV[2])
store.srem(KEYS[3], ARGV[2])
`

// releaseAllScript frees every card a player holds and returns them.
const releaseAllScript = `
local released = store.smembers(KEYS[3])
for _, card in ipairs(released) do
  store.srem(KEYS[1], card)
  store.hdel(KEYS[2], card)
end
store.del(KEYS[3])
return released
`

// SelectCardsInput is a batch card selection: the full set the player wants
// to hold after the request.
type SelectCardsInput struct {
	GameTypeID string
	PlayerID   string
	CardIDs    []string
	Token      string // idempotency token, optional
}

// SelectCardsResult reports the arbitration outcome: the cards newly
// claimed, the cards given up, and the full holdings afterwards.
type SelectCardsResult struct {
	Held     []string
	Added    []string
	Released []string
}

// SelectCards arbitrates a card selection batch. The per-player action lock
// serializes rapid-fire requests from multiple tabs; the script makes the
// batch all-or-nothing against other players.
func (a *App) SelectCards(ctx context.Context, input SelectCardsInput) (SelectCardsResult, error) {
	input.GameTypeID = strings.TrimSpace(input.GameTypeID)
	input.PlayerID = strings.TrimSpace(input.PlayerID)
	if input.GameTypeID == "" {
		return SelectCardsResult{}, apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}
	if input.PlayerID == "" {
		return SelectCardsResult{}, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}

	cardIDs := make([]string, 0, len(input.CardIDs))
	for _, raw := range input.CardIDs {
		cardID, err := domain.ParseCardID(raw)
		if err != nil {
			return SelectCardsResult{}, apperrors.WithMetadata(apperrors.CodeCardIDInvalid,
				"card id is invalid", map[string]string{"card_id": raw})
		}
		cardIDs = append(cardIDs, cardID)
	}

	release, err := a.lockPlayerAction(ctx, input.GameTypeID, input.PlayerID)
	if err != nil {
		return SelectCardsResult{}, err
	}
	defer release()

	if err := a.checkIdempotency(ctx, input.Token); err != nil {
		return SelectCardsResult{}, err
	}

	keys := []string{
		keyCardsClaimed(input.GameTypeID),
		keyCardOwners(input.GameTypeID),
		keyPlayerCards(input.GameTypeID, input.PlayerID),
	}
	args := append([]string{input.PlayerID}, cardIDs...)

	out, err := a.fast.Eval(ctx, selectScript, keys, args)
	if err != nil {
		if fastkv.ScriptFailed(err, "CARD_TAKEN") {
			return SelectCardsResult{}, apperrors.WithMetadata(apperrors.CodeCardTaken,
				"card already taken", map[string]string{"card_id": fastkv.ScriptDetail(err, "CARD_TAKEN")})
		}
		return SelectCardsResult{}, apperrors.Wrap(apperrors.CodeInternal, "arbitrate cards", err)
	}
	result, err := parseSelectResult(out)
	if err != nil {
		return SelectCardsResult{}, apperrors.Wrap(apperrors.CodeInternal, "decode arbitration result", err)
	}
	a.recordIdempotency(ctx, input.Token)

	a.enqueueCardReconcile(ctx, input.GameTypeID, input.PlayerID)
	a.notify(input.GameTypeID, EventCardsUpdate, cardsUpdatePayload{
		PlayerID: input.PlayerID,
		Held:     result.Held,
		Added:    result.Added,
		Released: result.Released,
	})
	return result, nil
}

// parseSelectResult splits the script output: an added count and its ids,
// then a released count and its ids, then the remaining holdings.
func parseSelectResult(out []string) (SelectCardsResult, error) {
	next := func() (int, error) {
		if len(out) == 0 {
			return 0, fmt.Errorf("truncated script output")
		}
		n, err := strconv.Atoi(out[0])
		if err != nil || n < 0 || n > len(out)-1 {
			return 0, fmt.Errorf("bad list length %q", out[0])
		}
		out = out[1:]
		return n, nil
	}

	var result SelectCardsResult
	n, err := next()
	if err != nil {
		return SelectCardsResult{}, err
	}
	result.Added, out = out[:n], out[n:]
	if n, err = next(); err != nil {
		return SelectCardsResult{}, err
	}
	result.Released, out = out[:n], out[n:]
	result.Held = out
	return result, nil
}

// DeselectCard releases exactly one held card.
func (a *App) DeselectCard(ctx context.Context, gameTypeID, playerID, rawCardID string) error {
	gameTypeID = strings.TrimSpace(gameTypeID)
	playerID = strings.TrimSpace(playerID)
	if gameTypeID == "" {
		return apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}
	if playerID == "" {
		return apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}
	cardID, err := domain.ParseCardID(rawCardID)
	if err != nil {
		return apperrors.WithMetadata(apperrors.CodeCardIDInvalid,
			"card id is invalid", map[string]string{"card_id": rawCardID})
	}

	release, err := a.lockPlayerAction(ctx, gameTypeID, playerID)
	if err != nil {
		return err
	}
	defer release()

	keys := []string{
		keyCardsClaimed(gameTypeID),
		keyCardOwners(gameTypeID),
		keyPlayerCards(gameTypeID, playerID),
	}
	if _, err := a.fast.Eval(ctx, deselectScript, keys, []string{playerID, cardID}); err != nil {
		if fastkv.ScriptFailed(err, "NOT_OWNER") {
			return apperrors.WithMetadata(apperrors.CodeNotCardOwner,
				"card is not held by player", map[string]string{"card_id": cardID})
		}
		return apperrors.Wrap(apperrors.CodeInternal, "deselect card", err)
	}

	a.enqueueCardReconcile(ctx, gameTypeID, playerID)
	held, err := a.fast.SMembers(ctx, keyPlayerCards(gameTypeID, playerID))
	if err == nil {
		a.notify(gameTypeID, EventCardsUpdate, cardsUpdatePayload{
			PlayerID: playerID,
			Held:     held,
			Released: []string{cardID},
		})
	}
	return nil
}

// ReleaseCards frees every card a player holds in a room. Used when a
// player leaves and by the disconnect cleanup job.
func (a *App) ReleaseCards(ctx context.Context, gameTypeID, playerID string) ([]string, error) {
	gameTypeID = strings.TrimSpace(gameTypeID)
	playerID = strings.TrimSpace(playerID)
	if gameTypeID == "" {
		return nil, apperrors.New(apperrors.CodeGameTypeIDRequired, "game type id is required")
	}
	if playerID == "" {
		return nil, apperrors.New(apperrors.CodePlayerIDRequired, "player id is required")
	}

	keys := []string{
		keyCardsClaimed(gameTypeID),
		keyCardOwners(gameTypeID),
		keyPlayerCards(gameTypeID, playerID),
	}
	released, err := a.fast.Eval(ctx, releaseAllScript, keys, []string{playerID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "release cards", err)
	}
	if len(released) == 0 {
		return nil, nil
	}

	a.enqueueCardReconcile(ctx, gameTypeID, playerID)
	a.notify(gameTypeID, EventCardsUpdate, cardsUpdatePayload{
		PlayerID: playerID,
		Held:     nil,
		Released: released,
	})
	return released, nil
}

// lockPlayerAction takes the short per-player mutex that serializes card
// actions across connections. The returned func releases it.
func (a *App) lockPlayerAction(ctx context.Context, gameTypeID, playerID string) (func(), error) {
	key := keyActionLock(gameTypeID, playerID)
	token, err := a.newID()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "generate lock token", err)
	}
	ok, err := a.fast.SetNX(ctx, key, token, timeouts.ActionLock)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "acquire action lock", err)
	}
	if !ok {
		return nil, apperrors.New(apperrors.CodePlayerBusy, "another action is in flight")
	}
	return func() {
		if _, err := a.fast.CompareAndDelete(context.Background(), key, token); err != nil {
			// The lock TTL covers this; worst case the player waits it out.
			return
		}
	}, nil
}

// checkIdempotency rejects a request token that has already applied. A
// token seen before means the request is a retransmit and must not apply
// twice.
func (a *App) checkIdempotency(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	_, found, err := a.fast.Get(ctx, keyIdempotency(token))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "check idempotency token", err)
	}
	if found {
		return apperrors.New(apperrors.CodeDuplicateRequest, "request already processed")
	}
	return nil
}

// recordIdempotency burns a token once its request has applied. A failed
// attempt never records, so the client can retry with the same token.
func (a *App) recordIdempotency(ctx context.Context, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	if _, err := a.fast.SetNX(ctx, keyIdempotency(token), "1", timeouts.IdempotencyWindow); err != nil {
		log.Printf("record idempotency token err=%v", err)
	}
}

type reconcilePayload struct {
	GameTypeID string `json:"game_type_id"`
	PlayerID   string `json:"player_id"`
}

// enqueueCardReconcile schedules the durable mirror of the player's current
// holdings. Failure only delays durability; the shared store stays
// authoritative for gameplay.
func (a *App) enqueueCardReconcile(ctx context.Context, gameTypeID, playerID string) {
	jobID, err := a.newID()
	if err != nil {
		return
	}
	payload, err := json.Marshal(reconcilePayload{GameTypeID: gameTypeID, PlayerID: playerID})
	if err != nil {
		return
	}
	now := a.now()
	job := storage.Job{
		ID:          jobID,
		Kind:        storage.JobKindReconcile,
		PayloadJSON: string(payload),
		DedupeKey:   fmt.Sprintf("reconcile:%s:%s", gameTypeID, playerID),
		CreatedAt:   now,
	}
	if err := a.stores.Jobs.EnqueueJob(ctx, job); err != nil {
		// Next card action enqueues again.
		return
	}
}
