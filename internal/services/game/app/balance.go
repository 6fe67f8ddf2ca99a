package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/louisbranch/bingohall/internal/services/game/storage"
)

// refreshBalance mirrors a player's durable balances into the fast store as
// "main:bonus" cents. Balance lookups read this cache instead of the
// durable store; a missed refresh only leaves the cache stale until the
// next money movement.
func (a *App) refreshBalance(ctx context.Context, playerID string) {
	wallet, err := a.stores.Wallets.GetWallet(ctx, playerID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("load wallet for balance cache player=%s err=%v", playerID, err)
			return
		}
		wallet = storage.Wallet{PlayerID: playerID}
	}
	value := fmt.Sprintf("%d:%d", wallet.MainCents, wallet.BonusCents)
	if err := a.fast.Set(ctx, keyBalance(playerID), value, 0); err != nil {
		log.Printf("cache balance player=%s err=%v", playerID, err)
	}
}
