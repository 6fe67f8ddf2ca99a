package app

// Shared-store key layout. Every key is namespaced by game type or round so
// rooms never observe each other's state.

func keyStartLock(gameTypeID string) string {
	return "lock:start:" + gameTypeID
}

func keyStartingLock(roundID string) string {
	return "lock:starting:" + roundID
}

func keyWinnerLock(roundID string) string {
	return "lock:winner:" + roundID
}

func keyActionLock(gameTypeID, playerID string) string {
	return "lock:action:" + gameTypeID + ":" + playerID
}

func keyIdempotency(token string) string {
	return "idem:" + token
}

func keyCardsClaimed(gameTypeID string) string {
	return "cards:claimed:" + gameTypeID
}

func keyCardOwners(gameTypeID string) string {
	return "cards:owner:" + gameTypeID
}

func keyPlayerCards(gameTypeID, playerID string) string {
	return "cards:held:" + gameTypeID + ":" + playerID
}

func keyPresenceConn(playerID, connID string) string {
	return keyPresenceConnPrefix(playerID) + connID
}

func keyPresenceConnPrefix(playerID string) string {
	return "presence:conn:" + playerID + ":"
}

func keyBalance(playerID string) string {
	return "balance:" + playerID
}

func keyDrawOrder(roundID string) string {
	return "draw:order:" + roundID
}

func keyDrawCursor(roundID string) string {
	return "draw:cursor:" + roundID
}

func keyDrawHistory(roundID string) string {
	return "draw:history:" + roundID
}

func keyCountdown(roundID string) string {
	return "countdown:" + roundID
}

func keyLivePlayers(roundID string) string {
	return "players:live:" + roundID
}

func keyRoundActive(roundID string) string {
	return "round:active:" + roundID
}
