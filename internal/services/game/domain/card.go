// Package domain holds the rules of the bingo round lifecycle: cards,
// patterns, draw order, rounds, ledgers, and presence phases. Everything
// here is deterministic and store-free.
package domain

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
)

// CallDomain is the number of callable values in a 75-ball game.
const CallDomain = 75

// bandWidth is the per-column value range (B 1-15, I 16-30, ...).
const bandWidth = CallDomain / 5

// letters indexes the five column bands.
var letters = [5]string{"B", "I", "N", "G", "O"}

// Letter maps a call value to its column band label.
func Letter(value int) (string, error) {
	if value < 1 || value > CallDomain {
		return "", fmt.Errorf("call value %d out of range", value)
	}
	return letters[(value-1)/bandWidth], nil
}

// Card is a 5x5 bingo card. Grid is column-major to match the B-I-N-G-O
// bands; Grid[2][2] is the free cell and holds zero.
type Card struct {
	ID   string
	Grid [5][5]int
}

// Cell addresses one grid position.
type Cell struct {
	Col int
	Row int
}

// FreeCell is the always-satisfied center position.
var FreeCell = Cell{Col: 2, Row: 2}

// CardForID derives the card layout for a card id. The derivation is
// deterministic, so every process agrees on a card's numbers without a
// stored catalog: column c samples five distinct values from its band.
func CardForID(id string) (Card, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Card{}, fmt.Errorf("card id is required")
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte("bingohall.card." + id))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	var card Card
	card.ID = id
	for col := 0; col < 5; col++ {
		base := col*bandWidth + 1
		band := rng.Perm(bandWidth)
		for row := 0; row < 5; row++ {
			card.Grid[col][row] = base + band[row]
		}
	}
	card.Grid[FreeCell.Col][FreeCell.Row] = 0
	return card, nil
}

// Value returns the number at a cell; the free cell yields zero.
func (c Card) Value(cell Cell) int {
	return c.Grid[cell.Col][cell.Row]
}

// Numbers returns every non-free value on the card.
func (c Card) Numbers() []int {
	values := make([]int, 0, 24)
	for col := 0; col < 5; col++ {
		for row := 0; row < 5; row++ {
			if col == FreeCell.Col && row == FreeCell.Row {
				continue
			}
			values = append(values, c.Grid[col][row])
		}
	}
	return values
}

// ParseCardID validates the canonical numeric card id form used at the
// module boundary and returns it normalized.
func ParseCardID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("card id is required")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("card id %q is not a positive number", raw)
	}
	return strconv.Itoa(n), nil
}
