package domain

// Pattern is one canonical winning shape on a card.
type Pattern struct {
	Name  string
	Cells []Cell
}

// patterns enumerates the twelve canonical shapes: five rows, five columns,
// both diagonals, and the four corners.
func patterns() []Pattern {
	all := make([]Pattern, 0, 12)
	for row := 0; row < 5; row++ {
		cells := make([]Cell, 5)
		for col := 0; col < 5; col++ {
			cells[col] = Cell{Col: col, Row: row}
		}
		all = append(all, Pattern{Name: rowNames[row], Cells: cells})
	}
	for col := 0; col < 5; col++ {
		cells := make([]Cell, 5)
		for row := 0; row < 5; row++ {
			cells[row] = Cell{Col: col, Row: row}
		}
		all = append(all, Pattern{Name: colNames[col], Cells: cells})
	}
	all = append(all, Pattern{
		Name:  "diagonal-down",
		Cells: []Cell{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}},
	})
	all = append(all, Pattern{
		Name:  "diagonal-up",
		Cells: []Cell{{0, 4}, {1, 3}, {2, 2}, {3, 1}, {4, 0}},
	})
	all = append(all, Pattern{
		Name:  "four-corners",
		Cells: []Cell{{0, 0}, {4, 0}, {0, 4}, {4, 4}},
	})
	return all
}

var rowNames = [5]string{"row-1", "row-2", "row-3", "row-4", "row-5"}
var colNames = [5]string{"column-b", "column-i", "column-n", "column-g", "column-o"}

// Marks computes the satisfied cells of a card: a cell counts when its value
// was both drawn and selected by the player. The free cell always counts.
func Marks(card Card, drawn, selected []int) map[Cell]bool {
	drawnSet := toSet(drawn)
	selectedSet := toSet(selected)

	marks := make(map[Cell]bool)
	marks[FreeCell] = true
	for col := 0; col < 5; col++ {
		for row := 0; row < 5; row++ {
			cell := Cell{Col: col, Row: row}
			if cell == FreeCell {
				continue
			}
			value := card.Value(cell)
			if drawnSet[value] && selectedSet[value] {
				marks[cell] = true
			}
		}
	}
	return marks
}

// CompletePatterns returns every canonical pattern fully satisfied by marks.
func CompletePatterns(card Card, marks map[Cell]bool) []Pattern {
	var complete []Pattern
	for _, pattern := range patterns() {
		satisfied := true
		for _, cell := range pattern.Cells {
			if !marks[cell] {
				satisfied = false
				break
			}
		}
		if satisfied {
			complete = append(complete, pattern)
		}
	}
	return complete
}

// ClosedByRecent reports whether a pattern contains a cell matching one of
// the recently drawn values. A win claimed long after its pattern completed
// is only honored when a recent call still touches the pattern.
func ClosedByRecent(card Card, pattern Pattern, recent []int) bool {
	recentSet := toSet(recent)
	for _, cell := range pattern.Cells {
		if cell == FreeCell {
			continue
		}
		if recentSet[card.Value(cell)] {
			return true
		}
	}
	return false
}

// RecentWindow is how many of the latest draws may close a pattern.
const RecentWindow = 2

// LastDraws returns the up-to-n most recent values of a call history.
func LastDraws(history []int, n int) []int {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) < n {
		n = len(history)
	}
	return history[len(history)-n:]
}

func toSet(values []int) map[int]bool {
	set := make(map[int]bool, len(values))
	for _, value := range values {
		set[value] = true
	}
	return set
}
