package domain

import "testing"

func TestCardForIDDeterministic(t *testing.T) {
	first, err := CardForID("42")
	if err != nil {
		t.Fatalf("card for id: %v", err)
	}
	second, err := CardForID("42")
	if err != nil {
		t.Fatalf("card for id again: %v", err)
	}
	if first.Grid != second.Grid {
		t.Fatal("expected identical grids for the same card id")
	}

	other, err := CardForID("43")
	if err != nil {
		t.Fatalf("card for other id: %v", err)
	}
	if first.Grid == other.Grid {
		t.Fatal("expected different grids for different ids")
	}
}

func TestCardForIDColumnBands(t *testing.T) {
	card, err := CardForID("7")
	if err != nil {
		t.Fatalf("card for id: %v", err)
	}
	for col := 0; col < 5; col++ {
		low := col*bandWidth + 1
		high := (col + 1) * bandWidth
		seen := make(map[int]bool)
		for row := 0; row < 5; row++ {
			cell := Cell{Col: col, Row: row}
			value := card.Value(cell)
			if cell == FreeCell {
				if value != 0 {
					t.Fatalf("free cell = %d, want 0", value)
				}
				continue
			}
			if value < low || value > high {
				t.Fatalf("column %d value %d outside band [%d,%d]", col, value, low, high)
			}
			if seen[value] {
				t.Fatalf("column %d repeats value %d", col, value)
			}
			seen[value] = true
		}
	}
}

func TestCardNumbersCount(t *testing.T) {
	card, err := CardForID("1")
	if err != nil {
		t.Fatalf("card for id: %v", err)
	}
	if got := len(card.Numbers()); got != 24 {
		t.Fatalf("numbers len = %d, want 24", got)
	}
}

func TestLetterBands(t *testing.T) {
	cases := []struct {
		value int
		want  string
	}{
		{1, "B"}, {15, "B"}, {16, "I"}, {30, "I"},
		{31, "N"}, {45, "N"}, {46, "G"}, {60, "G"},
		{61, "O"}, {75, "O"},
	}
	for _, tc := range cases {
		got, err := Letter(tc.value)
		if err != nil {
			t.Fatalf("letter %d: %v", tc.value, err)
		}
		if got != tc.want {
			t.Fatalf("letter(%d) = %q, want %q", tc.value, got, tc.want)
		}
	}
	if _, err := Letter(0); err == nil {
		t.Fatal("expected error for value 0")
	}
	if _, err := Letter(76); err == nil {
		t.Fatal("expected error for value 76")
	}
}

func TestParseCardID(t *testing.T) {
	if id, err := ParseCardID(" 12 "); err != nil || id != "12" {
		t.Fatalf("parse = %q err=%v, want 12 nil", id, err)
	}
	for _, raw := range []string{"", "abc", "-3", "0"} {
		if _, err := ParseCardID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
